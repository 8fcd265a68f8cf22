/*
Package metrics provides Prometheus metrics collection and exposition for
Artifortress.

The metrics package defines and registers every Artifortress metric using the
Prometheus client library, providing observability into request traffic, the
upload and publish pipeline, policy enforcement, background sweeps, and
garbage collection. Metrics are exposed via HTTP endpoint for scraping by
Prometheus servers.

# Architecture

Counters are incremented at two kinds of sources. Hot-path concerns (HTTP
requests, upload transitions, policy evaluations, JWKS refreshes) update
their metrics directly at the call site. Background outcomes flow through
the in-process event broker so the producing loops stay decoupled from the
metrics registry. Backlog gauges come from a periodic database poll.

	┌───────────────────── METRICS SYSTEM ─────────────────────┐
	│                                                           │
	│  ┌─────────────┐   ┌──────────────┐   ┌───────────────┐  │
	│  │  API        │   │ uploads      │   │ auth (JWKS)   │  │
	│  │  middleware │   │ policy       │   │               │  │
	│  └──────┬──────┘   └──────┬───────┘   └──────┬────────┘  │
	│         │ direct Inc/Observe on package vars │           │
	│         ▼                 ▼                  ▼           │
	│  ┌────────────────────────────────────────────────────┐  │
	│  │              Prometheus Registry                   │  │
	│  │  - Global DefaultRegistry                          │  │
	│  │  - MustRegister at package init                    │  │
	│  └───────────▲──────────────────────────▲─────────────┘  │
	│              │                          │                │
	│  ┌───────────┴───────────┐   ┌──────────┴────────────┐   │
	│  │  Collector (events)   │   │  Collector (poll)     │   │
	│  │  sweep.* gc.* counts  │   │  OpsSummary gauges    │   │
	│  │  publish/tombstone/   │   │  every 15s            │   │
	│  │  quarantine counts    │   │                       │   │
	│  └───────────▲───────────┘   └──────────▲────────────┘   │
	│              │                          │                │
	│       event broker                  PostgreSQL           │
	│   (sweeper, lifecycle,                                   │
	│    publish, policy)                                      │
	│                                                           │
	│  Exposition: /metrics via promhttp.Handler()              │
	└───────────────────────────────────────────────────────────┘

# Metrics Catalog

API metrics:

artifortress_api_requests_total{method, route, status}:
  - Type: Counter
  - Description: Total API requests by method, route pattern and status
  - Example: artifortress_api_requests_total{method="GET",route="/v1/repos/{repoKey}/blobs/{digest}",status="206"} 40

artifortress_api_request_duration_seconds{method, route}:
  - Type: Histogram
  - Description: API request duration in seconds
  - Buckets: Default Prometheus buckets

Upload metrics:

artifortress_upload_transitions_total{transition}:
  - Type: Counter
  - Description: Upload session transitions (started, deduped, part_presigned,
    completed, committed, verification_failed, aborted)

artifortress_blob_bytes_committed_total:
  - Type: Counter
  - Description: Bytes accepted into blob storage by committed uploads

Version metrics:

artifortress_versions_published_total:
  - Type: Counter
  - Description: Versions that reached the published state

artifortress_versions_tombstoned_total:
  - Type: Counter
  - Description: Published versions retired to tombstoned

Policy metrics:

artifortress_policy_evaluations_total{decision}:
  - Type: Counter
  - Description: Policy verdicts recorded (allow, quarantine, deny)

artifortress_policy_timeouts_total:
  - Type: Counter
  - Description: Evaluations that exceeded the engine deadline and failed closed

artifortress_quarantine_transitions_total{transition}:
  - Type: Counter
  - Description: Quarantine item transitions (imposed, released, rejected)

Sweep metrics:

artifortress_sweep_cycles_total{pipeline}:
  - Type: Counter
  - Description: Completed sweep passes for the outbox and jobs pipelines

artifortress_sweep_items_total{pipeline, result}:
  - Type: Counter
  - Description: Items processed per pass (delivered, requeued, completed, failed)

Garbage collection metrics:

artifortress_gc_runs_total{mode}:
  - Type: Counter
  - Description: GC runs by mode (dry_run, execute)

artifortress_gc_deleted_versions_total:
  - Type: Counter
  - Description: Expired versions removed by GC

artifortress_gc_deleted_blobs_total:
  - Type: Counter
  - Description: Blobs removed by GC

artifortress_orphan_blobs_observed:
  - Type: Gauge
  - Description: Orphan count reported by the latest reconcile pass

Auth metrics:

artifortress_jwks_refreshes_total{outcome}:
  - Type: Counter
  - Description: Remote JWKS fetch attempts (ok, error)

Backlog gauges (polled every 15s from a single summary query):

artifortress_outbox_pending_events:
  - Undelivered outbox events

artifortress_outbox_available_events:
  - Undelivered events whose availability time has passed

artifortress_outbox_oldest_pending_age_seconds:
  - Age of the oldest undelivered event

artifortress_search_jobs_pending / artifortress_search_jobs_failed:
  - Search index job backlog by state

artifortress_gc_runs_incomplete:
  - GC runs that started but never recorded completion

artifortress_policy_timeouts_recent:
  - Policy timeouts recorded in the audit log over the last 24 hours

# Usage

Updating counters directly:

	import "github.com/artifortress/artifortress/pkg/metrics"

	metrics.UploadTransitionsTotal.WithLabelValues("committed").Inc()
	metrics.BlobBytesCommitted.Add(float64(lengthBytes))

Recording request durations with the Timer helper:

	timer := metrics.NewTimer()
	// ... handle request ...
	timer.ObserveDurationVec(metrics.APIRequestDuration, method, route)

Running the collector:

	collector := metrics.NewCollector(store, broker)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

# Health Endpoints

The package also carries the process health registry. Subsystems register
themselves as they come up and update their status as they run:

	metrics.RegisterComponent("postgres", true, "")
	metrics.UpdateComponent("objectstore", false, "bucket probe failed")

Readiness requires every critical component (postgres, objectstore, api) to
be registered and healthy. HealthHandler, ReadyHandler and LivenessHandler
serve /health, /ready and /live on the ops listener.

# Design Patterns

Package init registration:
  - All metrics registered in init() via MustRegister
  - Metrics available before main() runs, no caller setup

Label discipline:
  - route labels use the chi route pattern, never the raw URL, so
    cardinality stays bounded by the route table
  - digests, version ids and tenant ids never appear as label values

Double-count rule:
  - A metric is owned either by its call site or by the collector's
    event fold, never both. Upload and policy counters are call-site
    owned; their broker events feed the live tail only.

# Monitoring

Prometheus queries (PromQL):

Pipeline health:
  - Outbox lag: artifortress_outbox_oldest_pending_age_seconds
  - Delivery rate: rate(artifortress_sweep_items_total{pipeline="outbox",result="delivered"}[5m])
  - Stuck jobs: artifortress_search_jobs_failed

API performance:
  - Request rate: rate(artifortress_api_requests_total[1m])
  - Error rate: rate(artifortress_api_requests_total{status=~"5.."}[1m])
  - p95 latency: histogram_quantile(0.95, artifortress_api_request_duration_seconds_bucket)

Policy posture:
  - Timeout rate: rate(artifortress_policy_timeouts_total[5m])
  - Quarantine inflow: rate(artifortress_quarantine_transitions_total{transition="imposed"}[1h])

Storage hygiene:
  - Orphan drift: artifortress_orphan_blobs_observed
  - Incomplete runs: artifortress_gc_runs_incomplete
*/
package metrics
