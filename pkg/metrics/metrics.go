package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "artifortress_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Upload metrics
	UploadTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_upload_transitions_total",
			Help: "Total number of upload session transitions by kind",
		},
		[]string{"transition"},
	)

	BlobBytesCommitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifortress_blob_bytes_committed_total",
			Help: "Total bytes accepted into blob storage by committed uploads",
		},
	)

	// Version metrics
	VersionsPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifortress_versions_published_total",
			Help: "Total number of versions published",
		},
	)

	VersionsTombstonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifortress_versions_tombstoned_total",
			Help: "Total number of versions tombstoned",
		},
	)

	// Policy metrics
	PolicyEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_policy_evaluations_total",
			Help: "Total number of policy evaluations by decision",
		},
		[]string{"decision"},
	)

	PolicyTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifortress_policy_timeouts_total",
			Help: "Total number of policy evaluations that timed out and failed closed",
		},
	)

	QuarantineTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_quarantine_transitions_total",
			Help: "Total number of quarantine item transitions by kind",
		},
		[]string{"transition"},
	)

	// Sweep metrics
	SweepCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_sweep_cycles_total",
			Help: "Total number of completed sweep passes by pipeline",
		},
		[]string{"pipeline"},
	)

	SweepItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_sweep_items_total",
			Help: "Total number of items processed by sweep passes, by pipeline and result",
		},
		[]string{"pipeline", "result"},
	)

	// Garbage collection metrics
	GCRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_gc_runs_total",
			Help: "Total number of garbage collection runs by mode",
		},
		[]string{"mode"},
	)

	GCDeletedVersionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifortress_gc_deleted_versions_total",
			Help: "Total number of expired versions deleted by garbage collection",
		},
	)

	GCDeletedBlobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "artifortress_gc_deleted_blobs_total",
			Help: "Total number of blobs deleted by garbage collection",
		},
	)

	OrphanBlobsObserved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_orphan_blobs_observed",
			Help: "Orphan blob count reported by the most recent reconcile pass",
		},
	)

	// Auth metrics
	JWKSRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifortress_jwks_refreshes_total",
			Help: "Total number of remote JWKS refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Backlog gauges, polled from the database by the Collector
	OutboxPendingEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_outbox_pending_events",
			Help: "Undelivered outbox events",
		},
	)

	OutboxAvailableEvents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_outbox_available_events",
			Help: "Undelivered outbox events whose availability time has passed",
		},
	)

	OutboxOldestPendingAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest undelivered outbox event",
		},
	)

	SearchJobsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_search_jobs_pending",
			Help: "Search index jobs not yet completed",
		},
	)

	SearchJobsFailed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_search_jobs_failed",
			Help: "Search index jobs currently in the failed state",
		},
	)

	GCRunsIncomplete = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_gc_runs_incomplete",
			Help: "Garbage collection runs that started but never recorded completion",
		},
	)

	PolicyTimeoutsRecent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "artifortress_policy_timeouts_recent",
			Help: "Policy timeouts recorded in the audit log over the last 24 hours",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(UploadTransitionsTotal)
	prometheus.MustRegister(BlobBytesCommitted)
	prometheus.MustRegister(VersionsPublishedTotal)
	prometheus.MustRegister(VersionsTombstonedTotal)
	prometheus.MustRegister(PolicyEvaluationsTotal)
	prometheus.MustRegister(PolicyTimeoutsTotal)
	prometheus.MustRegister(QuarantineTransitionsTotal)
	prometheus.MustRegister(SweepCyclesTotal)
	prometheus.MustRegister(SweepItemsTotal)
	prometheus.MustRegister(GCRunsTotal)
	prometheus.MustRegister(GCDeletedVersionsTotal)
	prometheus.MustRegister(GCDeletedBlobsTotal)
	prometheus.MustRegister(OrphanBlobsObserved)
	prometheus.MustRegister(JWKSRefreshesTotal)
	prometheus.MustRegister(OutboxPendingEvents)
	prometheus.MustRegister(OutboxAvailableEvents)
	prometheus.MustRegister(OutboxOldestPendingAge)
	prometheus.MustRegister(SearchJobsPending)
	prometheus.MustRegister(SearchJobsFailed)
	prometheus.MustRegister(GCRunsIncomplete)
	prometheus.MustRegister(PolicyTimeoutsRecent)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
