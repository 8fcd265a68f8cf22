/*
Package health provides live dependency probes for Artifortress readiness.

The package implements two probes, one per hard dependency: PostgreSQL (the
truth store) and the S3 object store (the byte store). A Registry runs them
in order and renders the readiness report served on /health/ready. Liveness
is separate and checks nothing external.

# Architecture

	┌──────────────────────────────────────────────────────────┐
	│                    Readiness Probes                      │
	└────┬─────────────────────────────────────────────────────┘
	     │
	     ▼
	┌──────────────────────────────────────────────────────────┐
	│                   Checker Interface                      │
	│  • Check(ctx) Result                                     │
	│  • Name() string                                         │
	└───────┬──────────────────────────────────────────────────┘
	        │
	   ┌────┴─────────┐
	   ▼              ▼
	┌──────────┐  ┌─────────────┐
	│ Postgres │  │ ObjectStore │
	│ Checker  │  │ Checker     │
	└──────────┘  └─────────────┘
	     │              │
	     ▼              ▼
	 SELECT 1      HEAD bucket

# Probe Semantics

PostgresChecker issues SELECT 1 through the storage layer rather than a
pool ping: a ping can succeed against a server that refuses queries.

ObjectStoreChecker heads the bucket through the client's circuit breaker.
When the breaker is open the probe fails immediately, which is the right
answer: the process would refuse blob operations anyway.

Each probe runs under its own timeout (default 5s), so one hung dependency
delays the report by at most that long.

# Readiness vs Liveness

/health/ready runs the probes on every request and answers

	{"status": "ready", "dependencies": [
	  {"name": "postgres", "healthy": true},
	  {"name": "objectstore", "healthy": true}
	]}

with 503 whenever any dependency is unhealthy. Load balancers drain a
not_ready instance; the body names the failing probe.

/health/live always answers 200 while the process serves requests. A dead
dependency must not make an orchestrator restart a healthy process, so
liveness deliberately checks nothing external.

# Usage

	registry := health.NewRegistry(
		health.NewPostgresChecker(store),
		health.NewObjectStoreChecker(objects),
	)

	router.Get("/health/ready", health.ReadyHandler(registry))
	router.Get("/health/live", health.LiveHandler())

Registry.Results returns full results with messages and durations for the
ops loop that feeds component status into the metrics health registry.
*/
package health
