/*
Package api implements the Artifortress HTTP API server and its JSON wire
conversions.

The api package is the single external surface of a deployment: one
listener carries the versioned /v1 resource routes, the health probes,
and the Prometheus scrape endpoint. Every resource route authenticates a
bearer token, authorizes against repo-scoped role bindings, and delegates
to the Manager's services; handlers never reach around the service layer
into storage for writes.

# Architecture

	┌──────────────────────── CLIENT ─────────────────────────┐
	│                                                          │
	│   HTTP + JSON, bearer token in Authorization header      │
	└───────────────────────────┬──────────────────────────────┘
	                            │
	┌───────────────────────────▼──── LISTENER ───────────────┐
	│                                                          │
	│  /health, /health/ready, /health/live   (probes)         │
	│  /metrics                               (Prometheus)     │
	│                                                          │
	│  /v1/auth/saml/*        unauthenticated SSO exchange     │
	│  /v1/**                 authenticated resource routes    │
	│                                                          │
	│  middleware: request id, real ip, logging, recovery,     │
	│              instrumentation, CORS, authenticate         │
	└───────────────────────────┬──────────────────────────────┘
	                            │
	┌───────────────────────────▼──── MANAGER ────────────────┐
	│                                                          │
	│  tokens / uploads / publish / policy / lifecycle /       │
	│  outbox services over PostgreSQL + object storage        │
	└──────────────────────────────────────────────────────────┘

# Core Components

Server: owns the http.Server and the chi router. Handler() returns the
fully assembled router so tests can drive the complete middleware stack
through httptest without binding a port.

Middleware: logRequests writes one structured line per request,
recoverPanics converts handler panics into 500 envelopes, instrument
labels the Prometheus counters with the matched chi route pattern so
path parameters never explode label cardinality, and authenticate
resolves the bearer token to a principal stored in the request context.

Wire types: domain structs carry db tags only, so every response passes
through a small converter (repoToWire, versionToWire, ...) that fixes
the JSON field names independently of the storage layout.

Error envelope: service errors carry a kind and a stable machine code;
writeError maps the kind to the HTTP status and renders

	{"error": "<code>", "message": "<human text>", ...context}

Internal causes are logged server-side and never leak to the client.

# Authorization

Repo-scoped routes resolve {repoKey}, then check the principal's scopes
against the required role for that repo. Write implies read, admin
implies everything. Deployment-level routes (repo administration,
bindings, PAT issuance, /v1/admin/*, /v1/audit) require the admin role
on the wildcard scope. /v1/auth/whoami accepts any authenticated
principal.

# Usage

	srv := api.NewServer(mgr, cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("api server failed")
		}
	}()
	...
	srv.Shutdown(ctx)

# See Also

  - pkg/manager: service wiring behind every handler
  - pkg/auth: bearer authentication and role checks
  - pkg/metrics: the counters the instrument middleware feeds
  - pkg/health: the probe handlers mounted on /health/ready and
    /health/live
*/
package api
