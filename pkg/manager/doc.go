/*
Package manager wires the Artifortress services into one deployment.

The manager package is the composition root of the server process. It owns
the event broker, constructs the domain services on top of the shared
PostgreSQL store and S3 object store, resolves the deployment tenant at
startup, and drives the background sweeps. The HTTP API layer talks only
to the Manager; it never constructs services itself.

# Architecture

One Manager per process, one tenant per deployment:

	┌────────────────────── SERVER PROCESS ──────────────────────┐
	│                                                             │
	│  ┌──────────────────────────────────────────────┐          │
	│  │           HTTP API Server (chi)               │          │
	│  │  - /v1 resource routes                        │          │
	│  │  - /health, /metrics                          │          │
	│  └──────────────────┬───────────────────────────┘          │
	│                     │                                       │
	│  ┌──────────────────▼───────────────────────────┐          │
	│  │              Manager                          │          │
	│  │  - Resolves the deployment tenant             │          │
	│  │  - Repo and role binding administration       │          │
	│  │  - Blob visibility and quarantine gating      │          │
	│  │  - Hands out the domain services              │          │
	│  └───────┬──────────┬──────────┬────────────────┘          │
	│          │          │          │                            │
	│  ┌───────▼───┐ ┌────▼────┐ ┌───▼──────────────┐            │
	│  │ uploads   │ │ publish │ │ policy           │            │
	│  │ lifecycle │ │ outbox  │ │ auth (PAT/OIDC/  │            │
	│  │           │ │ sweeper │ │ SAML)            │            │
	│  └───────┬───┘ └────┬────┘ └───┬──────────────┘            │
	│          │          │          │                            │
	│  ┌───────▼──────────▼──────────▼────────────────┐          │
	│  │     storage.Store (PostgreSQL, serializable)  │          │
	│  │     objectstore.Client (S3 multipart)         │          │
	│  │     events.Broker (in-process pub/sub)        │          │
	│  └──────────────────────────────────────────────┘          │
	└─────────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Composition root; builds every service in New
  - Bootstrap resolves the configured tenant (EnsureTenant)
  - Start launches the sweeper, metrics collector, and health watch
  - Stop halts background work; the store stays with whoever opened it

Repo administration:
  - CreateRepo validates shape per repo type before touching the store
  - Mutations and their audit records commit in one transaction
  - DeleteRepo maps a foreign key violation to Conflict (repo not empty)

Role bindings:
  - PutBinding replaces the full role set for a subject on a repo
  - Roles are parsed and deduplicated before the upsert

Service access:
  - Accessors hand the domain services to the API layer
  - Downloads, publishes, and evaluations run inside those services; the
    Manager never re-implements their gating

# Lifecycle

	cfg  := config.Load(...)
	store, _ := storage.New(...)
	objects, _ := objectstore.New(...)

	mgr, err := manager.New(cfg, store, objects, logger)
	if err != nil { ... }
	if err := mgr.Start(ctx); err != nil { ... }
	defer mgr.Stop()

New wires everything but runs no queries; construction only fails on
unusable auth or SAML configuration. Start is where the first database
round trip happens (tenant resolution), so a down database surfaces as a
startup error rather than a wedged process. Stop drains the sweep loops,
the collector, the health watch, and the broker, in that order.

# Tenant Model

This build runs single-tenant: the configured slug is resolved once at
startup and every tenant_id in the schema carries that resolution. The
Manager refuses requests that arrive before Bootstrap has completed
rather than serving them against a nil tenant.

# Component Health

The Manager folds the dependency probes (postgres, objectstore) into the
component health registry every 15 seconds, so /health reflects reality
without probing on every request. The readiness endpoint performs live
probes instead; the two views serve different consumers.

# Integration Points

  - pkg/api: HTTP handlers call Manager methods and the accessor services
  - pkg/storage: all state flows through the Store interface
  - pkg/events: services publish domain events through the shared broker
  - pkg/outbox: the sweeper delivers events and leases jobs
  - pkg/metrics: collector gauges and component health

# See Also

  - pkg/uploads for the session state machine
  - pkg/publish for drafts and version publication
  - pkg/policy for evaluation and quarantine
  - pkg/lifecycle for tombstones and garbage collection
*/
package manager
