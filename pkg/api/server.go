package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/health"
	"github.com/artifortress/artifortress/pkg/manager"
	"github.com/artifortress/artifortress/pkg/metrics"
)

// Server serves the HTTP API on a single listener: the /v1 resource
// routes, the health endpoints, and /metrics.
type Server struct {
	mgr    *manager.Manager
	cfg    config.ServerConfig
	logger zerolog.Logger
	http   *http.Server
}

// NewServer builds the API server around a wired Manager
func NewServer(mgr *manager.Manager, cfg config.ServerConfig, logger zerolog.Logger) *Server {
	s := &Server{
		mgr:    mgr,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the configured router. Exposed so tests can drive the
// full middleware stack through httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Range", "X-Checksum-Sha256", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", metrics.HealthHandler())
	r.Get("/health/ready", health.ReadyHandler(s.mgr.Health()))
	r.Get("/health/live", health.LiveHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The SAML endpoints are reachable without a bearer: metadata is
		// public and the ACS consumes the IdP response to mint one.
		r.Get("/auth/saml/metadata", s.handleSAMLMetadata)
		r.Post("/auth/saml/acs", s.handleSAMLACS)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Post("/auth/pats", s.handleIssuePAT)
			r.Post("/auth/pats/revoke", s.handleRevokePAT)
			r.Get("/auth/whoami", s.handleWhoami)

			r.Post("/repos", s.handleCreateRepo)
			r.Get("/repos", s.handleListRepos)
			r.Route("/repos/{repoKey}", func(r chi.Router) {
				r.Get("/", s.handleGetRepo)
				r.Delete("/", s.handleDeleteRepo)

				r.Put("/bindings/{subject}", s.handlePutBinding)
				r.Get("/bindings/{subject}", s.handleGetBinding)
				r.Delete("/bindings/{subject}", s.handleDeleteBinding)

				r.Post("/uploads", s.handleCreateUpload)
				r.Post("/uploads/{uploadID}/parts", s.handlePresignPart)
				r.Post("/uploads/{uploadID}/complete", s.handleCompleteUpload)
				r.Post("/uploads/{uploadID}/abort", s.handleAbortUpload)
				r.Post("/uploads/{uploadID}/commit", s.handleCommitUpload)

				r.Get("/blobs/{digest}", s.handleDownloadBlob)

				r.Post("/packages/versions/drafts", s.handleCreateDraft)
				r.Get("/packages/versions", s.handleListVersions)
				r.Route("/packages/versions/{versionID}", func(r chi.Router) {
					r.Get("/", s.handleGetVersion)
					r.Post("/entries", s.handleUpsertEntries)
					r.Put("/manifest", s.handlePutManifest)
					r.Get("/manifest", s.handleGetManifest)
					r.Post("/publish", s.handlePublishVersion)
					r.Post("/tombstone", s.handleTombstoneVersion)
				})

				r.Post("/policy/evaluations", s.handleEvaluatePolicy)
				r.Get("/quarantine", s.handleListQuarantine)
				r.Post("/quarantine/{quarantineID}/release", s.handleReleaseQuarantine)
				r.Post("/quarantine/{quarantineID}/reject", s.handleRejectQuarantine)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Post("/gc/runs", s.handleRunGC)
				r.Get("/reconcile/blobs", s.handleReconcileBlobs)
				r.Get("/ops/summary", s.handleOpsSummary)
				r.Post("/outbox/sweep", s.handleSweepOutbox)
				r.Post("/jobs/sweep", s.handleSweepJobs)
			})

			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	metrics.UpdateComponent("api", true, "listening on "+s.cfg.Listen)
	s.logger.Info().Str("listen", s.cfg.Listen).Msg("api server listening")

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured grace period
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent("api", false, "draining")
	s.logger.Info().Msg("api server draining")

	grace := time.Duration(s.cfg.ShutdownGraceSeconds) * time.Second
	if grace > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, grace)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
