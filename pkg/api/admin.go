package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/lifecycle"
	"github.com/artifortress/artifortress/pkg/types"
)

const (
	defaultReconcileLimit = 100
	defaultAuditLimit     = 100
	maxAuditLimit         = 1000
)

// requireAdmin gates the deployment-admin surface
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	principal, ok := s.principal(w, r)
	if !ok {
		return types.Principal{}, false
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return types.Principal{}, false
	}
	return principal, true
}

func (s *Server) handleRunGC(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.requireAdmin(w, r)
	if !ok {
		return
	}
	var req lifecycle.GCRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	result, err := s.mgr.Lifecycle().Run(r.Context(), s.mgr.Tenant(), principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcileBlobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	limit := defaultReconcileLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, s.logger, errs.Validation("limit must be an integer."))
			return
		}
		limit = parsed
	}
	result, err := s.mgr.Lifecycle().ReconcileBlobs(r.Context(), limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOpsSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	summary, err := s.mgr.Store().OpsSummary(r.Context(), time.Now())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, opsSummaryToWire(summary))
}

func (s *Server) handleSweepOutbox(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	outcome, err := s.mgr.Outbox().SweepOutbox(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleSweepJobs(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	outcome, err := s.mgr.Outbox().SweepJobs(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, s.logger, errs.Validation("limit must be a positive integer."))
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	records, err := s.mgr.Store().ListAudit(r.Context(), s.mgr.Tenant().TenantID, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]auditWire, 0, len(records))
	for _, rec := range records {
		out = append(out, auditToWire(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
