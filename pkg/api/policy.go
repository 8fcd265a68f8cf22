package api

import (
	"net/http"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/policy"
	"github.com/artifortress/artifortress/pkg/types"
)

func (s *Server) handleEvaluatePolicy(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RolePromote); err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req policy.EvaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	verdict, err := s.mgr.Policy().Evaluate(r.Context(), s.mgr.Tenant(), repo, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, verdict)
}

func (s *Server) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RolePromote); err != nil {
		writeError(w, s.logger, err)
		return
	}
	items, err := s.mgr.Policy().ListQuarantine(r.Context(), s.mgr.Tenant(), repo, r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]quarantineWire, 0, len(items))
	for _, item := range items {
		out = append(out, quarantineToWire(item))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": out})
}

func (s *Server) handleReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RolePromote); err != nil {
		writeError(w, s.logger, err)
		return
	}
	quarantineID, err := uuidParam(r, "quarantineID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	item, err := s.mgr.Policy().Release(r.Context(), s.mgr.Tenant(), repo, quarantineID, principal.Subject)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quarantineToWire(item))
}

func (s *Server) handleRejectQuarantine(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RolePromote); err != nil {
		writeError(w, s.logger, err)
		return
	}
	quarantineID, err := uuidParam(r, "quarantineID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	item, err := s.mgr.Policy().Reject(r.Context(), s.mgr.Tenant(), repo, quarantineID, principal.Subject)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, quarantineToWire(item))
}
