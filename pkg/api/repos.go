package api

import (
	"net/http"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/manager"
	"github.com/artifortress/artifortress/pkg/types"
)

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req manager.CreateRepoRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	repo, err := s.mgr.CreateRepo(r.Context(), principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, repoToWire(repo))
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	repos, err := s.mgr.ListRepos(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]repoWire, 0, len(repos))
	for _, repo := range repos {
		out = append(out, repoToWire(repo))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"repos": out})
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, repoToWire(repo))
}

func (s *Server) handleDeleteRepo(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.mgr.DeleteRepo(r.Context(), principal.Subject, pathParam(r, "repoKey")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type putBindingRequest struct {
	Roles []string `json:"roles"`
}

func (s *Server) handlePutBinding(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req putBindingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	binding, err := s.mgr.PutBinding(r.Context(), principal.Subject, pathParam(r, "repoKey"), pathParam(r, "subject"), req.Roles)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bindingToWire(pathParam(r, "repoKey"), binding))
}

func (s *Server) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	binding, err := s.mgr.GetBinding(r.Context(), pathParam(r, "repoKey"), pathParam(r, "subject"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, bindingToWire(pathParam(r, "repoKey"), binding))
}

func (s *Server) handleDeleteBinding(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.mgr.DeleteBinding(r.Context(), principal.Subject, pathParam(r, "repoKey"), pathParam(r, "subject")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
