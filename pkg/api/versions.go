package api

import (
	"net/http"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/lifecycle"
	"github.com/artifortress/artifortress/pkg/publish"
	"github.com/artifortress/artifortress/pkg/types"
)

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RoleWrite); err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req publish.CreateDraftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	version, reused, err := s.mgr.Publish().CreateDraft(r.Context(), s.mgr.Tenant(), repo, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	writeJSON(w, status, draftWire{
		versionWire: versionToWire(version),
		ReusedDraft: reused,
	})
}

// draftWire widens the version wire shape with the reuse flag
type draftWire struct {
	versionWire
	ReusedDraft bool `json:"reusedDraft"`
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RoleRead); err != nil {
		writeError(w, s.logger, err)
		return
	}
	versions, err := s.mgr.Store().ListVersionsInRepo(r.Context(), s.mgr.Tenant().TenantID, repo.RepoID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	out := make([]versionWire, 0, len(versions))
	for _, version := range versions {
		out = append(out, versionToWire(version))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": out})
}

// versionDetail widens the version wire shape with its entries
type versionDetail struct {
	versionWire
	Entries []entryWire `json:"entries"`
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RoleRead); err != nil {
		writeError(w, s.logger, err)
		return
	}
	versionID, err := uuidParam(r, "versionID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	version, err := s.mgr.Store().GetVersionInRepo(r.Context(), s.mgr.Tenant().TenantID, repo.RepoID, versionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	entries, err := s.mgr.Store().ListEntries(r.Context(), versionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	flat := make([]types.ArtifactEntry, 0, len(entries))
	for _, entry := range entries {
		flat = append(flat, *entry)
	}
	writeJSON(w, http.StatusOK, versionDetail{
		versionWire: versionToWire(version),
		Entries:     entriesToWire(flat),
	})
}

func (s *Server) handleUpsertEntries(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RoleWrite); err != nil {
		writeError(w, s.logger, err)
		return
	}
	versionID, err := uuidParam(r, "versionID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req publish.UpsertEntriesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	entries, err := s.mgr.Publish().UpsertEntries(r.Context(), s.mgr.Tenant(), repo, versionID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"versionId": versionID,
		"entries":   entriesToWire(entries),
	})
}

func (s *Server) handlePutManifest(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RoleWrite); err != nil {
		writeError(w, s.logger, err)
		return
	}
	versionID, err := uuidParam(r, "versionID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req publish.UpsertManifestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	manifest, err := s.mgr.Publish().UpsertManifest(r.Context(), s.mgr.Tenant(), repo, versionID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestToWire(manifest))
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	repo, ok := s.repoFromRequest(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, repo.RepoKey, types.RoleRead); err != nil {
		writeError(w, s.logger, err)
		return
	}
	versionID, err := uuidParam(r, "versionID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	// Scope the lookup to the repo before touching the manifest table.
	if _, err := s.mgr.Store().GetVersionInRepo(r.Context(), s.mgr.Tenant().TenantID, repo.RepoID, versionID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	manifest, err := s.mgr.Store().GetManifest(r.Context(), versionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestToWire(manifest))
}

func (s *Server) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
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
	versionID, err := uuidParam(r, "versionID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	result, err := s.mgr.Publish().Publish(r.Context(), s.mgr.Tenant(), repo, versionID, principal.Subject)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTombstoneVersion(w http.ResponseWriter, r *http.Request) {
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
	versionID, err := uuidParam(r, "versionID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req lifecycle.TombstoneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	result, err := s.mgr.Lifecycle().Tombstone(r.Context(), s.mgr.Tenant(), repo, versionID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
