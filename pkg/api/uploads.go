package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/types"
	"github.com/artifortress/artifortress/pkg/uploads"
)

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
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
	var req uploads.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	session, err := s.mgr.Uploads().Create(r.Context(), s.mgr.Tenant(), repo, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	status := http.StatusCreated
	if session.Deduped {
		status = http.StatusOK
	}
	writeJSON(w, status, sessionToWire(session))
}

func (s *Server) handlePresignPart(w http.ResponseWriter, r *http.Request) {
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
	uploadID, err := uuidParam(r, "uploadID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req uploads.PresignPartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	part, err := s.mgr.Uploads().PresignPart(r.Context(), s.mgr.Tenant(), repo, uploadID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, part)
}

func (s *Server) handleCompleteUpload(w http.ResponseWriter, r *http.Request) {
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
	uploadID, err := uuidParam(r, "uploadID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req uploads.CompleteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	session, err := s.mgr.Uploads().Complete(r.Context(), s.mgr.Tenant(), repo, uploadID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToWire(session))
}

func (s *Server) handleAbortUpload(w http.ResponseWriter, r *http.Request) {
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
	uploadID, err := uuidParam(r, "uploadID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req uploads.AbortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	session, err := s.mgr.Uploads().Abort(r.Context(), s.mgr.Tenant(), repo, uploadID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToWire(session))
}

func (s *Server) handleCommitUpload(w http.ResponseWriter, r *http.Request) {
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
	uploadID, err := uuidParam(r, "uploadID")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	session, err := s.mgr.Uploads().Commit(r.Context(), s.mgr.Tenant(), repo, uploadID, principal.Subject)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToWire(session))
}

func (s *Server) handleDownloadBlob(w http.ResponseWriter, r *http.Request) {
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
	dl, err := s.mgr.Uploads().Download(r.Context(), s.mgr.Tenant(), repo, pathParam(r, "digest"), r.Header.Get("Range"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Checksum-Sha256", dl.Digest)
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Length(), 10))
	if dl.Ranged {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", dl.Start, dl.End, dl.Total))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if _, err := io.Copy(w, dl.Body); err != nil {
		s.logger.Warn().Err(err).Str("digest", dl.Digest).Msg("blob stream interrupted")
	}
}
