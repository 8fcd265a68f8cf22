package api

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

// principal returns the authenticated principal, writing 401 when the
// context has none
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (types.Principal, bool) {
	principal, ok := principalFrom(r.Context())
	if !ok {
		writeError(w, s.logger, errs.Unauthorized("missing bearer token"))
	}
	return principal, ok
}

// pathParam returns a URL parameter with percent-escapes decoded. Repo
// keys may contain characters that only fit a path segment escaped.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// repoFromRequest resolves the {repoKey} path parameter, writing the
// error (404 for an unknown key) when it cannot
func (s *Server) repoFromRequest(w http.ResponseWriter, r *http.Request) (*types.Repo, bool) {
	repo, err := s.mgr.GetRepo(r.Context(), pathParam(r, "repoKey"))
	if err != nil {
		writeError(w, s.logger, err)
		return nil, false
	}
	return repo, true
}

// uuidParam parses a UUID path parameter
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errs.Validationf("%s is not a valid UUID.", name)
	}
	return id, nil
}
