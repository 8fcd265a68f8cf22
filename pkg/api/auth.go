package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

func (s *Server) handleIssuePAT(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req auth.IssueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	tenant := s.mgr.Tenant()
	issued, err := s.mgr.Tokens().Issue(r.Context(), tenant.TenantID, principal.Subject, req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

type revokeTokenRequest struct {
	TokenID uuid.UUID `json:"tokenId"`
}

func (s *Server) handleRevokePAT(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	if err := auth.RequireRole(principal, "*", types.RoleAdmin); err != nil {
		writeError(w, s.logger, err)
		return
	}
	var req revokeTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.TokenID == uuid.Nil {
		writeError(w, s.logger, errs.Validation("tokenId is required."))
		return
	}
	tenant := s.mgr.Tenant()
	if err := s.mgr.Tokens().Revoke(r.Context(), tenant.TenantID, req.TokenID, principal.Subject); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tokenId": req.TokenID,
		"revoked": true,
	})
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject":    principal.Subject,
		"scopes":     types.ScopeStrings(principal.Scopes),
		"authSource": principal.AuthSource,
	})
}

func (s *Server) handleSAMLMetadata(w http.ResponseWriter, r *http.Request) {
	saml := s.mgr.SAML()
	if saml == nil {
		writeError(w, s.logger, errs.NotFound("saml is not enabled"))
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	doc, err := saml.Metadata(scheme + "://" + r.Host + "/v1/auth/saml/acs")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (s *Server) handleSAMLACS(w http.ResponseWriter, r *http.Request) {
	saml := s.mgr.SAML()
	if saml == nil {
		writeError(w, s.logger, errs.NotFound("saml is not enabled"))
		return
	}
	tenant := s.mgr.Tenant()
	if tenant == nil {
		writeError(w, s.logger, errs.Unavailable("not_ready", "tenant not resolved yet"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, s.logger, errs.Validation("request body is not a valid form."))
		return
	}
	encoded := r.PostFormValue("SAMLResponse")
	if encoded == "" {
		writeError(w, s.logger, errs.Validation("SAMLResponse form field is required."))
		return
	}
	issued, err := saml.Exchange(r.Context(), tenant.TenantID, encoded)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issued)
}
