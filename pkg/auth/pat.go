package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/audit"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/security"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// TokenService issues, resolves and revokes personal access tokens. Only
// the SHA-256 hash of a token reaches the truth store; the plaintext is
// handed to the caller exactly once at issuance.
type TokenService struct {
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewTokenService creates a token service
func NewTokenService(store storage.Store, logger zerolog.Logger) *TokenService {
	return &TokenService{
		store:  store,
		logger: logger.With().Str("component", "tokens").Logger(),
		now:    time.Now,
	}
}

// IssueTokenRequest is the input for minting a PAT
type IssueTokenRequest struct {
	Subject    string   `json:"subject"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttlSeconds"`
}

// IssuedToken carries the one-time plaintext alongside the stored fields
type IssuedToken struct {
	Token     string    `json:"token"`
	TokenID   uuid.UUID `json:"tokenId"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issue mints a PAT and records the issuance in the same transaction.
// Scope strings are validated strictly here; lenient parsing applies only
// to already-stored tokens.
func (s *TokenService) Issue(ctx context.Context, tenantID uuid.UUID, actor string, req IssueTokenRequest) (*IssuedToken, error) {
	if req.Subject == "" {
		return nil, errs.Validation("subject is required")
	}
	if req.TTLSeconds <= 0 {
		return nil, errs.Validation("ttlSeconds must be positive")
	}
	if len(req.Scopes) == 0 {
		return nil, errs.Validation("at least one scope is required")
	}
	scopes := make([]types.Scope, 0, len(req.Scopes))
	for _, raw := range req.Scopes {
		scope, err := types.ParseScope(raw)
		if err != nil {
			return nil, errs.Validationf("invalid scope: %v", err)
		}
		scopes = append(scopes, scope)
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	return s.mint(ctx, tenantID, actor, req.Subject, scopes, ttl)
}

// IssueForSubject mints a PAT with pre-resolved scopes, used by the SAML
// exchange. An empty scope set is permitted: the resulting token still
// authenticates the subject even when no mapping granted a role.
func (s *TokenService) IssueForSubject(ctx context.Context, tenantID uuid.UUID, actor, subject string, scopes []types.Scope, ttl time.Duration) (*IssuedToken, error) {
	if subject == "" {
		return nil, errs.Validation("subject is required")
	}
	if ttl <= 0 {
		return nil, errs.Validation("token ttl must be positive")
	}
	return s.mint(ctx, tenantID, actor, subject, scopes, ttl)
}

func (s *TokenService) mint(ctx context.Context, tenantID uuid.UUID, actor, subject string, scopes []types.Scope, ttl time.Duration) (*IssuedToken, error) {
	plaintext, err := security.NewToken()
	if err != nil {
		return nil, errs.Internal(err)
	}

	token := &types.Token{
		TokenID:   uuid.New(),
		TenantID:  tenantID,
		Subject:   subject,
		TokenHash: security.HashToken(plaintext),
		Scopes:    scopes,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.InsertToken(ctx, token); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenantID, audit.ActionTokenIssued, actor, audit.ResourceToken, token.TokenID.String(), map[string]interface{}{
			"subject":   token.Subject,
			"scopes":    types.ScopeStrings(scopes),
			"expiresAt": token.ExpiresAt,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("token_id", token.TokenID.String()).
		Str("subject", token.Subject).
		Msg("issued PAT")

	return &IssuedToken{
		Token:     plaintext,
		TokenID:   token.TokenID,
		Subject:   token.Subject,
		Scopes:    types.ScopeStrings(scopes),
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Revoke marks a token revoked and audits the revocation atomically.
// Revoking an already revoked token succeeds without clearing the original
// revocation time.
func (s *TokenService) Revoke(ctx context.Context, tenantID, tokenID uuid.UUID, actor string) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.RevokeToken(ctx, tenantID, tokenID); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenantID, audit.ActionTokenRevoked, actor, audit.ResourceToken, tokenID.String(), nil))
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("token_id", tokenID.String()).Msg("revoked PAT")
	return nil
}

// Resolve validates a presented plaintext against the stored hash. A hash
// miss returns NotFound so the caller can try the next credential type; a
// known but revoked or expired token is a hard Unauthorized.
func (s *TokenService) Resolve(ctx context.Context, tenantID uuid.UUID, plaintext string) (types.Principal, error) {
	token, err := s.store.GetTokenByHash(ctx, tenantID, security.HashToken(plaintext))
	if err != nil {
		if errs.IsKind(err, errs.KindNotFound) {
			return types.Principal{}, errs.NotFound("token not found")
		}
		return types.Principal{}, err
	}
	if !token.Valid(s.now()) {
		reason := "token is expired"
		if token.RevokedAt != nil {
			reason = "token is revoked"
		}
		return types.Principal{}, errs.Unauthorized(reason)
	}
	return types.Principal{
		Subject:    token.Subject,
		Scopes:     token.Scopes,
		AuthSource: types.AuthSourcePAT,
	}, nil
}
