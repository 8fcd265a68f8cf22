package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/security"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// BootstrapSubject is the principal name for the configured bootstrap token
const BootstrapSubject = "bootstrap"

// Authenticator resolves a bearer credential to a principal. Resolution
// order: bootstrap token, PAT by hash, OIDC JWS. The first credential type
// that recognizes the bearer decides the outcome; a recognized but invalid
// credential denies instead of falling through.
type Authenticator struct {
	bootstrapToken string
	tokens         *TokenService
	oidc           *OIDCValidator
	store          storage.Store
	logger         zerolog.Logger
}

// NewAuthenticator wires the resolution chain from configuration. The OIDC
// validator is only constructed when enabled.
func NewAuthenticator(cfg config.AuthConfig, store storage.Store, tokens *TokenService, logger zerolog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		bootstrapToken: cfg.BootstrapToken,
		tokens:         tokens,
		store:          store,
		logger:         logger.With().Str("component", "auth").Logger(),
	}
	if cfg.OIDC.Enabled {
		oidc, err := NewOIDCValidator(cfg.OIDC, logger)
		if err != nil {
			return nil, err
		}
		a.oidc = oidc
	}
	return a, nil
}

// Authenticate resolves the bearer to a principal or Unauthorized.
func (a *Authenticator) Authenticate(ctx context.Context, tenantID uuid.UUID, bearer string) (types.Principal, error) {
	if bearer == "" {
		return types.Principal{}, errs.Unauthorized("missing bearer token")
	}

	if a.bootstrapToken != "" && security.ConstantTimeEquals(bearer, a.bootstrapToken) {
		return types.Principal{
			Subject:    BootstrapSubject,
			Scopes:     []types.Scope{{RepoKey: "*", Role: types.RoleAdmin}},
			AuthSource: types.AuthSourceBootstrap,
		}, nil
	}

	principal, err := a.tokens.Resolve(ctx, tenantID, bearer)
	switch {
	case err == nil:
		return a.withBindings(ctx, tenantID, principal), nil
	case errs.IsKind(err, errs.KindNotFound):
		// Not a known PAT; fall through to OIDC.
	default:
		return types.Principal{}, err
	}

	if a.oidc != nil {
		principal, err = a.oidc.Validate(ctx, bearer)
		if err != nil {
			return types.Principal{}, err
		}
		return a.withBindings(ctx, tenantID, principal), nil
	}

	return types.Principal{}, errs.Unauthorized("invalid bearer token")
}

// withBindings folds stored role bindings for the subject into the scope
// set. Bindings only ever add grants, so a lookup failure degrades to the
// credential's own scopes rather than failing the request.
func (a *Authenticator) withBindings(ctx context.Context, tenantID uuid.UUID, principal types.Principal) types.Principal {
	bindings, err := a.store.ListBindingsBySubject(ctx, tenantID, principal.Subject)
	if err != nil {
		a.logger.Warn().Err(err).Str("subject", principal.Subject).Msg("role binding lookup failed")
		return principal
	}
	if len(bindings) == 0 {
		return principal
	}

	seen := make(map[types.Scope]struct{}, len(principal.Scopes))
	for _, scope := range principal.Scopes {
		seen[scope] = struct{}{}
	}
	for _, binding := range bindings {
		for _, role := range binding.Roles {
			scope := types.Scope{RepoKey: binding.RepoKey, Role: role}
			if _, dup := seen[scope]; dup {
				continue
			}
			seen[scope] = struct{}{}
			principal.Scopes = append(principal.Scopes, scope)
		}
	}
	return principal
}
