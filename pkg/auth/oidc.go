package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

// OIDCValidator validates compact JWS bearer tokens. HS256 verifies against
// the shared secret, RS256 against the merged JWKS; only the algorithms
// with configured material are accepted at parse time.
type OIDCValidator struct {
	issuer   string
	audience string
	secret   []byte
	jwks     *JWKSCache
	mappings []RoleMapping
	algs     []jose.SignatureAlgorithm
	logger   zerolog.Logger
	now      func() time.Time
}

// NewOIDCValidator builds the validator from configuration. At least one of
// the HS256 secret or an RS256 key source must be present.
func NewOIDCValidator(cfg config.OIDCConfig, logger zerolog.Logger) (*OIDCValidator, error) {
	jwks, err := NewJWKSCache(cfg.JwksJSON, cfg.JwksURL,
		time.Duration(cfg.JwksRefreshSeconds)*time.Second,
		time.Duration(cfg.JwksRefreshTimeoutSeconds)*time.Second,
		logger)
	if err != nil {
		return nil, err
	}
	mappings, err := ParseRoleMappings(cfg.RoleMappings)
	if err != nil {
		return nil, err
	}

	v := &OIDCValidator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		jwks:     jwks,
		mappings: mappings,
		logger:   logger.With().Str("component", "oidc").Logger(),
		now:      time.Now,
	}
	if cfg.HS256SharedSecret != "" {
		v.secret = []byte(cfg.HS256SharedSecret)
		v.algs = append(v.algs, jose.HS256)
	}
	if jwks.HasKeys() {
		v.algs = append(v.algs, jose.RS256)
	}
	if len(v.algs) == 0 {
		return nil, errors.New("OIDC is enabled but neither an HS256 secret nor a JWKS source is configured")
	}
	return v, nil
}

// Validate checks a compact JWS and resolves it to a principal. All
// failures are Unauthorized; the reason string is safe to return to the
// caller.
func (v *OIDCValidator) Validate(ctx context.Context, raw string) (types.Principal, error) {
	tok, err := jwt.ParseSigned(raw, v.algs)
	if err != nil {
		return types.Principal{}, errs.Unauthorized("malformed or unsupported token")
	}
	if len(tok.Headers) != 1 {
		return types.Principal{}, errs.Unauthorized("token must carry exactly one signature")
	}
	header := tok.Headers[0]

	var claims jwt.Claims
	var rawClaims map[string]interface{}
	switch jose.SignatureAlgorithm(header.Algorithm) {
	case jose.HS256:
		if len(v.secret) == 0 {
			return types.Principal{}, errs.Unauthorized("HS256 tokens are not accepted")
		}
		if err := tok.Claims(v.secret, &claims, &rawClaims); err != nil {
			return types.Principal{}, errs.Unauthorized("token signature mismatch")
		}
	case jose.RS256:
		if header.KeyID == "" {
			return types.Principal{}, errs.Unauthorized("token is missing a kid header")
		}
		keys := v.jwks.KeysByID(ctx, header.KeyID)
		if len(keys) == 0 {
			return types.Principal{}, errs.Unauthorized("token signed with an unknown key")
		}
		verified := false
		for _, key := range keys {
			if err := tok.Claims(key, &claims, &rawClaims); err == nil {
				verified = true
				break
			}
		}
		if !verified {
			return types.Principal{}, errs.Unauthorized("token signature mismatch")
		}
	default:
		return types.Principal{}, errs.Unauthorized("unsupported token algorithm")
	}

	expected := jwt.Expected{
		Issuer:      v.issuer,
		AnyAudience: jwt.Audience{v.audience},
		Time:        v.now(),
	}
	if err := claims.Validate(expected); err != nil {
		return types.Principal{}, errs.Unauthorized(claimError(err))
	}
	if claims.Subject == "" {
		return types.Principal{}, errs.Unauthorized("token is missing a subject")
	}

	return types.Principal{
		Subject:    claims.Subject,
		Scopes:     v.scopesFor(rawClaims),
		AuthSource: types.AuthSourceOIDC,
	}, nil
}

// scopesFor reads the space-delimited scope claim; when it is absent the
// configured role mappings derive scopes from the remaining claims.
func (v *OIDCValidator) scopesFor(rawClaims map[string]interface{}) []types.Scope {
	if s, ok := rawClaims["scope"].(string); ok && strings.TrimSpace(s) != "" {
		return types.ParseScopes(strings.Fields(s))
	}
	return ApplyRoleMappings(v.mappings, claimValues(rawClaims))
}

// claimValues flattens claims to the string lists role mappings match on
func claimValues(rawClaims map[string]interface{}) map[string][]string {
	values := make(map[string][]string, len(rawClaims))
	for name, raw := range rawClaims {
		switch c := raw.(type) {
		case string:
			values[name] = []string{c}
		case []interface{}:
			list := make([]string, 0, len(c))
			for _, item := range c {
				if s, ok := item.(string); ok {
					list = append(list, s)
				}
			}
			if len(list) > 0 {
				values[name] = list
			}
		}
	}
	return values
}

func claimError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "token is expired"
	case errors.Is(err, jwt.ErrInvalidIssuer):
		return "token issuer mismatch"
	case errors.Is(err, jwt.ErrInvalidAudience):
		return "token audience mismatch"
	case errors.Is(err, jwt.ErrNotValidYet):
		return "token is not valid yet"
	default:
		return "token claims rejected"
	}
}
