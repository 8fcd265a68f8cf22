package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

const (
	testIssuer   = "https://idp.test"
	testAudience = "artifortress"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

func hs256Config() config.OIDCConfig {
	return config.OIDCConfig{
		Enabled:           true,
		Issuer:            testIssuer,
		Audience:          testAudience,
		HS256SharedSecret: testSecret,
	}
}

func validClaims(subject string) jwt.Claims {
	now := time.Now()
	return jwt.Claims{
		Issuer:   testIssuer,
		Subject:  subject,
		Audience: jwt.Audience{testAudience},
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func signHS256(t *testing.T, secret string, claims jwt.Claims, extra map[string]interface{}) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: []byte(secret)},
		(&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	builder := jwt.Signed(signer).Claims(claims)
	if extra != nil {
		builder = builder.Claims(extra)
	}
	raw, err := builder.Serialize()
	require.NoError(t, err)
	return raw
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.Claims, extra map[string]interface{}) string {
	t.Helper()
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.RS256,
		Key: jose.JSONWebKey{
			Key:       key,
			KeyID:     kid,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		},
	}, (&jose.SignerOptions{}).WithType("JWT"))
	require.NoError(t, err)

	builder := jwt.Signed(signer).Claims(claims)
	if extra != nil {
		builder = builder.Claims(extra)
	}
	raw, err := builder.Serialize()
	require.NoError(t, err)
	return raw
}

func jwksJSON(t *testing.T, kid string, key *rsa.PrivateKey) string {
	t.Helper()
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &key.PublicKey,
		KeyID:     kid,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	out, err := json.Marshal(set)
	require.NoError(t, err)
	return string(out)
}

func TestOIDCValidatorHS256(t *testing.T) {
	v, err := NewOIDCValidator(hs256Config(), zerolog.Nop())
	require.NoError(t, err)

	raw := signHS256(t, testSecret, validClaims("user-1"), map[string]interface{}{
		"scope": "repo:libs:write repo:*:read",
	})
	principal, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "user-1", principal.Subject)
	assert.Equal(t, types.AuthSourceOIDC, principal.AuthSource)
	assert.ElementsMatch(t, []types.Scope{
		{RepoKey: "libs", Role: types.RoleWrite},
		{RepoKey: "*", Role: types.RoleRead},
	}, principal.Scopes)
}

func TestOIDCValidatorRejections(t *testing.T) {
	v, err := NewOIDCValidator(hs256Config(), zerolog.Nop())
	require.NoError(t, err)

	wrongIssuer := validClaims("user-1")
	wrongIssuer.Issuer = "https://evil.test"

	wrongAudience := validClaims("user-1")
	wrongAudience.Audience = jwt.Audience{"someone-else"}

	expired := validClaims("user-1")
	expired.Expiry = jwt.NewNumericDate(time.Now().Add(-10 * time.Minute))

	noSubject := validClaims("")

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"wrong secret", signHS256(t, "another-secret-another-secret-ab", validClaims("user-1"), nil), "token signature mismatch"},
		{"issuer mismatch", signHS256(t, testSecret, wrongIssuer, nil), "token issuer mismatch"},
		{"audience mismatch", signHS256(t, testSecret, wrongAudience, nil), "token audience mismatch"},
		{"expired", signHS256(t, testSecret, expired, nil), "token is expired"},
		{"missing subject", signHS256(t, testSecret, noSubject, nil), "token is missing a subject"},
		{"not a jws", "definitely-not-a-token", "malformed or unsupported token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(context.Background(), tt.token)
			require.Error(t, err)
			assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.reason)
		})
	}
}

func TestOIDCValidatorRoleMappingFallback(t *testing.T) {
	cfg := hs256Config()
	cfg.RoleMappings = "groups|af-admins|*|admin,groups|af-writers|libs|write"
	v, err := NewOIDCValidator(cfg, zerolog.Nop())
	require.NoError(t, err)

	raw := signHS256(t, testSecret, validClaims("admin-1"), map[string]interface{}{
		"groups": []string{"af-admins"},
	})
	principal, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, []types.Scope{{RepoKey: "*", Role: types.RoleAdmin}}, principal.Scopes)
}

func TestOIDCValidatorRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	cfg := config.OIDCConfig{
		Enabled:  true,
		Issuer:   testIssuer,
		Audience: testAudience,
		JwksJSON: jwksJSON(t, "kid-a", key),
	}
	v, err := NewOIDCValidator(cfg, zerolog.Nop())
	require.NoError(t, err)

	raw := signRS256(t, key, "kid-a", validClaims("rsa-user"), map[string]interface{}{
		"scope": "repo:docker-local:read",
	})
	principal, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "rsa-user", principal.Subject)
	assert.Equal(t, []types.Scope{{RepoKey: "docker-local", Role: types.RoleRead}}, principal.Scopes)

	t.Run("unknown kid", func(t *testing.T) {
		raw := signRS256(t, key, "kid-b", validClaims("rsa-user"), nil)
		_, err := v.Validate(context.Background(), raw)
		require.Error(t, err)
		assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
		assert.Contains(t, err.Error(), "unknown key")
	})

	t.Run("hs256 token rejected when only rs256 configured", func(t *testing.T) {
		raw := signHS256(t, testSecret, validClaims("user-1"), nil)
		_, err := v.Validate(context.Background(), raw)
		require.Error(t, err)
		assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
	})
}

func TestNewOIDCValidatorRequiresMaterial(t *testing.T) {
	_, err := NewOIDCValidator(config.OIDCConfig{
		Enabled:  true,
		Issuer:   testIssuer,
		Audience: testAudience,
	}, zerolog.Nop())
	require.Error(t, err)
}

func TestJWKSCacheRemoteFetch(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	remote := jwksJSON(t, "kid-remote", key)

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(remote))
	}))
	defer server.Close()

	cache, err := NewJWKSCache("", server.URL, time.Hour, 2*time.Second, zerolog.Nop())
	require.NoError(t, err)

	keys := cache.KeysByID(context.Background(), "kid-remote")
	require.Len(t, keys, 1)
	assert.Equal(t, "kid-remote", keys[0].KeyID)

	// Within the refresh interval the second lookup serves from cache.
	_ = cache.KeysByID(context.Background(), "kid-remote")
	assert.Equal(t, int32(1), hits.Load())
}

func TestJWKSCacheFailedRefreshKeepsKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	remote := jwksJSON(t, "kid-remote", key)

	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(remote))
	}))
	defer server.Close()

	staticKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// Zero refresh interval forces a fetch attempt on every lookup.
	cache, err := NewJWKSCache(jwksJSON(t, "kid-static", staticKey), server.URL, 0, 2*time.Second, zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, cache.KeysByID(context.Background(), "kid-remote"), 1)

	fail.Store(true)

	// The previously fetched remote key and the static fallback both
	// survive a failing endpoint.
	assert.Len(t, cache.KeysByID(context.Background(), "kid-remote"), 1)
	assert.Len(t, cache.KeysByID(context.Background(), "kid-static"), 1)
}
