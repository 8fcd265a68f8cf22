/*
Package auth resolves bearer credentials to principals and answers
authorization questions for repository-scoped operations.

Every request enters with at most one bearer token. The authenticator
tries each credential type in a fixed order and the first type that
recognizes the token decides the outcome:

	┌──────────────────────────────────────────────────────────┐
	│                  Bearer resolution order                 │
	└──────┬──────────────────┬──────────────────┬─────────────┘
	       │                  │                  │
	       ▼                  ▼                  ▼
	┌─────────────┐    ┌─────────────┐    ┌─────────────┐
	│  Bootstrap  │    │     PAT     │    │    OIDC     │
	│ (constant-  │    │  (SHA-256   │    │ (HS256 and/ │
	│  time cmp)  │    │   lookup)   │    │  or RS256)  │
	└─────────────┘    └─────────────┘    └─────────────┘

A recognized but invalid credential (revoked PAT, expired JWT) denies
immediately; only an unrecognized one falls through to the next type.
SAML has no entry in the chain: the ACS exchanges an IdP assertion for a
short-lived PAT up front, so by the time requests arrive the caller is an
ordinary PAT principal.

# Principals and Scopes

Successful resolution yields a Principal carrying the subject, an auth
source and a scope set. A scope is a (repoKey, role) grant serialized as
"repo:<key|*>:<role>". Roles order as read < write < admin, with promote
as a separate grant for policy and quarantine decisions.

Scopes come from three places and are unioned:

  - The credential itself: PAT stored scopes, or the OIDC "scope" claim.
  - Claim-role mappings: configured "claim|value|repoPattern|role"
    entries promote IdP claims (for example a groups attribute) to
    scopes when the credential carries no explicit scope claim.
  - Stored role bindings: per-repository grants managed over the API,
    folded in by subject name for PAT and OIDC principals.

The bootstrap principal skips binding lookup; it is always exactly
"repo:*:admin".

HasRole answers the authorization question: does any scope match the
repository (exact key after normalization, or "*") with a role that
implies the required one? Adding scopes can only turn a false answer
true, never the reverse.

# Personal Access Tokens

TokenService mints tokens with 256 bits of entropy and returns the
plaintext exactly once. Only the lowercase-hex SHA-256 of the plaintext
is stored, so a database leak does not leak usable credentials and a
lost plaintext cannot be recovered. Validation hashes the presented
value and looks the hash up; revocation and expiry both deny. Issuance
and revocation write their audit record in the same transaction as the
token row.

# OIDC

OIDCValidator accepts compact JWS tokens. The allowed algorithm set is
derived from configuration: HS256 when a shared secret is set, RS256
when any JWKS source is. RS256 verification keys come from a merged
set:

	static fallback JWKS  ∪  remote JWKS (refreshed)

The static set parsed at startup is never dropped. The remote document
is fetched lazily at most once per refresh interval with a bounded
timeout; concurrent requests share one fetch through a single-flight
lock, and a failed fetch keeps the previously fetched keys. Key
rotation at the IdP therefore cannot take validation down, only delay
new keys by one interval.

Issuer, audience and expiry are enforced on every token. RS256 tokens
must name a kid known to the merged set.

# SAML

SAMLService implements the assertion consumer service. It accepts the
base64-encoded XML response from the IdP POST binding, checks response
status, issuer, audience restriction and the assertion validity window,
extracts the subject NameID and attribute statement, applies the
claim-role mappings, and mints a PAT whose TTL is configured separately
from user-issued tokens. The SP metadata document is served for IdP
configuration.

# Usage

	tokens := auth.NewTokenService(store, logger)
	authn, err := auth.NewAuthenticator(cfg.Auth, store, tokens, logger)
	if err != nil {
		return err
	}

	principal, err := authn.Authenticate(ctx, tenantID, bearer)
	if err != nil {
		return err // Unauthorized
	}
	if err := auth.RequireRole(principal, "maven-releases", types.RoleWrite); err != nil {
		return err // Forbidden
	}
*/
package auth
