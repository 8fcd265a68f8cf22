package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

type tokenRow struct {
	types.Token
	ScopesRaw []byte `db:"scopes"`
}

func (r *tokenRow) toToken() *types.Token {
	token := r.Token
	token.Scopes = parseScopes(r.ScopesRaw)
	return &token
}

// InsertToken persists a personal access token. Only the SHA-256 hash of
// the secret is stored; callers hold the plaintext exactly once.
func (s *PostgresStore) InsertToken(ctx context.Context, token *types.Token) error {
	return insertToken(ctx, s.db, token)
}

// InsertToken persists a token in the surrounding transaction, so
// issuance commits together with its audit record
func (t *Tx) InsertToken(ctx context.Context, token *types.Token) error {
	return insertToken(ctx, t.q, token)
}

func insertToken(ctx context.Context, q sqlx.ExtContext, token *types.Token) error {
	if token.TokenID == uuid.Nil {
		token.TokenID = uuid.New()
	}
	scopes, err := marshalScopes(token.Scopes)
	if err != nil {
		return fmt.Errorf("failed to encode scopes: %w", err)
	}
	err = q.QueryRowxContext(ctx,
		`INSERT INTO tokens (token_id, tenant_id, subject, token_hash, scopes, expires_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 RETURNING id, created_at`,
		token.TokenID, token.TenantID, token.Subject, token.TokenHash, scopes, token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return mapError("insert token", err)
	}
	return nil
}

// GetTokenByHash resolves a token by the SHA-256 hex of its secret.
// Validity (expiry, revocation) is the caller's concern.
func (s *PostgresStore) GetTokenByHash(ctx context.Context, tenantID uuid.UUID, hash string) (*types.Token, error) {
	var row tokenRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, token_id, tenant_id, subject, token_hash, scopes, created_at, expires_at, revoked_at
		 FROM tokens WHERE tenant_id = $1 AND token_hash = $2`, tenantID, hash)
	if err != nil {
		return nil, mapError("get token", err)
	}
	return row.toToken(), nil
}

// RevokeToken marks a token revoked. Revoking an already-revoked token
// is a no-op; an unknown token id is NotFound.
func (s *PostgresStore) RevokeToken(ctx context.Context, tenantID, tokenID uuid.UUID) error {
	return revokeToken(ctx, s.db, tenantID, tokenID)
}

// RevokeToken revokes inside the surrounding transaction
func (t *Tx) RevokeToken(ctx context.Context, tenantID, tokenID uuid.UUID) error {
	return revokeToken(ctx, t.q, tenantID, tokenID)
}

func revokeToken(ctx context.Context, q sqlx.ExtContext, tenantID, tokenID uuid.UUID) error {
	res, err := q.ExecContext(ctx,
		`UPDATE tokens SET revoked_at = COALESCE(revoked_at, now())
		 WHERE tenant_id = $1 AND token_id = $2`, tenantID, tokenID)
	if err != nil {
		return mapError("revoke token", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return errs.NotFound("token not found")
	}
	return nil
}
