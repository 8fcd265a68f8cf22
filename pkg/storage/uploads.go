package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/types"
)

// NextUploadSessionID reserves the next session row id. The id is part
// of the canonical staging key, so it must exist before the row does.
func (s *PostgresStore) NextUploadSessionID(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT nextval('upload_session_id_seq')`)
	if err != nil {
		return 0, mapError("next upload session id", err)
	}
	return id, nil
}

// InsertUploadSession persists a session with its pre-allocated id.
// Deduplicated sessions arrive already committed.
func (s *PostgresStore) InsertUploadSession(ctx context.Context, session *types.UploadSession) error {
	return insertUploadSession(ctx, s.db, session)
}

// InsertUploadSession persists a session in the surrounding transaction
func (t *Tx) InsertUploadSession(ctx context.Context, session *types.UploadSession) error {
	return insertUploadSession(ctx, t.q, session)
}

func insertUploadSession(ctx context.Context, q sqlx.ExtContext, session *types.UploadSession) error {
	err := q.QueryRowxContext(ctx,
		`INSERT INTO upload_sessions
		   (id, upload_id, tenant_id, repo_id, expected_digest, expected_length,
		    storage_upload_id, object_staging_key, state, created_by_subject,
		    expires_at, committed_blob_digest, deduped, abort_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING created_at`,
		session.ID, session.UploadID, session.TenantID, session.RepoID,
		session.ExpectedDigest, session.ExpectedLength, session.StorageUploadID,
		session.ObjectStagingKey, session.State, session.CreatedBySubject,
		session.ExpiresAt, session.CommittedBlobDigest, session.Deduped, session.AbortReason,
	).Scan(&session.CreatedAt)
	if err != nil {
		return mapError("insert upload session", err)
	}
	return nil
}

// GetUploadSession fetches a session scoped to its tenant and repo
func (s *PostgresStore) GetUploadSession(ctx context.Context, tenantID, repoID, uploadID uuid.UUID) (*types.UploadSession, error) {
	var session types.UploadSession
	err := s.db.GetContext(ctx, &session,
		`SELECT id, upload_id, tenant_id, repo_id, expected_digest, expected_length,
		        storage_upload_id, object_staging_key, state, created_by_subject,
		        created_at, expires_at, committed_blob_digest, deduped, abort_reason
		 FROM upload_sessions
		 WHERE tenant_id = $1 AND repo_id = $2 AND upload_id = $3`,
		tenantID, repoID, uploadID)
	if err != nil {
		return nil, mapError("get upload session", err)
	}
	return &session, nil
}

// TransitionUploadSession moves a session from any of the given source
// states to the target state. Returns false when the row was not in a
// source state, which callers turn into a state-machine Conflict.
func (s *PostgresStore) TransitionUploadSession(ctx context.Context, uploadID uuid.UUID, from []types.UploadSessionState, to types.UploadSessionState, abortReason *string) (bool, error) {
	return transitionUploadSession(ctx, s.db, uploadID, from, to, abortReason)
}

// TransitionUploadSession transitions in the surrounding transaction, so
// the state change commits together with its audit record
func (t *Tx) TransitionUploadSession(ctx context.Context, uploadID uuid.UUID, from []types.UploadSessionState, to types.UploadSessionState, abortReason *string) (bool, error) {
	return transitionUploadSession(ctx, t.q, uploadID, from, to, abortReason)
}

func transitionUploadSession(ctx context.Context, q sqlx.ExtContext, uploadID uuid.UUID, from []types.UploadSessionState, to types.UploadSessionState, abortReason *string) (bool, error) {
	states := make([]string, 0, len(from))
	for _, st := range from {
		states = append(states, string(st))
	}
	query, args, err := sqlx.In(
		`UPDATE upload_sessions
		 SET state = ?, abort_reason = COALESCE(?, abort_reason)
		 WHERE upload_id = ? AND state IN (?)`,
		string(to), abortReason, uploadID, states)
	if err != nil {
		return false, fmt.Errorf("failed to build transition query: %w", err)
	}
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return false, mapError("transition upload session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpsertBlob records a content-addressed blob, keeping the original row
// on digest collision so storage keys stay stable.
func (t *Tx) UpsertBlob(ctx context.Context, blob *types.Blob) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO blobs (digest, length_bytes, storage_key)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (digest) DO NOTHING`,
		blob.Digest, blob.LengthBytes, blob.StorageKey)
	if err != nil {
		return mapError("upsert blob", err)
	}
	return nil
}

// SetUploadCommitted finalizes a verified session inside the commit
// transaction
func (t *Tx) SetUploadCommitted(ctx context.Context, uploadID uuid.UUID, digest string, deduped bool) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE upload_sessions
		 SET state = 'committed', committed_blob_digest = $2, deduped = $3
		 WHERE upload_id = $1 AND state = 'pending_commit'`,
		uploadID, digest, deduped)
	if err != nil {
		return false, mapError("commit upload session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetBlob fetches a blob by digest
func (s *PostgresStore) GetBlob(ctx context.Context, digest string) (*types.Blob, error) {
	return getBlob(ctx, s.db, digest)
}

// GetBlob fetches a blob by digest inside a transaction
func (t *Tx) GetBlob(ctx context.Context, digest string) (*types.Blob, error) {
	return getBlob(ctx, t.q, digest)
}

func getBlob(ctx context.Context, q sqlx.QueryerContext, digest string) (*types.Blob, error) {
	var blob types.Blob
	err := sqlx.GetContext(ctx, q, &blob,
		`SELECT digest, length_bytes, storage_key, created_at FROM blobs WHERE digest = $1`, digest)
	if err != nil {
		return nil, mapError("get blob", err)
	}
	return &blob, nil
}

// BlobVisibleInRepo reports whether a digest is downloadable from a
// repo: it must be referenced by a committed session in that repo or by
// an artifact entry of one of the repo's versions.
func (s *PostgresStore) BlobVisibleInRepo(ctx context.Context, tenantID, repoID uuid.UUID, digest string) (bool, error) {
	var visible bool
	err := s.db.GetContext(ctx, &visible,
		`SELECT EXISTS (
		     SELECT 1 FROM upload_sessions
		     WHERE tenant_id = $1 AND repo_id = $2 AND state = 'committed'
		       AND committed_blob_digest = $3
		 ) OR EXISTS (
		     SELECT 1 FROM artifact_entries e
		     JOIN versions v ON v.version_id = e.version_id
		     WHERE v.tenant_id = $1 AND v.repo_id = $2 AND e.blob_digest = $3
		 )`, tenantID, repoID, digest)
	if err != nil {
		return false, mapError("check blob visibility", err)
	}
	return visible, nil
}

// BlobQuarantinedInRepo reports whether any version in the repo that
// references the digest is quarantined or rejected. Released quarantine
// does not block; other repos are unaffected.
func (s *PostgresStore) BlobQuarantinedInRepo(ctx context.Context, tenantID, repoID uuid.UUID, digest string) (bool, error) {
	var blocked bool
	err := s.db.GetContext(ctx, &blocked,
		`SELECT EXISTS (
		     SELECT 1 FROM artifact_entries e
		     JOIN versions v ON v.version_id = e.version_id
		     JOIN quarantine_items q ON q.tenant_id = v.tenant_id AND q.version_id = v.version_id
		     WHERE v.tenant_id = $1 AND v.repo_id = $2 AND e.blob_digest = $3
		       AND q.status IN ('quarantined', 'rejected')
		 )`, tenantID, repoID, digest)
	if err != nil {
		return false, mapError("check blob quarantine", err)
	}
	return blocked, nil
}
