package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

// InsertTombstone records the retention deadline of a tombstoned version
func (t *Tx) InsertTombstone(ctx context.Context, tomb *types.Tombstone) error {
	err := t.q.QueryRowxContext(ctx,
		`INSERT INTO tombstones (version_id, reason, retention_until)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		tomb.VersionID, tomb.Reason, tomb.RetentionUntil,
	).Scan(&tomb.CreatedAt)
	if err != nil {
		return mapError("insert tombstone", err)
	}
	return nil
}

// GetTombstone fetches the tombstone of a version
func (t *Tx) GetTombstone(ctx context.Context, versionID uuid.UUID) (*types.Tombstone, error) {
	var tomb types.Tombstone
	err := sqlx.GetContext(ctx, t.q, &tomb,
		`SELECT version_id, reason, retention_until, created_at
		 FROM tombstones WHERE version_id = $1`, versionID)
	if err != nil {
		return nil, mapError("get tombstone", err)
	}
	return &tomb, nil
}

// ListExpiredTombstones returns versions whose retention has lapsed, in
// the stable drain order: retention deadline first, then version id.
func (t *Tx) ListExpiredTombstones(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]ExpiredTombstone, error) {
	return listExpiredTombstones(ctx, t.q, tenantID, now, limit)
}

// CountExpiredTombstones counts versions whose retention has lapsed
func (t *Tx) CountExpiredTombstones(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	return countExpiredTombstones(ctx, t.q, tenantID, now)
}

// CountExpiredTombstones is the read-only variant used by dry runs
func (s *PostgresStore) CountExpiredTombstones(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	return countExpiredTombstones(ctx, s.db, tenantID, now)
}

func countExpiredTombstones(ctx context.Context, q sqlx.QueryerContext, tenantID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count,
		`SELECT COUNT(*)
		 FROM tombstones t
		 JOIN versions v ON v.version_id = t.version_id
		 WHERE v.tenant_id = $1 AND t.retention_until <= $2`,
		tenantID, now)
	if err != nil {
		return 0, mapError("count expired tombstones", err)
	}
	return count, nil
}

// ListExpiredTombstones is the read-only variant used by dry runs
func (s *PostgresStore) ListExpiredTombstones(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]ExpiredTombstone, error) {
	return listExpiredTombstones(ctx, s.db, tenantID, now, limit)
}

func listExpiredTombstones(ctx context.Context, q sqlx.QueryerContext, tenantID uuid.UUID, now time.Time, limit int) ([]ExpiredTombstone, error) {
	type row struct {
		VersionID      uuid.UUID `db:"version_id"`
		RetentionUntil time.Time `db:"retention_until"`
	}
	var rows []row
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT t.version_id, t.retention_until
		 FROM tombstones t
		 JOIN versions v ON v.version_id = t.version_id
		 WHERE v.tenant_id = $1 AND t.retention_until <= $2
		 ORDER BY t.retention_until ASC, t.version_id ASC
		 LIMIT $3`,
		tenantID, now, limit)
	if err != nil {
		return nil, mapError("list expired tombstones", err)
	}
	expired := make([]ExpiredTombstone, 0, len(rows))
	for _, r := range rows {
		expired = append(expired, ExpiredTombstone{VersionID: r.VersionID, RetentionUntil: r.RetentionUntil})
	}
	return expired, nil
}

// ListVersionOwnedBlobs returns digests whose only remaining references
// are this version's entries. Blobs shared with another version or held
// by a committed upload session survive the version's deletion.
func (t *Tx) ListVersionOwnedBlobs(ctx context.Context, versionID uuid.UUID) ([]string, error) {
	var digests []string
	err := sqlx.SelectContext(ctx, t.q, &digests,
		`SELECT DISTINCT e.blob_digest
		 FROM artifact_entries e
		 WHERE e.version_id = $1
		   AND NOT EXISTS (
		       SELECT 1 FROM artifact_entries o
		       WHERE o.blob_digest = e.blob_digest AND o.version_id <> $1
		   )
		   AND NOT EXISTS (
		       SELECT 1 FROM upload_sessions u
		       WHERE u.state = 'committed' AND u.committed_blob_digest = e.blob_digest
		   )
		 ORDER BY e.blob_digest`,
		versionID)
	if err != nil {
		return nil, mapError("list version-owned blobs", err)
	}
	return digests, nil
}

// DeleteVersion removes a version row; entries, manifest, tombstone,
// quarantine, evaluations and search jobs cascade with it
func (t *Tx) DeleteVersion(ctx context.Context, versionID uuid.UUID) error {
	res, err := t.q.ExecContext(ctx,
		`DELETE FROM versions WHERE version_id = $1`, versionID)
	if err != nil {
		return mapError("delete version", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return errs.NotFound("version not found")
	}
	return nil
}

// DeleteBlobs removes blob rows and returns their storage keys so the
// caller can delete the backing objects after commit
func (t *Tx) DeleteBlobs(ctx context.Context, digests []string) ([]string, error) {
	if len(digests) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM blobs WHERE digest IN (?) RETURNING storage_key`, digests)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob delete: %w", err)
	}
	var keys []string
	if err := sqlx.SelectContext(ctx, t.q, &keys, t.q.Rebind(query), args...); err != nil {
		return nil, mapError("delete blobs", err)
	}
	return keys, nil
}

const orphanBlobFilter = `NOT EXISTS (
		       SELECT 1 FROM artifact_entries e WHERE e.blob_digest = b.digest
		   )
		   AND NOT EXISTS (
		       SELECT 1 FROM upload_sessions u
		       WHERE u.state = 'committed' AND u.committed_blob_digest = b.digest
		   )
		   AND b.created_at <= $1`

// CountOrphanBlobs counts blobs with no live references created before
// the grace cutoff
func (s *PostgresStore) CountOrphanBlobs(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM blobs b WHERE `+orphanBlobFilter, cutoff)
	if err != nil {
		return 0, mapError("count orphan blobs", err)
	}
	return count, nil
}

// ListOrphanBlobs samples unreferenced blobs in digest order
func (s *PostgresStore) ListOrphanBlobs(ctx context.Context, cutoff time.Time, limit int) ([]*types.Blob, error) {
	return listOrphanBlobs(ctx, s.db, cutoff, limit)
}

// ListOrphanBlobs is the transactional variant used by GC execute
func (t *Tx) ListOrphanBlobs(ctx context.Context, cutoff time.Time, limit int) ([]*types.Blob, error) {
	return listOrphanBlobs(ctx, t.q, cutoff, limit)
}

func listOrphanBlobs(ctx context.Context, q sqlx.QueryerContext, cutoff time.Time, limit int) ([]*types.Blob, error) {
	var rows []types.Blob
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT b.digest, b.length_bytes, b.storage_key, b.created_at
		 FROM blobs b
		 WHERE `+orphanBlobFilter+`
		 ORDER BY b.digest
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, mapError("list orphan blobs", err)
	}
	blobs := make([]*types.Blob, 0, len(rows))
	for i := range rows {
		blobs = append(blobs, &rows[i])
	}
	return blobs, nil
}

// InsertGCRun opens a run record before any deletion happens, so a
// crashed run stays visible as incomplete
func (s *PostgresStore) InsertGCRun(ctx context.Context, run *types.GCRun) (int64, error) {
	err := s.db.QueryRowxContext(ctx,
		`INSERT INTO gc_runs (tenant_id, mode) VALUES ($1, $2)
		 RETURNING id, started_at`,
		run.TenantID, run.Mode,
	).Scan(&run.ID, &run.StartedAt)
	if err != nil {
		return 0, mapError("insert gc run", err)
	}
	return run.ID, nil
}

// CompleteGCRun closes a run record with its final counts
func (s *PostgresStore) CompleteGCRun(ctx context.Context, id int64, counts GCCounts) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE gc_runs
		 SET completed_at = now(),
		     candidate_version_count = $2,
		     candidate_blob_count = $3,
		     deleted_version_count = $4,
		     deleted_blob_count = $5
		 WHERE id = $1`,
		id, counts.CandidateVersions, counts.CandidateBlobs, counts.DeletedVersions, counts.DeletedBlobs)
	if err != nil {
		return mapError("complete gc run", err)
	}
	return nil
}
