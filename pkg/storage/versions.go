package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/types"
)

const versionColumns = `id, version_id, tenant_id, repo_id, package_type, package_namespace,
	package_name, version, state, created_by_subject, created_at, published_at`

// GetVersionByIdentity resolves a version by its normalized natural key.
// A missing namespace and an empty one compare equal.
func (t *Tx) GetVersionByIdentity(ctx context.Context, tenantID, repoID uuid.UUID, ident types.VersionIdentity) (*types.PackageVersion, error) {
	var v types.PackageVersion
	err := sqlx.GetContext(ctx, t.q, &v,
		`SELECT `+versionColumns+`
		 FROM versions
		 WHERE tenant_id = $1 AND repo_id = $2 AND package_type = $3
		   AND COALESCE(package_namespace, '') = COALESCE($4, '')
		   AND package_name = $5 AND version = $6`,
		tenantID, repoID, ident.PackageType, ident.PackageNamespace, ident.PackageName, ident.Version)
	if err != nil {
		return nil, mapError("get version by identity", err)
	}
	return &v, nil
}

// InsertVersion creates a draft row. A concurrent insert of the same
// identity surfaces as Conflict from the unique index.
func (t *Tx) InsertVersion(ctx context.Context, v *types.PackageVersion) error {
	if v.VersionID == uuid.Nil {
		v.VersionID = uuid.New()
	}
	err := t.q.QueryRowxContext(ctx,
		`INSERT INTO versions
		   (version_id, tenant_id, repo_id, package_type, package_namespace,
		    package_name, version, state, created_by_subject)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at`,
		v.VersionID, v.TenantID, v.RepoID, v.PackageType, v.PackageNamespace,
		v.PackageName, v.Version, v.State, v.CreatedBySubject,
	).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return mapError("insert version", err)
	}
	return nil
}

// GetVersionForUpdate locks a version row for the rest of the transaction
func (t *Tx) GetVersionForUpdate(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (*types.PackageVersion, error) {
	var v types.PackageVersion
	err := sqlx.GetContext(ctx, t.q, &v,
		`SELECT `+versionColumns+`
		 FROM versions
		 WHERE tenant_id = $1 AND repo_id = $2 AND version_id = $3
		 FOR UPDATE`,
		tenantID, repoID, versionID)
	if err != nil {
		return nil, mapError("get version for update", err)
	}
	return &v, nil
}

// GetVersionState returns the lifecycle state of a version regardless of
// repo, for sweep routing
func (t *Tx) GetVersionState(ctx context.Context, versionID uuid.UUID) (types.VersionState, error) {
	var state types.VersionState
	err := sqlx.GetContext(ctx, t.q, &state,
		`SELECT state FROM versions WHERE version_id = $1`, versionID)
	if err != nil {
		return "", mapError("get version state", err)
	}
	return state, nil
}

// SetVersionPublished flips a draft to published. Returns false when the
// row was not a draft.
func (t *Tx) SetVersionPublished(ctx context.Context, versionID uuid.UUID, publishedAt time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE versions SET state = 'published', published_at = $2
		 WHERE version_id = $1 AND state = 'draft'`,
		versionID, publishedAt)
	if err != nil {
		return false, mapError("publish version", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetVersionTombstoned flips a published version to tombstoned. Returns
// false when the row was not published.
func (t *Tx) SetVersionTombstoned(ctx context.Context, versionID uuid.UUID) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE versions SET state = 'tombstoned'
		 WHERE version_id = $1 AND state = 'published'`,
		versionID)
	if err != nil {
		return false, mapError("tombstone version", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// UpsertEntries replaces-or-creates artifact entries by (version, path)
func (t *Tx) UpsertEntries(ctx context.Context, versionID uuid.UUID, entries []types.ArtifactEntry) error {
	for _, entry := range entries {
		_, err := t.q.ExecContext(ctx,
			`INSERT INTO artifact_entries (version_id, relative_path, blob_digest, checksum_sha256, size_bytes)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (version_id, relative_path)
			 DO UPDATE SET blob_digest = EXCLUDED.blob_digest,
			               checksum_sha256 = EXCLUDED.checksum_sha256,
			               size_bytes = EXCLUDED.size_bytes`,
			versionID, entry.RelativePath, entry.BlobDigest, entry.ChecksumSHA256, entry.SizeBytes)
		if err != nil {
			return mapError("upsert artifact entry", err)
		}
	}
	return nil
}

// CountEntries counts the artifact entries of a version
func (t *Tx) CountEntries(ctx context.Context, versionID uuid.UUID) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, t.q, &count,
		`SELECT COUNT(*) FROM artifact_entries WHERE version_id = $1`, versionID)
	if err != nil {
		return 0, mapError("count artifact entries", err)
	}
	return count, nil
}

// GetBlobs fetches the blobs for a digest set, keyed by digest. Missing
// digests are simply absent from the map.
func (t *Tx) GetBlobs(ctx context.Context, digests []string) (map[string]*types.Blob, error) {
	blobs := make(map[string]*types.Blob, len(digests))
	if len(digests) == 0 {
		return blobs, nil
	}
	query, args, err := sqlx.In(
		`SELECT digest, length_bytes, storage_key, created_at FROM blobs WHERE digest IN (?)`, digests)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob query: %w", err)
	}
	var rows []types.Blob
	if err := sqlx.SelectContext(ctx, t.q, &rows, t.q.Rebind(query), args...); err != nil {
		return nil, mapError("get blobs", err)
	}
	for i := range rows {
		blobs[rows[i].Digest] = &rows[i]
	}
	return blobs, nil
}

// UpsertManifest creates or replaces the manifest document of a version
func (t *Tx) UpsertManifest(ctx context.Context, m *types.Manifest) error {
	err := t.q.QueryRowxContext(ctx,
		`INSERT INTO manifests (version_id, manifest_json, manifest_blob_digest)
		 VALUES ($1, $2::jsonb, $3)
		 ON CONFLICT (version_id)
		 DO UPDATE SET manifest_json = EXCLUDED.manifest_json,
		               manifest_blob_digest = EXCLUDED.manifest_blob_digest,
		               updated_at = now()
		 RETURNING updated_at`,
		m.VersionID, m.ManifestJSON, m.ManifestBlobDigest,
	).Scan(&m.UpdatedAt)
	if err != nil {
		return mapError("upsert manifest", err)
	}
	return nil
}

// GetManifest fetches a version's manifest inside a transaction
func (t *Tx) GetManifest(ctx context.Context, versionID uuid.UUID) (*types.Manifest, error) {
	return getManifest(ctx, t.q, versionID)
}

// GetManifest fetches a version's manifest
func (s *PostgresStore) GetManifest(ctx context.Context, versionID uuid.UUID) (*types.Manifest, error) {
	return getManifest(ctx, s.db, versionID)
}

func getManifest(ctx context.Context, q sqlx.QueryerContext, versionID uuid.UUID) (*types.Manifest, error) {
	var m types.Manifest
	err := sqlx.GetContext(ctx, q, &m,
		`SELECT version_id, manifest_json::text AS manifest_json, manifest_blob_digest, updated_at
		 FROM manifests WHERE version_id = $1`, versionID)
	if err != nil {
		return nil, mapError("get manifest", err)
	}
	return &m, nil
}

// GetVersionInRepo fetches a version scoped to its repo
func (s *PostgresStore) GetVersionInRepo(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (*types.PackageVersion, error) {
	var v types.PackageVersion
	err := s.db.GetContext(ctx, &v,
		`SELECT `+versionColumns+`
		 FROM versions
		 WHERE tenant_id = $1 AND repo_id = $2 AND version_id = $3`,
		tenantID, repoID, versionID)
	if err != nil {
		return nil, mapError("get version", err)
	}
	return &v, nil
}

// ListVersionsInRepo returns a repo's versions, newest first
func (s *PostgresStore) ListVersionsInRepo(ctx context.Context, tenantID, repoID uuid.UUID) ([]*types.PackageVersion, error) {
	var rows []types.PackageVersion
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+versionColumns+`
		 FROM versions
		 WHERE tenant_id = $1 AND repo_id = $2
		 ORDER BY created_at DESC, id DESC`,
		tenantID, repoID)
	if err != nil {
		return nil, mapError("list versions", err)
	}
	versions := make([]*types.PackageVersion, 0, len(rows))
	for i := range rows {
		versions = append(versions, &rows[i])
	}
	return versions, nil
}

// ListEntries returns a version's artifact entries ordered by path
func (s *PostgresStore) ListEntries(ctx context.Context, versionID uuid.UUID) ([]*types.ArtifactEntry, error) {
	var rows []types.ArtifactEntry
	err := s.db.SelectContext(ctx, &rows,
		`SELECT version_id, relative_path, blob_digest, checksum_sha256, size_bytes
		 FROM artifact_entries WHERE version_id = $1 ORDER BY relative_path`, versionID)
	if err != nil {
		return nil, mapError("list artifact entries", err)
	}
	entries := make([]*types.ArtifactEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, &rows[i])
	}
	return entries, nil
}
