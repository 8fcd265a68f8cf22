package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/artifortress/artifortress/pkg/types"
)

// Store is the transactional truth store. Every multi-row mutation runs
// inside WithTx; single-query reads have direct methods. Implementations
// map driver errors into the domain taxonomy before returning them.
type Store interface {
	// Ping verifies connectivity (SELECT 1)
	Ping(ctx context.Context) error

	// Close releases the connection pool
	Close() error

	// WithTx runs fn inside a serializable transaction, retrying bounded
	// times on serialization failures. fn returning an error rolls back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error

	// Tenants
	EnsureTenant(ctx context.Context, slug string) (*types.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (*types.Tenant, error)

	// Repositories
	CreateRepo(ctx context.Context, repo *types.Repo) error
	GetRepoByKey(ctx context.Context, tenantID uuid.UUID, key string) (*types.Repo, error)
	ListRepos(ctx context.Context, tenantID uuid.UUID) ([]*types.Repo, error)
	DeleteRepo(ctx context.Context, tenantID uuid.UUID, key string) error

	// Role bindings
	UpsertRoleBinding(ctx context.Context, binding *types.RoleBinding) error
	GetRoleBinding(ctx context.Context, tenantID, repoID uuid.UUID, subject string) (*types.RoleBinding, error)
	DeleteRoleBinding(ctx context.Context, tenantID, repoID uuid.UUID, subject string) error
	ListBindingsBySubject(ctx context.Context, tenantID uuid.UUID, subject string) ([]SubjectBinding, error)

	// Tokens
	InsertToken(ctx context.Context, token *types.Token) error
	GetTokenByHash(ctx context.Context, tenantID uuid.UUID, hash string) (*types.Token, error)
	RevokeToken(ctx context.Context, tenantID, tokenID uuid.UUID) error

	// Upload sessions
	NextUploadSessionID(ctx context.Context) (int64, error)
	InsertUploadSession(ctx context.Context, session *types.UploadSession) error
	GetUploadSession(ctx context.Context, tenantID, repoID, uploadID uuid.UUID) (*types.UploadSession, error)
	TransitionUploadSession(ctx context.Context, uploadID uuid.UUID, from []types.UploadSessionState, to types.UploadSessionState, abortReason *string) (bool, error)

	// Blobs
	GetBlob(ctx context.Context, digest string) (*types.Blob, error)
	BlobVisibleInRepo(ctx context.Context, tenantID, repoID uuid.UUID, digest string) (bool, error)
	BlobQuarantinedInRepo(ctx context.Context, tenantID, repoID uuid.UUID, digest string) (bool, error)

	// Package versions (read paths; mutations go through Tx)
	GetVersionInRepo(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (*types.PackageVersion, error)
	ListVersionsInRepo(ctx context.Context, tenantID, repoID uuid.UUID) ([]*types.PackageVersion, error)
	GetManifest(ctx context.Context, versionID uuid.UUID) (*types.Manifest, error)
	ListEntries(ctx context.Context, versionID uuid.UUID) ([]*types.ArtifactEntry, error)

	// Quarantine (read paths)
	ListQuarantine(ctx context.Context, tenantID, repoID uuid.UUID, status *types.QuarantineStatus) ([]*types.QuarantineItem, error)
	GetQuarantine(ctx context.Context, tenantID, quarantineID uuid.UUID) (*types.QuarantineItem, error)

	// Lifecycle (read paths)
	CountExpiredTombstones(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error)
	ListExpiredTombstones(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]ExpiredTombstone, error)
	CountOrphanBlobs(ctx context.Context, cutoff time.Time) (int, error)
	ListOrphanBlobs(ctx context.Context, cutoff time.Time, limit int) ([]*types.Blob, error)

	// GC bookkeeping
	InsertGCRun(ctx context.Context, run *types.GCRun) (int64, error)
	CompleteGCRun(ctx context.Context, id int64, counts GCCounts) error

	// Audit and operational counters
	InsertAudit(ctx context.Context, rec *types.AuditRecord) error
	ListAudit(ctx context.Context, tenantID uuid.UUID, limit int) ([]*types.AuditRecord, error)
	OpsSummary(ctx context.Context, now time.Time) (*OpsSummary, error)
}

// SubjectBinding is a role binding joined with its repository key,
// used to fold granted roles into a principal's scope set.
type SubjectBinding struct {
	RepoKey string
	Roles   []types.Role
}

// GCCounts carries the outcome of one garbage collection pass
type GCCounts struct {
	CandidateVersions int
	CandidateBlobs    int
	DeletedVersions   int
	DeletedBlobs      int
}

// ExpiredTombstone is one version eligible for reclamation, in drain order
type ExpiredTombstone struct {
	VersionID      uuid.UUID
	RetentionUntil time.Time
}

// OpsSummary is the operational backlog posture served by the admin API.
// Every counter reflects synchronous truth-store writes.
type OpsSummary struct {
	PendingOutboxEvents        int
	AvailableOutboxEvents      int
	OldestPendingOutboxAgeSecs int64
	PendingSearchJobs          int
	FailedSearchJobs           int
	IncompleteGCRuns           int
	RecentPolicyTimeouts24h    int
}
