package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Tenant is the top-level ownership boundary. Every entity row is
// tenant-qualified even in single-tenant deployments.
type Tenant struct {
	ID        int64     `db:"id"`
	TenantID  uuid.UUID `db:"tenant_id"`
	Slug      string    `db:"slug"`
	CreatedAt time.Time `db:"created_at"`
}

// RepoType defines how a repository sources its content
type RepoType string

const (
	RepoTypeLocal   RepoType = "local"
	RepoTypeRemote  RepoType = "remote"
	RepoTypeVirtual RepoType = "virtual"
)

// Repo represents an artifact repository
type Repo struct {
	ID             int64     `db:"id"`
	RepoID         uuid.UUID `db:"repo_id"`
	TenantID       uuid.UUID `db:"tenant_id"`
	RepoKey        string    `db:"repo_key"`
	RepoType       RepoType  `db:"repo_type"`
	UpstreamURL    *string   `db:"upstream_url"`
	MemberRepoKeys []string  `db:"-"`
	CreatedAt      time.Time `db:"created_at"`
}

// RoleBinding grants roles on a repository to a subject.
// Unique by (tenant, repo, subject).
type RoleBinding struct {
	TenantID  uuid.UUID `db:"tenant_id"`
	RepoID    uuid.UUID `db:"repo_id"`
	Subject   string    `db:"subject"`
	Roles     []Role    `db:"-"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Role is the unit of permission. Ordering: admin implies all,
// write implies read, others are reflexive only.
type Role string

const (
	RoleRead    Role = "read"
	RoleWrite   Role = "write"
	RoleAdmin   Role = "admin"
	RolePromote Role = "promote"
)

// ParseRole normalizes and validates a role name
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleRead:
		return RoleRead, nil
	case RoleWrite:
		return RoleWrite, nil
	case RoleAdmin:
		return RoleAdmin, nil
	case RolePromote:
		return RolePromote, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Implies reports whether holding r satisfies a requirement for required
func (r Role) Implies(required Role) bool {
	if r == required {
		return true
	}
	switch r {
	case RoleAdmin:
		return true
	case RoleWrite:
		return required == RoleRead
	}
	return false
}

// Scope grants a role on one repository key or on all repositories ("*").
// Wire form: repo:<key|*>:<role>, always lowercase.
type Scope struct {
	RepoKey string
	Role    Role
}

// String serializes the scope to its wire form
func (s Scope) String() string {
	return fmt.Sprintf("repo:%s:%s", s.RepoKey, s.Role)
}

// ParseScope parses the repo:<key|*>:<role> wire form
func ParseScope(raw string) (Scope, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return Scope{}, fmt.Errorf("scope %q must have exactly two ':' separators", raw)
	}
	if strings.ToLower(parts[0]) != "repo" {
		return Scope{}, fmt.Errorf("scope %q must start with 'repo:'", raw)
	}
	key := strings.ToLower(strings.TrimSpace(parts[1]))
	if key == "" {
		return Scope{}, fmt.Errorf("scope %q has an empty repo key", raw)
	}
	role, err := ParseRole(parts[2])
	if err != nil {
		return Scope{}, fmt.Errorf("scope %q: %w", raw, err)
	}
	return Scope{RepoKey: key, Role: role}, nil
}

// ParseScopes parses a stored scope list, dropping invalid entries.
// Nil-safe: a nil input yields an empty slice.
func ParseScopes(raw []string) []Scope {
	scopes := make([]Scope, 0, len(raw))
	for _, entry := range raw {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		scope, err := ParseScope(entry)
		if err != nil {
			continue
		}
		scopes = append(scopes, scope)
	}
	return scopes
}

// ScopeStrings serializes a scope list for persistence
func ScopeStrings(scopes []Scope) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, s.String())
	}
	return out
}

// AuthSource identifies which credential type produced a principal
type AuthSource string

const (
	AuthSourceBootstrap AuthSource = "bootstrap"
	AuthSourcePAT       AuthSource = "pat"
	AuthSourceOIDC      AuthSource = "oidc"
	AuthSourceSAML      AuthSource = "saml"
)

// Principal is the identity resolved from a bearer credential
type Principal struct {
	Subject    string
	Scopes     []Scope
	AuthSource AuthSource
}

// Token is a personal access token. Only the SHA-256 hex of the plaintext
// is ever persisted; the plaintext is returned exactly once at issuance.
type Token struct {
	ID        int64      `db:"id"`
	TokenID   uuid.UUID  `db:"token_id"`
	TenantID  uuid.UUID  `db:"tenant_id"`
	Subject   string     `db:"subject"`
	TokenHash string     `db:"token_hash"`
	Scopes    []Scope    `db:"-"`
	CreatedAt time.Time  `db:"created_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
}

// Valid reports whether the token is usable at the given instant
func (t *Token) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	return now.Before(t.ExpiresAt)
}

// UploadSessionState is the multipart upload state machine position
type UploadSessionState string

const (
	UploadStateInitiated      UploadSessionState = "initiated"
	UploadStatePartsUploading UploadSessionState = "parts_uploading"
	UploadStatePendingCommit  UploadSessionState = "pending_commit"
	UploadStateCommitted      UploadSessionState = "committed"
	UploadStateAborted        UploadSessionState = "aborted"
)

// Terminal reports whether no further transitions are possible
func (s UploadSessionState) Terminal() bool {
	return s == UploadStateCommitted || s == UploadStateAborted
}

// UploadSession tracks one multipart upload toward a content-addressed blob
type UploadSession struct {
	ID                  int64              `db:"id"`
	UploadID            uuid.UUID          `db:"upload_id"`
	TenantID            uuid.UUID          `db:"tenant_id"`
	RepoID              uuid.UUID          `db:"repo_id"`
	ExpectedDigest      string             `db:"expected_digest"`
	ExpectedLength      int64              `db:"expected_length"`
	StorageUploadID     string             `db:"storage_upload_id"`
	ObjectStagingKey    string             `db:"object_staging_key"`
	State               UploadSessionState `db:"state"`
	CreatedBySubject    string             `db:"created_by_subject"`
	CreatedAt           time.Time          `db:"created_at"`
	ExpiresAt           time.Time          `db:"expires_at"`
	CommittedBlobDigest *string            `db:"committed_blob_digest"`
	Deduped             bool               `db:"deduped"`
	AbortReason         *string            `db:"abort_reason"`
}

// Expired reports whether the session passed its deadline
func (u *UploadSession) Expired(now time.Time) bool {
	return now.After(u.ExpiresAt)
}

// Blob is a content-addressed byte stream. The digest is the primary key;
// a digest has exactly one blob row.
type Blob struct {
	Digest      string    `db:"digest"`
	LengthBytes int64     `db:"length_bytes"`
	StorageKey  string    `db:"storage_key"`
	CreatedAt   time.Time `db:"created_at"`
}

// VersionState is the package version lifecycle position
type VersionState string

const (
	VersionStateDraft      VersionState = "draft"
	VersionStatePublished  VersionState = "published"
	VersionStateTombstoned VersionState = "tombstoned"
)

// PackageVersion is one version of a package within a repository.
// Identity is (tenant, repo, type, namespace, name, version) after
// normalization; published rows are identity- and state-immutable.
type PackageVersion struct {
	ID               int64        `db:"id"`
	VersionID        uuid.UUID    `db:"version_id"`
	TenantID         uuid.UUID    `db:"tenant_id"`
	RepoID           uuid.UUID    `db:"repo_id"`
	PackageType      string       `db:"package_type"`
	PackageNamespace *string      `db:"package_namespace"`
	PackageName      string       `db:"package_name"`
	Version          string       `db:"version"`
	State            VersionState `db:"state"`
	CreatedBySubject string       `db:"created_by_subject"`
	CreatedAt        time.Time    `db:"created_at"`
	PublishedAt      *time.Time   `db:"published_at"`
}

// VersionIdentity is the natural key of a package version
type VersionIdentity struct {
	PackageType      string
	PackageNamespace *string
	PackageName      string
	Version          string
}

// Normalize applies the immutability-key rules: type and name trimmed and
// lowercased, namespace lowercased when present, version trimmed only.
func (v VersionIdentity) Normalize() VersionIdentity {
	out := VersionIdentity{
		PackageType: strings.ToLower(strings.TrimSpace(v.PackageType)),
		PackageName: strings.ToLower(strings.TrimSpace(v.PackageName)),
		Version:     strings.TrimSpace(v.Version),
	}
	if v.PackageNamespace != nil {
		ns := strings.ToLower(strings.TrimSpace(*v.PackageNamespace))
		if ns != "" {
			out.PackageNamespace = &ns
		}
	}
	return out
}

// ArtifactEntry maps a path within a version to a content-addressed blob
type ArtifactEntry struct {
	VersionID      uuid.UUID `db:"version_id"`
	RelativePath   string    `db:"relative_path"`
	BlobDigest     string    `db:"blob_digest"`
	ChecksumSHA256 string    `db:"checksum_sha256"`
	SizeBytes      int64     `db:"size_bytes"`
}

// Manifest is the package-type-specific metadata document of a version
type Manifest struct {
	VersionID          uuid.UUID `db:"version_id"`
	ManifestJSON       string    `db:"manifest_json"`
	ManifestBlobDigest *string   `db:"manifest_blob_digest"`
	UpdatedAt          time.Time `db:"updated_at"`
}

// OutboxEvent is a durable record written in the same transaction as the
// mutation it describes, driving asynchronous downstream work.
type OutboxEvent struct {
	ID            int64      `db:"id"`
	TenantID      uuid.UUID  `db:"tenant_id"`
	AggregateType string     `db:"aggregate_type"`
	AggregateID   string     `db:"aggregate_id"`
	EventType     string     `db:"event_type"`
	PayloadJSON   string     `db:"payload_json"`
	AvailableAt   time.Time  `db:"available_at"`
	OccurredAt    time.Time  `db:"occurred_at"`
	DeliveredAt   *time.Time `db:"delivered_at"`
}

// EventTypeVersionPublished is the outbox event type emitted by publish
const EventTypeVersionPublished = "version.published"

// SearchJobStatus is the indexing job state
type SearchJobStatus string

const (
	SearchJobPending    SearchJobStatus = "pending"
	SearchJobProcessing SearchJobStatus = "processing"
	SearchJobCompleted  SearchJobStatus = "completed"
	SearchJobFailed     SearchJobStatus = "failed"
)

// SearchIndexJob is the per-version indexing work item.
// Unique by (tenant, version).
type SearchIndexJob struct {
	ID          int64           `db:"id"`
	TenantID    uuid.UUID       `db:"tenant_id"`
	VersionID   uuid.UUID       `db:"version_id"`
	Status      SearchJobStatus `db:"status"`
	Attempts    int             `db:"attempts"`
	AvailableAt time.Time       `db:"available_at"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

// Tombstone marks a version for deferred deletion after a retention window
type Tombstone struct {
	VersionID      uuid.UUID `db:"version_id"`
	Reason         string    `db:"reason"`
	RetentionUntil time.Time `db:"retention_until"`
	CreatedAt      time.Time `db:"created_at"`
}

// QuarantineStatus is the quarantine lifecycle position
type QuarantineStatus string

const (
	QuarantineStatusQuarantined QuarantineStatus = "quarantined"
	QuarantineStatusReleased    QuarantineStatus = "released"
	QuarantineStatusRejected    QuarantineStatus = "rejected"
)

// QuarantineItem is an operator-visible block on a version.
// At most one exists per version.
type QuarantineItem struct {
	QuarantineID uuid.UUID        `db:"quarantine_id"`
	TenantID     uuid.UUID        `db:"tenant_id"`
	RepoID       uuid.UUID        `db:"repo_id"`
	VersionID    uuid.UUID        `db:"version_id"`
	Status       QuarantineStatus `db:"status"`
	CreatedAt    time.Time        `db:"created_at"`
	UpdatedAt    time.Time        `db:"updated_at"`
}

// PolicyAction is the gated operation a policy evaluation covers
type PolicyAction string

const (
	PolicyActionPublish PolicyAction = "publish"
	PolicyActionPromote PolicyAction = "promote"
)

// PolicyDecision is the evaluation verdict
type PolicyDecision string

const (
	PolicyDecisionAllow      PolicyDecision = "allow"
	PolicyDecisionDeny       PolicyDecision = "deny"
	PolicyDecisionQuarantine PolicyDecision = "quarantine"
)

// PolicyEvaluation is an append-only record of one policy verdict
type PolicyEvaluation struct {
	EvaluationID   uuid.UUID      `db:"evaluation_id"`
	VersionID      uuid.UUID      `db:"version_id"`
	Action         PolicyAction   `db:"action"`
	Decision       PolicyDecision `db:"decision"`
	DecisionSource string         `db:"decision_source"`
	Reason         string         `db:"reason"`
	EngineVersion  *string        `db:"engine_version"`
	CreatedAt      time.Time      `db:"created_at"`
}

// AuditRecord is an append-only trace of a privileged action, written in
// the same transaction as the mutation it describes.
type AuditRecord struct {
	ID           int64                  `db:"id"`
	TenantID     uuid.UUID              `db:"tenant_id"`
	Action       string                 `db:"action"`
	Actor        string                 `db:"actor"`
	ResourceType string                 `db:"resource_type"`
	ResourceID   string                 `db:"resource_id"`
	Details      map[string]interface{} `db:"-"`
	OccurredAt   time.Time              `db:"occurred_at"`
}

// GCMode selects between reporting and deleting
type GCMode string

const (
	GCModeDryRun  GCMode = "dry_run"
	GCModeExecute GCMode = "execute"
)

// GCRun records one garbage collection pass
type GCRun struct {
	ID                    int64      `db:"id"`
	TenantID              uuid.UUID  `db:"tenant_id"`
	Mode                  GCMode     `db:"mode"`
	StartedAt             time.Time  `db:"started_at"`
	CompletedAt           *time.Time `db:"completed_at"`
	CandidateVersionCount int        `db:"candidate_version_count"`
	CandidateBlobCount    int        `db:"candidate_blob_count"`
	DeletedVersionCount   int        `db:"deleted_version_count"`
	DeletedBlobCount      int        `db:"deleted_blob_count"`
}

var digestRe = regexp.MustCompile(`^[a-f0-9]{64}$`)

// IsDigest reports whether s is a 64-character lowercase-hex SHA-256 digest
func IsDigest(s string) bool {
	return digestRe.MatchString(s)
}

// NormalizeRepoKey trims and lowercases a repository key for comparisons
func NormalizeRepoKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ValidateRepoKey enforces the repository key shape: lowercase, trimmed,
// non-empty, and free of ':' (which would corrupt scope serialization).
func ValidateRepoKey(key string) error {
	if key == "" {
		return fmt.Errorf("repoKey cannot be empty")
	}
	if key != NormalizeRepoKey(key) {
		return fmt.Errorf("repoKey must be lowercase and trimmed")
	}
	if strings.Contains(key, ":") {
		return fmt.Errorf("repoKey cannot contain ':'")
	}
	return nil
}
