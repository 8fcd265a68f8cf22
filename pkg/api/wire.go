package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// Wire types decouple the JSON surface from the storage structs: domain
// types carry db tags only, so every response passes through one of the
// converters below.

type repoWire struct {
	RepoID         uuid.UUID `json:"repoId"`
	RepoKey        string    `json:"repoKey"`
	RepoType       string    `json:"repoType"`
	UpstreamURL    *string   `json:"upstreamUrl,omitempty"`
	MemberRepoKeys []string  `json:"memberRepoKeys,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func repoToWire(repo *types.Repo) repoWire {
	return repoWire{
		RepoID:         repo.RepoID,
		RepoKey:        repo.RepoKey,
		RepoType:       string(repo.RepoType),
		UpstreamURL:    repo.UpstreamURL,
		MemberRepoKeys: repo.MemberRepoKeys,
		CreatedAt:      repo.CreatedAt,
	}
}

type bindingWire struct {
	RepoKey   string    `json:"repoKey"`
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func bindingToWire(repoKey string, binding *types.RoleBinding) bindingWire {
	roles := make([]string, 0, len(binding.Roles))
	for _, role := range binding.Roles {
		roles = append(roles, string(role))
	}
	return bindingWire{
		RepoKey:   repoKey,
		Subject:   binding.Subject,
		Roles:     roles,
		UpdatedAt: binding.UpdatedAt,
	}
}

type sessionWire struct {
	UploadID            uuid.UUID `json:"uploadId"`
	State               string    `json:"state"`
	ExpectedDigest      string    `json:"expectedDigest"`
	ExpectedLength      int64     `json:"expectedLength"`
	Deduped             bool      `json:"deduped"`
	CommittedBlobDigest *string   `json:"committedBlobDigest,omitempty"`
	AbortReason         *string   `json:"abortReason,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
}

func sessionToWire(session *types.UploadSession) sessionWire {
	return sessionWire{
		UploadID:            session.UploadID,
		State:               string(session.State),
		ExpectedDigest:      session.ExpectedDigest,
		ExpectedLength:      session.ExpectedLength,
		Deduped:             session.Deduped,
		CommittedBlobDigest: session.CommittedBlobDigest,
		AbortReason:         session.AbortReason,
		CreatedAt:           session.CreatedAt,
		ExpiresAt:           session.ExpiresAt,
	}
}

type versionWire struct {
	VersionID        uuid.UUID  `json:"versionId"`
	PackageType      string     `json:"packageType"`
	PackageNamespace *string    `json:"packageNamespace,omitempty"`
	PackageName      string     `json:"packageName"`
	Version          string     `json:"version"`
	State            string     `json:"state"`
	CreatedBySubject string     `json:"createdBySubject"`
	CreatedAt        time.Time  `json:"createdAt"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
}

func versionToWire(version *types.PackageVersion) versionWire {
	return versionWire{
		VersionID:        version.VersionID,
		PackageType:      version.PackageType,
		PackageNamespace: version.PackageNamespace,
		PackageName:      version.PackageName,
		Version:          version.Version,
		State:            string(version.State),
		CreatedBySubject: version.CreatedBySubject,
		CreatedAt:        version.CreatedAt,
		PublishedAt:      version.PublishedAt,
	}
}

type entryWire struct {
	RelativePath   string `json:"relativePath"`
	BlobDigest     string `json:"blobDigest"`
	ChecksumSHA256 string `json:"checksumSha256"`
	SizeBytes      int64  `json:"sizeBytes"`
}

func entriesToWire(entries []types.ArtifactEntry) []entryWire {
	out := make([]entryWire, 0, len(entries))
	for i := range entries {
		out = append(out, entryWire{
			RelativePath:   entries[i].RelativePath,
			BlobDigest:     entries[i].BlobDigest,
			ChecksumSHA256: entries[i].ChecksumSHA256,
			SizeBytes:      entries[i].SizeBytes,
		})
	}
	return out
}

type manifestWire struct {
	VersionID          uuid.UUID       `json:"versionId"`
	Manifest           json.RawMessage `json:"manifest"`
	ManifestBlobDigest *string         `json:"manifestBlobDigest,omitempty"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func manifestToWire(manifest *types.Manifest) manifestWire {
	return manifestWire{
		VersionID:          manifest.VersionID,
		Manifest:           json.RawMessage(manifest.ManifestJSON),
		ManifestBlobDigest: manifest.ManifestBlobDigest,
		UpdatedAt:          manifest.UpdatedAt,
	}
}

type quarantineWire struct {
	QuarantineID uuid.UUID `json:"quarantineId"`
	VersionID    uuid.UUID `json:"versionId"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func quarantineToWire(item *types.QuarantineItem) quarantineWire {
	return quarantineWire{
		QuarantineID: item.QuarantineID,
		VersionID:    item.VersionID,
		Status:       string(item.Status),
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

type auditWire struct {
	ID           int64                  `json:"id"`
	Action       string                 `json:"action"`
	Actor        string                 `json:"actor"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	Details      map[string]interface{} `json:"details"`
	OccurredAt   time.Time              `json:"occurredAt"`
}

func auditToWire(rec *types.AuditRecord) auditWire {
	return auditWire{
		ID:           rec.ID,
		Action:       rec.Action,
		Actor:        rec.Actor,
		ResourceType: rec.ResourceType,
		ResourceID:   rec.ResourceID,
		Details:      rec.Details,
		OccurredAt:   rec.OccurredAt,
	}
}

type opsSummaryWire struct {
	PendingOutboxEvents           int   `json:"pendingOutboxEvents"`
	AvailableOutboxEvents         int   `json:"availableOutboxEvents"`
	OldestPendingOutboxAgeSeconds int64 `json:"oldestPendingOutboxAgeSeconds"`
	PendingSearchJobs             int   `json:"pendingSearchJobs"`
	FailedSearchJobs              int   `json:"failedSearchJobs"`
	IncompleteGCRuns              int   `json:"incompleteGcRuns"`
	RecentPolicyTimeouts24h       int   `json:"recentPolicyTimeouts24h"`
}

func opsSummaryToWire(summary *storage.OpsSummary) opsSummaryWire {
	return opsSummaryWire{
		PendingOutboxEvents:           summary.PendingOutboxEvents,
		AvailableOutboxEvents:         summary.AvailableOutboxEvents,
		OldestPendingOutboxAgeSeconds: summary.OldestPendingOutboxAgeSecs,
		PendingSearchJobs:             summary.PendingSearchJobs,
		FailedSearchJobs:              summary.FailedSearchJobs,
		IncompleteGCRuns:              summary.IncompleteGCRuns,
		RecentPolicyTimeouts24h:       summary.RecentPolicyTimeouts24h,
	}
}
