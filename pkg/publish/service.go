package publish

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/audit"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// Service drives the draft -> published -> tombstoned version lifecycle
// up to and including publication
type Service struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates the publish workflow service. The broker may be
// nil; live notifications are then skipped.
func NewService(store storage.Store, broker *events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: logger.With().Str("component", "publish").Logger(),
		now:    time.Now,
	}
}

// CreateDraftRequest names the version to be assembled
type CreateDraftRequest struct {
	PackageType      string  `json:"packageType"`
	PackageNamespace *string `json:"packageNamespace,omitempty"`
	PackageName      string  `json:"packageName"`
	Version          string  `json:"version"`
}

// EntryInput declares one artifact path of a draft
type EntryInput struct {
	RelativePath   string `json:"relativePath"`
	BlobDigest     string `json:"blobDigest"`
	ChecksumSHA256 string `json:"checksumSha256,omitempty"`
	SizeBytes      int64  `json:"sizeBytes"`
}

// UpsertEntriesRequest replaces-or-creates entries by relative path
type UpsertEntriesRequest struct {
	Entries []EntryInput `json:"entries"`
}

// UpsertManifestRequest carries the package-type-specific metadata
// document
type UpsertManifestRequest struct {
	Manifest json.RawMessage `json:"manifest"`
}

// PublishResult reports one publish call. Idempotent republish returns
// the published state without emitting a second event.
type PublishResult struct {
	VersionID    uuid.UUID          `json:"versionId"`
	State        types.VersionState `json:"state"`
	Idempotent   bool               `json:"idempotent"`
	EventEmitted bool               `json:"eventEmitted"`
	PublishedAt  *time.Time         `json:"publishedAt,omitempty"`
}

// CreateDraft creates a draft version, or returns the existing draft with
// the same normalized identity. A published or tombstoned version holding
// the identity conflicts: identities are never recycled.
func (s *Service) CreateDraft(ctx context.Context, tenant *types.Tenant, repo *types.Repo, subject string, req CreateDraftRequest) (*types.PackageVersion, bool, error) {
	ident := types.VersionIdentity{
		PackageType:      req.PackageType,
		PackageNamespace: req.PackageNamespace,
		PackageName:      req.PackageName,
		Version:          req.Version,
	}.Normalize()
	if ident.PackageType == "" {
		return nil, false, errs.Validation("packageType is required.")
	}
	if ident.PackageName == "" {
		return nil, false, errs.Validation("packageName is required.")
	}
	if ident.Version == "" {
		return nil, false, errs.Validation("version is required.")
	}

	// Two attempts: losing an insert race on the identity index means
	// another request created the draft first, and the re-read returns
	// that row as the reused draft.
	var lostRace bool
	for attempt := 0; ; attempt++ {
		version, reused, err := s.createDraftTx(ctx, tenant, repo, subject, ident, &lostRace)
		if err == nil {
			return version, reused, nil
		}
		if lostRace && attempt == 0 {
			lostRace = false
			continue
		}
		return nil, false, err
	}
}

func (s *Service) createDraftTx(ctx context.Context, tenant *types.Tenant, repo *types.Repo, subject string, ident types.VersionIdentity, lostRace *bool) (*types.PackageVersion, bool, error) {
	var version *types.PackageVersion
	var reused bool
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		existing, err := tx.GetVersionByIdentity(ctx, tenant.TenantID, repo.RepoID, ident)
		switch {
		case err == nil:
			if existing.State != types.VersionStateDraft {
				return errs.Conflictf("version is %s and cannot be reused as a draft", existing.State)
			}
			version = existing
			reused = true
			return nil
		case !errs.IsKind(err, errs.KindNotFound):
			return err
		}

		v := &types.PackageVersion{
			VersionID:        uuid.New(),
			TenantID:         tenant.TenantID,
			RepoID:           repo.RepoID,
			PackageType:      ident.PackageType,
			PackageNamespace: ident.PackageNamespace,
			PackageName:      ident.PackageName,
			Version:          ident.Version,
			State:            types.VersionStateDraft,
			CreatedBySubject: subject,
		}
		if err := tx.InsertVersion(ctx, v); err != nil {
			*lostRace = errs.IsKind(err, errs.KindConflict)
			return err
		}
		version = v
		details := map[string]interface{}{
			"repoKey":     repo.RepoKey,
			"versionId":   v.VersionID.String(),
			"packageType": v.PackageType,
			"packageName": v.PackageName,
			"version":     v.Version,
		}
		if v.PackageNamespace != nil {
			details["packageNamespace"] = *v.PackageNamespace
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionVersionCreated, subject, audit.ResourceVersion, v.VersionID.String(), details))
	})
	if err != nil {
		return nil, false, err
	}

	if !reused {
		s.logger.Info().
			Str("version_id", version.VersionID.String()).
			Str("repo_key", repo.RepoKey).
			Str("package", version.PackageName).
			Str("version", version.Version).
			Msg("draft version created")
	}
	return version, reused, nil
}

// UpsertEntries replaces-or-creates the artifact entries of a draft.
// Every digest must already exist as a blob at the declared size; the
// blob need not be repo-visible yet, publication is what makes it so.
func (s *Service) UpsertEntries(ctx context.Context, tenant *types.Tenant, repo *types.Repo, versionID uuid.UUID, subject string, req UpsertEntriesRequest) ([]types.ArtifactEntry, error) {
	if len(req.Entries) == 0 {
		return nil, errs.Validation("entries must not be empty.")
	}

	seen := make(map[string]struct{}, len(req.Entries))
	entries := make([]types.ArtifactEntry, 0, len(req.Entries))
	digests := make([]string, 0, len(req.Entries))
	for _, in := range req.Entries {
		path := strings.TrimSpace(in.RelativePath)
		if path == "" {
			return nil, errs.Validation("relativePath must not be empty.")
		}
		if _, dup := seen[path]; dup {
			return nil, errs.Validationf("Duplicate relativePath '%s' is not allowed.", path)
		}
		seen[path] = struct{}{}

		digest := strings.TrimSpace(in.BlobDigest)
		if !types.IsDigest(digest) {
			return nil, errs.Validationf("blobDigest for '%s' must be a 64-character lowercase hex SHA-256 digest.", path)
		}
		checksum := strings.TrimSpace(in.ChecksumSHA256)
		if checksum == "" {
			checksum = digest
		} else if !types.IsDigest(checksum) {
			return nil, errs.Validationf("checksumSha256 for '%s' must be a 64-character lowercase hex SHA-256 digest.", path)
		}

		entries = append(entries, types.ArtifactEntry{
			VersionID:      versionID,
			RelativePath:   path,
			BlobDigest:     digest,
			ChecksumSHA256: checksum,
			SizeBytes:      in.SizeBytes,
		})
		digests = append(digests, digest)
	}

	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		version, err := tx.GetVersionForUpdate(ctx, tenant.TenantID, repo.RepoID, versionID)
		if err != nil {
			return err
		}
		if version.State != types.VersionStateDraft {
			return errs.Conflictf("entries cannot be modified on a %s version", version.State)
		}

		blobs, err := tx.GetBlobs(ctx, digests)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			blob, ok := blobs[entry.BlobDigest]
			if !ok {
				return errs.Validationf("blob %s does not exist; commit an upload for it first.", entry.BlobDigest)
			}
			if entry.SizeBytes != blob.LengthBytes {
				return errs.Validationf("sizeBytes for '%s' must match the blob length %d.", entry.RelativePath, blob.LengthBytes)
			}
		}

		if err := tx.UpsertEntries(ctx, versionID, entries); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionEntriesUpserted, subject, audit.ResourceVersion, versionID.String(), map[string]interface{}{
			"repoKey":    repo.RepoKey,
			"versionId":  versionID.String(),
			"entryCount": len(entries),
		}))
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// UpsertManifest creates or replaces the manifest document of a draft,
// applying per-package-type checks
func (s *Service) UpsertManifest(ctx context.Context, tenant *types.Tenant, repo *types.Repo, versionID uuid.UUID, subject string, req UpsertManifestRequest) (*types.Manifest, error) {
	doc, err := parseManifest(req.Manifest)
	if err != nil {
		return nil, err
	}

	manifest := &types.Manifest{
		VersionID:    versionID,
		ManifestJSON: string(req.Manifest),
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		version, err := tx.GetVersionForUpdate(ctx, tenant.TenantID, repo.RepoID, versionID)
		if err != nil {
			return err
		}
		if version.State != types.VersionStateDraft {
			return errs.Conflictf("manifest cannot be modified on a %s version", version.State)
		}
		if err := validateManifest(version.PackageType, doc); err != nil {
			return err
		}
		if err := tx.UpsertManifest(ctx, manifest); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionManifestUpserted, subject, audit.ResourceVersion, versionID.String(), map[string]interface{}{
			"repoKey":     repo.RepoKey,
			"versionId":   versionID.String(),
			"packageType": version.PackageType,
		}))
	})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// Publish flips a draft to published and emits its version.published
// outbox event, all in one transaction. Republishing is a no-op that
// must not emit a second event; any missing precondition rolls the
// whole thing back.
func (s *Service) Publish(ctx context.Context, tenant *types.Tenant, repo *types.Repo, versionID uuid.UUID, subject string) (*PublishResult, error) {
	result := &PublishResult{VersionID: versionID}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		version, err := tx.GetVersionForUpdate(ctx, tenant.TenantID, repo.RepoID, versionID)
		if err != nil {
			return err
		}
		switch version.State {
		case types.VersionStatePublished:
			result.State = types.VersionStatePublished
			result.Idempotent = true
			result.EventEmitted = false
			result.PublishedAt = version.PublishedAt
			return nil
		case types.VersionStateTombstoned:
			return errs.Conflict("cannot publish a tombstoned version")
		}

		entryCount, err := tx.CountEntries(ctx, versionID)
		if err != nil {
			return err
		}
		if entryCount == 0 {
			return errs.Conflict("cannot publish a version with no artifact entries")
		}
		if _, err := tx.GetManifest(ctx, versionID); err != nil {
			if errs.IsKind(err, errs.KindNotFound) {
				return errs.Conflict("cannot publish a version without a manifest")
			}
			return err
		}

		now := s.now().UTC()
		ok, err := tx.SetVersionPublished(ctx, versionID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("version state changed concurrently")
		}

		// The state guard above makes a second event unreachable in
		// practice; the count check keeps the exactly-once invariant
		// explicit even if the state machine is ever bypassed.
		emitted, err := tx.CountPublishedEvents(ctx, versionID.String())
		if err != nil {
			return err
		}
		if emitted == 0 {
			payload, err := json.Marshal(map[string]string{"versionId": versionID.String()})
			if err != nil {
				return err
			}
			if err := tx.InsertOutboxEvent(ctx, &types.OutboxEvent{
				TenantID:      tenant.TenantID,
				AggregateType: audit.ResourceVersion,
				AggregateID:   versionID.String(),
				EventType:     types.EventTypeVersionPublished,
				PayloadJSON:   string(payload),
				AvailableAt:   now,
				OccurredAt:    now,
			}); err != nil {
				return err
			}
			result.EventEmitted = true
		} else {
			s.logger.Warn().
				Str("version_id", versionID.String()).
				Msg("version.published event already present for a draft, skipping emission")
		}

		result.State = types.VersionStatePublished
		result.PublishedAt = &now
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionVersionPublished, subject, audit.ResourceVersion, versionID.String(), map[string]interface{}{
			"repoKey":     repo.RepoKey,
			"versionId":   versionID.String(),
			"packageType": version.PackageType,
			"packageName": version.PackageName,
			"version":     version.Version,
		}))
	})
	if err != nil {
		return nil, err
	}

	if !result.Idempotent {
		s.logger.Info().
			Str("version_id", versionID.String()).
			Str("repo_key", repo.RepoKey).
			Msg("version published")
		if s.broker != nil {
			s.broker.Publish(events.New(events.EventVersionPublished, "version published", map[string]string{
				"versionId": versionID.String(),
				"repoKey":   repo.RepoKey,
			}))
		}
	}
	return result, nil
}

func parseManifest(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, errs.Validation("manifest is required.")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, errs.Validation("manifest must be a JSON object.")
	}
	return doc, nil
}

// validateManifest applies per-package-type required fields
func validateManifest(packageType string, doc map[string]interface{}) error {
	switch packageType {
	case "nuget":
		if stringField(doc, "id") == "" || stringField(doc, "version") == "" {
			return errs.Validation("nuget manifests require non-empty id and version fields.")
		}
	}
	return nil
}

func stringField(doc map[string]interface{}, key string) string {
	s, _ := doc[key].(string)
	return strings.TrimSpace(s)
}
