package lifecycle

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/audit"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// Service retires versions and reclaims storage. Tombstoning is the
// reversible-by-policy half (the version stays on disk until retention
// lapses); garbage collection is the destructive half and is why every
// run leaves a gc_runs record behind.
type Service struct {
	store            storage.Store
	objects          objectstore.Client
	broker           *events.Broker
	defaultBatchSize int
	logger           zerolog.Logger
	now              func() time.Time
}

// NewService creates the lifecycle service. The broker may be nil.
func NewService(store storage.Store, objects objectstore.Client, broker *events.Broker, defaultBatchSize int, logger zerolog.Logger) *Service {
	if defaultBatchSize < 1 {
		defaultBatchSize = 100
	}
	return &Service{
		store:            store,
		objects:          objects,
		broker:           broker,
		defaultBatchSize: defaultBatchSize,
		logger:           logger.With().Str("component", "lifecycle").Logger(),
		now:              time.Now,
	}
}

// TombstoneRequest retires a published version after a retention window
type TombstoneRequest struct {
	Reason        string `json:"reason,omitempty"`
	RetentionDays int    `json:"retentionDays"`
}

// TombstoneResult reports the version's lifecycle position after the call
type TombstoneResult struct {
	VersionID      uuid.UUID          `json:"versionId"`
	State          types.VersionState `json:"state"`
	Idempotent     bool               `json:"idempotent"`
	RetentionUntil *time.Time         `json:"retentionUntil,omitempty"`
}

// Tombstone flips a published version to tombstoned and records its
// retention deadline. Repeating the call on a tombstoned version is a
// no-op reporting idempotent.
func (s *Service) Tombstone(ctx context.Context, tenant *types.Tenant, repo *types.Repo, versionID uuid.UUID, subject string, req TombstoneRequest) (*TombstoneResult, error) {
	if req.RetentionDays < 0 {
		return nil, errs.Validation("retentionDays must be non-negative.")
	}

	now := s.now()
	retentionUntil := now.Add(time.Duration(req.RetentionDays) * 24 * time.Hour)

	var result *TombstoneResult
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		version, err := tx.GetVersionForUpdate(ctx, tenant.TenantID, repo.RepoID, versionID)
		if err != nil {
			return err
		}
		if version.State == types.VersionStateTombstoned {
			result = &TombstoneResult{
				VersionID:  version.VersionID,
				State:      version.State,
				Idempotent: true,
			}
			if tomb, err := tx.GetTombstone(ctx, version.VersionID); err == nil {
				result.RetentionUntil = &tomb.RetentionUntil
			}
			return nil
		}
		if version.State != types.VersionStatePublished {
			return errs.Conflictf("cannot tombstone a %s version", version.State)
		}

		ok, err := tx.SetVersionTombstoned(ctx, version.VersionID)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("version state changed concurrently")
		}
		if err := tx.InsertTombstone(ctx, &types.Tombstone{
			VersionID:      version.VersionID,
			Reason:         req.Reason,
			RetentionUntil: retentionUntil,
		}); err != nil {
			return err
		}

		result = &TombstoneResult{
			VersionID:      version.VersionID,
			State:          types.VersionStateTombstoned,
			RetentionUntil: &retentionUntil,
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionVersionTombstoned, subject, audit.ResourceVersion, version.VersionID.String(), map[string]interface{}{
			"repoKey":        repo.RepoKey,
			"versionId":      version.VersionID.String(),
			"reason":         req.Reason,
			"retentionDays":  req.RetentionDays,
			"retentionUntil": retentionUntil.UTC().Format(time.RFC3339),
		}))
	})
	if err != nil {
		return nil, err
	}

	if !result.Idempotent {
		s.logger.Info().
			Str("version_id", result.VersionID.String()).
			Time("retention_until", retentionUntil).
			Msg("version tombstoned")
		s.publish(events.EventVersionTombstoned, "version tombstoned", map[string]string{
			"versionId": result.VersionID.String(),
			"repoKey":   repo.RepoKey,
		})
	}
	return result, nil
}

// GCRequest tunes one collection pass. Omitted fields fall back to the
// safe defaults: report only, no grace, configured batch size.
type GCRequest struct {
	DryRun              *bool `json:"dryRun,omitempty"`
	RetentionGraceHours int   `json:"retentionGraceHours"`
	BatchSize           *int  `json:"batchSize,omitempty"`
}

// GCResult reports candidates and, in execute mode, deletions
type GCResult struct {
	RunID                 int64        `json:"runId"`
	Mode                  types.GCMode `json:"mode"`
	CandidateVersionCount int          `json:"candidateVersionCount"`
	CandidateBlobCount    int          `json:"candidateBlobCount"`
	DeletedVersionCount   int          `json:"deletedVersionCount"`
	DeletedBlobCount      int          `json:"deletedBlobCount"`
}

// Run performs one garbage collection pass. Dry run reports the
// candidate sets without touching them; execute deletes up to batchSize
// expired-tombstone versions and up to batchSize orphan blobs in one
// transaction, then removes the backing objects. The stable candidate
// ordering makes a batchSize=1 drain deterministic.
func (s *Service) Run(ctx context.Context, tenant *types.Tenant, subject string, req GCRequest) (*GCResult, error) {
	if req.RetentionGraceHours < 0 {
		return nil, errs.Validation("retentionGraceHours must be non-negative.")
	}
	batchSize := s.defaultBatchSize
	if req.BatchSize != nil {
		if *req.BatchSize < 1 {
			return nil, errs.Validation("batchSize must be at least 1.")
		}
		batchSize = *req.BatchSize
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	now := s.now()
	cutoff := now.Add(-time.Duration(req.RetentionGraceHours) * time.Hour)
	mode := types.GCModeExecute
	if dryRun {
		mode = types.GCModeDryRun
	}

	// The run record opens before any deletion so a crash leaves an
	// incomplete row the ops summary can surface.
	run := &types.GCRun{TenantID: tenant.TenantID, Mode: mode}
	runID, err := s.store.InsertGCRun(ctx, run)
	if err != nil {
		return nil, err
	}

	candidateVersions, err := s.store.CountExpiredTombstones(ctx, tenant.TenantID, now)
	if err != nil {
		return nil, err
	}
	candidateBlobs, err := s.store.CountOrphanBlobs(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	counts := storage.GCCounts{
		CandidateVersions: candidateVersions,
		CandidateBlobs:    candidateBlobs,
	}
	var objectKeys []string
	if !dryRun {
		deleted, keys, err := s.executeBatch(ctx, tenant, now, cutoff, batchSize)
		if err != nil {
			return nil, err
		}
		counts.DeletedVersions = deleted.DeletedVersions
		counts.DeletedBlobs = deleted.DeletedBlobs
		objectKeys = keys
	}

	if err := s.store.CompleteGCRun(ctx, runID, counts); err != nil {
		return nil, err
	}
	if err := s.store.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionGCRun, subject, audit.ResourceGCRun, strconv.FormatInt(runID, 10), map[string]interface{}{
		"mode":                  string(mode),
		"retentionGraceHours":   req.RetentionGraceHours,
		"batchSize":             batchSize,
		"candidateVersionCount": counts.CandidateVersions,
		"candidateBlobCount":    counts.CandidateBlobs,
		"deletedVersionCount":   counts.DeletedVersions,
		"deletedBlobCount":      counts.DeletedBlobs,
	})); err != nil {
		return nil, err
	}

	// Object deletes happen after the truth-store commit: a rolled-back
	// transaction must never have lost bytes. Failures only log; the
	// blob rows are already gone, so these keys cannot resurface.
	for _, key := range objectKeys {
		if err := s.objects.Delete(ctx, key); err != nil {
			s.logger.Error().Err(err).Str("key", key).Msg("failed to delete reclaimed object")
		}
	}

	s.logger.Info().
		Int64("run_id", runID).
		Str("mode", string(mode)).
		Int("candidate_versions", counts.CandidateVersions).
		Int("candidate_blobs", counts.CandidateBlobs).
		Int("deleted_versions", counts.DeletedVersions).
		Int("deleted_blobs", counts.DeletedBlobs).
		Msg("gc run completed")
	s.publish(events.EventGCCompleted, "gc run completed", map[string]string{
		"runId":           strconv.FormatInt(runID, 10),
		"mode":            string(mode),
		"deletedVersions": strconv.Itoa(counts.DeletedVersions),
		"deletedBlobs":    strconv.Itoa(counts.DeletedBlobs),
	})

	return &GCResult{
		RunID:                 runID,
		Mode:                  mode,
		CandidateVersionCount: counts.CandidateVersions,
		CandidateBlobCount:    counts.CandidateBlobs,
		DeletedVersionCount:   counts.DeletedVersions,
		DeletedBlobCount:      counts.DeletedBlobs,
	}, nil
}

// executeBatch deletes one bounded batch of expired versions and orphan
// blobs, returning the storage keys whose objects the caller removes
// after commit.
func (s *Service) executeBatch(ctx context.Context, tenant *types.Tenant, now, cutoff time.Time, batchSize int) (storage.GCCounts, []string, error) {
	var counts storage.GCCounts
	var objectKeys []string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		counts = storage.GCCounts{}
		objectKeys = objectKeys[:0]

		expired, err := tx.ListExpiredTombstones(ctx, tenant.TenantID, now, batchSize)
		if err != nil {
			return err
		}
		for _, candidate := range expired {
			// Owned blobs are computed while the entries still exist;
			// the version delete cascades them away.
			owned, err := tx.ListVersionOwnedBlobs(ctx, candidate.VersionID)
			if err != nil {
				return err
			}
			if err := tx.DeleteVersion(ctx, candidate.VersionID); err != nil {
				return err
			}
			keys, err := tx.DeleteBlobs(ctx, owned)
			if err != nil {
				return err
			}
			objectKeys = append(objectKeys, keys...)
			counts.DeletedVersions++
			counts.DeletedBlobs += len(keys)
		}

		orphans, err := tx.ListOrphanBlobs(ctx, cutoff, batchSize)
		if err != nil {
			return err
		}
		if len(orphans) > 0 {
			digests := make([]string, 0, len(orphans))
			for _, blob := range orphans {
				digests = append(digests, blob.Digest)
			}
			keys, err := tx.DeleteBlobs(ctx, digests)
			if err != nil {
				return err
			}
			objectKeys = append(objectKeys, keys...)
			counts.DeletedBlobs += len(keys)
		}
		return nil
	})
	if err != nil {
		return storage.GCCounts{}, nil, err
	}
	return counts, objectKeys, nil
}

// ReconcileResult samples blobs with no remaining references
type ReconcileResult struct {
	OrphanBlobCount   int      `json:"orphanBlobCount"`
	OrphanBlobSamples []string `json:"orphanBlobSamples"`
}

// ReconcileBlobs scans for orphan blobs without mutating anything
func (s *Service) ReconcileBlobs(ctx context.Context, limit int) (*ReconcileResult, error) {
	if limit < 1 {
		return nil, errs.Validation("limit must be at least 1.")
	}
	now := s.now()
	count, err := s.store.CountOrphanBlobs(ctx, now)
	if err != nil {
		return nil, err
	}
	blobs, err := s.store.ListOrphanBlobs(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	samples := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		samples = append(samples, blob.Digest)
	}
	s.publish(events.EventGCReconciled, "orphan reconcile completed", map[string]string{
		"orphanCount": strconv.Itoa(count),
	})
	return &ReconcileResult{OrphanBlobCount: count, OrphanBlobSamples: samples}, nil
}

func (s *Service) publish(eventType events.EventType, message string, metadata map[string]string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.New(eventType, message, metadata))
}
