package uploads

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artifortress/artifortress/pkg/audit"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/metrics"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// sessionTTL bounds how long an upload session may stay open. Expiry is
// enforced lazily: there is no background expirer, any lifecycle call on
// an expired session conflicts.
const sessionTTL = 24 * time.Hour

// blobKeyPrefix is the content-addressed location committed blobs live at
const blobKeyPrefix = "blobs/sha256/"

// BlobStorageKey returns the canonical object key for a digest
func BlobStorageKey(digest string) string {
	return blobKeyPrefix + digest
}

// Service drives the upload session state machine:
//
//	initiated -> parts_uploading -> pending_commit -> committed
//	     \              \                  /
//	      +--------------+----> aborted <-+
//
// committed and aborted are terminal. Deduplicated sessions are born
// committed and never touch object storage.
type Service struct {
	store   storage.Store
	objects objectstore.Client
	broker  *events.Broker
	partTTL time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates the upload engine. partTTL arrives pre-clamped by
// configuration. The broker may be nil; live notifications are then
// skipped.
func NewService(store storage.Store, objects objectstore.Client, broker *events.Broker, partTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		objects: objects,
		broker:  broker,
		partTTL: partTTL,
		logger:  logger.With().Str("component", "uploads").Logger(),
		now:     time.Now,
	}
}

// CreateRequest declares the content an upload will carry
type CreateRequest struct {
	ExpectedDigest string `json:"expectedDigest"`
	ExpectedLength int64  `json:"expectedLength"`
}

// PresignPartRequest asks for one part URL
type PresignPartRequest struct {
	PartNumber int32 `json:"partNumber"`
}

// PresignedPartResponse carries the URL a client PUTs the part to
type PresignedPartResponse struct {
	PartNumber int32     `json:"partNumber"`
	UploadURL  string    `json:"uploadUrl"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// PartETag identifies one uploaded part in a complete call
type PartETag struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// CompleteRequest lists the uploaded parts
type CompleteRequest struct {
	Parts []PartETag `json:"parts"`
}

// AbortRequest optionally explains why the client gave up
type AbortRequest struct {
	Reason string `json:"reason"`
}

// Create opens an upload session. When a blob with the declared digest
// and matching length already exists the session is recorded committed
// and deduplicated without contacting object storage; a digest collision
// with a different length can never verify, so it conflicts immediately.
func (s *Service) Create(ctx context.Context, tenant *types.Tenant, repo *types.Repo, subject string, req CreateRequest) (*types.UploadSession, error) {
	digest := strings.TrimSpace(req.ExpectedDigest)
	if !types.IsDigest(digest) {
		return nil, errs.Validation("expectedDigest must be a 64-character lowercase hex SHA-256 digest.")
	}
	if req.ExpectedLength < 1 {
		return nil, errs.Validation("expectedLength must be at least 1.")
	}

	blob, err := s.store.GetBlob(ctx, digest)
	switch {
	case err == nil && blob.LengthBytes == req.ExpectedLength:
		return s.createDeduped(ctx, tenant, repo, subject, digest, req.ExpectedLength)
	case err == nil:
		return nil, errs.Conflictf("blob %s already exists with length %d, not %d", digest, blob.LengthBytes, req.ExpectedLength)
	case !errs.IsKind(err, errs.KindNotFound):
		return nil, err
	}

	id, err := s.store.NextUploadSessionID(ctx)
	if err != nil {
		return nil, err
	}
	stagingKey := fmt.Sprintf("staging/%d/%s/%d", tenant.ID, repo.RepoKey, id)

	storageUploadID, err := s.objects.StartMultipart(ctx, stagingKey)
	if err != nil {
		return nil, err
	}

	session := &types.UploadSession{
		ID:               id,
		UploadID:         uuid.New(),
		TenantID:         tenant.TenantID,
		RepoID:           repo.RepoID,
		ExpectedDigest:   digest,
		ExpectedLength:   req.ExpectedLength,
		StorageUploadID:  storageUploadID,
		ObjectStagingKey: stagingKey,
		State:            types.UploadStateInitiated,
		CreatedBySubject: subject,
		ExpiresAt:        s.now().Add(sessionTTL).UTC(),
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.InsertUploadSession(ctx, session); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadCreated, subject, audit.ResourceUpload, session.UploadID.String(), map[string]interface{}{
			"repoKey":        repo.RepoKey,
			"uploadId":       session.UploadID.String(),
			"expectedDigest": digest,
			"expectedLength": req.ExpectedLength,
			"deduped":        false,
		}))
	})
	if err != nil {
		// The multipart upload was already opened; reclaim it so the
		// bucket does not accumulate orphaned uploads.
		s.abortRemote(session)
		return nil, err
	}

	metrics.UploadTransitionsTotal.WithLabelValues("started").Inc()
	s.logger.Info().
		Str("upload_id", session.UploadID.String()).
		Str("repo_key", repo.RepoKey).
		Str("digest", digest).
		Msg("upload session initiated")
	return session, nil
}

func (s *Service) createDeduped(ctx context.Context, tenant *types.Tenant, repo *types.Repo, subject, digest string, length int64) (*types.UploadSession, error) {
	id, err := s.store.NextUploadSessionID(ctx)
	if err != nil {
		return nil, err
	}
	session := &types.UploadSession{
		ID:                  id,
		UploadID:            uuid.New(),
		TenantID:            tenant.TenantID,
		RepoID:              repo.RepoID,
		ExpectedDigest:      digest,
		ExpectedLength:      length,
		State:               types.UploadStateCommitted,
		CreatedBySubject:    subject,
		ExpiresAt:           s.now().Add(sessionTTL).UTC(),
		CommittedBlobDigest: &digest,
		Deduped:             true,
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.InsertUploadSession(ctx, session); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadCreated, subject, audit.ResourceUpload, session.UploadID.String(), map[string]interface{}{
			"repoKey":        repo.RepoKey,
			"uploadId":       session.UploadID.String(),
			"expectedDigest": digest,
			"expectedLength": length,
			"deduped":        true,
		}))
	})
	if err != nil {
		return nil, err
	}

	metrics.UploadTransitionsTotal.WithLabelValues("deduped").Inc()
	s.logger.Info().
		Str("upload_id", session.UploadID.String()).
		Str("repo_key", repo.RepoKey).
		Str("digest", digest).
		Msg("upload deduplicated against existing blob")
	return session, nil
}

// PresignPart returns a PUT URL for one part and moves the session into
// parts_uploading. Re-presigning the same part number is allowed; the
// last uploaded content wins at complete time.
func (s *Service) PresignPart(ctx context.Context, tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID, subject string, req PresignPartRequest) (*PresignedPartResponse, error) {
	if req.PartNumber < 1 {
		return nil, errs.Validation("partNumber must be positive.")
	}
	session, err := s.getActive(ctx, tenant, repo, uploadID)
	if err != nil {
		return nil, err
	}
	if session.State != types.UploadStateInitiated && session.State != types.UploadStatePartsUploading {
		return nil, errs.Conflictf("cannot presign a part in state %q", session.State)
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		ok, err := tx.TransitionUploadSession(ctx, uploadID,
			[]types.UploadSessionState{types.UploadStateInitiated, types.UploadStatePartsUploading},
			types.UploadStatePartsUploading, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("upload session state changed concurrently")
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadPartPresigned, subject, audit.ResourceUpload, uploadID.String(), map[string]interface{}{
			"repoKey":    repo.RepoKey,
			"uploadId":   uploadID.String(),
			"partNumber": req.PartNumber,
		}))
	})
	if err != nil {
		return nil, err
	}

	presigned, err := s.objects.PresignPart(ctx, session.ObjectStagingKey, session.StorageUploadID, req.PartNumber, s.partTTL)
	if err != nil {
		return nil, err
	}
	metrics.UploadTransitionsTotal.WithLabelValues("part_presigned").Inc()
	return &PresignedPartResponse{
		PartNumber: req.PartNumber,
		UploadURL:  presigned.URL,
		ExpiresAt:  presigned.ExpiresAt,
	}, nil
}

// Complete stitches the uploaded parts together and parks the session in
// pending_commit awaiting verification.
func (s *Service) Complete(ctx context.Context, tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID, subject string, req CompleteRequest) (*types.UploadSession, error) {
	parts, err := normalizeParts(req.Parts)
	if err != nil {
		return nil, err
	}
	session, err := s.getActive(ctx, tenant, repo, uploadID)
	if err != nil {
		return nil, err
	}
	if session.State != types.UploadStatePartsUploading {
		return nil, errs.Conflictf("cannot complete an upload in state %q", session.State)
	}

	if err := s.objects.CompleteMultipart(ctx, session.ObjectStagingKey, session.StorageUploadID, parts); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		ok, err := tx.TransitionUploadSession(ctx, uploadID,
			[]types.UploadSessionState{types.UploadStatePartsUploading},
			types.UploadStatePendingCommit, nil)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("upload session state changed concurrently")
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadCompleted, subject, audit.ResourceUpload, uploadID.String(), map[string]interface{}{
			"repoKey":  repo.RepoKey,
			"uploadId": uploadID.String(),
			"parts":    len(parts),
		}))
	})
	if err != nil {
		return nil, err
	}

	metrics.UploadTransitionsTotal.WithLabelValues("completed").Inc()
	session.State = types.UploadStatePendingCommit
	return session, nil
}

// Abort cancels a session from any non-terminal state. The multipart
// abort is best-effort; the truth store transition is what counts.
func (s *Service) Abort(ctx context.Context, tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID, subject string, req AbortRequest) (*types.UploadSession, error) {
	session, err := s.getActive(ctx, tenant, repo, uploadID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return nil, errs.Conflictf("cannot abort an upload in state %q", session.State)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "client_abort"
	}

	s.abortRemote(session)

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		ok, err := tx.TransitionUploadSession(ctx, uploadID,
			[]types.UploadSessionState{types.UploadStateInitiated, types.UploadStatePartsUploading, types.UploadStatePendingCommit},
			types.UploadStateAborted, &reason)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("upload session state changed concurrently")
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadAborted, subject, audit.ResourceUpload, uploadID.String(), map[string]interface{}{
			"repoKey":  repo.RepoKey,
			"uploadId": uploadID.String(),
			"reason":   reason,
		}))
	})
	if err != nil {
		return nil, err
	}

	metrics.UploadTransitionsTotal.WithLabelValues("aborted").Inc()
	session.State = types.UploadStateAborted
	session.AbortReason = &reason
	return session, nil
}

// Commit streams the staged object, verifies digest and length, and on
// success records the blob and finalizes the session in one transaction.
// A mismatch aborts the session and surfaces upload_verification_failed.
func (s *Service) Commit(ctx context.Context, tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID, subject string) (*types.UploadSession, error) {
	session, err := s.getActive(ctx, tenant, repo, uploadID)
	if err != nil {
		return nil, err
	}
	if session.State != types.UploadStatePendingCommit {
		return nil, errs.Conflictf("cannot commit an upload in state %q", session.State)
	}

	actualDigest, actualLength, err := s.streamDigest(ctx, session.ObjectStagingKey)
	if err != nil {
		return nil, err
	}

	if actualDigest != session.ExpectedDigest || actualLength != session.ExpectedLength {
		return nil, s.failVerification(ctx, tenant, repo, session, subject, actualDigest, actualLength)
	}

	blobKey := BlobStorageKey(session.ExpectedDigest)
	if err := s.objects.Copy(ctx, session.ObjectStagingKey, blobKey); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.UpsertBlob(ctx, &types.Blob{
			Digest:      session.ExpectedDigest,
			LengthBytes: session.ExpectedLength,
			StorageKey:  blobKey,
		}); err != nil {
			return err
		}
		ok, err := tx.SetUploadCommitted(ctx, uploadID, session.ExpectedDigest, false)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("upload session state changed concurrently")
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadCommitted, subject, audit.ResourceUpload, uploadID.String(), map[string]interface{}{
			"repoKey":  repo.RepoKey,
			"uploadId": uploadID.String(),
			"digest":   session.ExpectedDigest,
			"length":   session.ExpectedLength,
		}))
	})
	if err != nil {
		return nil, err
	}

	// The staged copy is redundant once the blob-addressed object exists.
	if err := s.objects.Delete(ctx, session.ObjectStagingKey); err != nil {
		s.logger.Warn().Err(err).Str("key", session.ObjectStagingKey).Msg("failed to delete staging object")
	}

	digest := session.ExpectedDigest
	session.State = types.UploadStateCommitted
	session.CommittedBlobDigest = &digest

	metrics.UploadTransitionsTotal.WithLabelValues("committed").Inc()
	metrics.BlobBytesCommitted.Add(float64(session.ExpectedLength))
	s.logger.Info().
		Str("upload_id", uploadID.String()).
		Str("digest", digest).
		Int64("length", session.ExpectedLength).
		Msg("upload committed")
	if s.broker != nil {
		s.broker.Publish(events.New(events.EventUploadCommitted, "upload committed", map[string]string{
			"uploadId": uploadID.String(),
			"digest":   digest,
		}))
	}
	return session, nil
}

func (s *Service) failVerification(ctx context.Context, tenant *types.Tenant, repo *types.Repo, session *types.UploadSession, subject, actualDigest string, actualLength int64) error {
	reason := "verification_failed"
	err := s.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		ok, err := tx.TransitionUploadSession(ctx, session.UploadID,
			[]types.UploadSessionState{types.UploadStatePendingCommit},
			types.UploadStateAborted, &reason)
		if err != nil {
			return err
		}
		if !ok {
			return errs.Conflict("upload session state changed concurrently")
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionUploadVerificationFailed, subject, audit.ResourceUpload, session.UploadID.String(), map[string]interface{}{
			"repoKey":        repo.RepoKey,
			"uploadId":       session.UploadID.String(),
			"expectedDigest": session.ExpectedDigest,
			"actualDigest":   actualDigest,
			"expectedLength": session.ExpectedLength,
			"actualLength":   actualLength,
		}))
	})
	if err != nil {
		return err
	}

	s.abortRemote(session)

	metrics.UploadTransitionsTotal.WithLabelValues("verification_failed").Inc()
	s.logger.Warn().
		Str("upload_id", session.UploadID.String()).
		Str("expected_digest", session.ExpectedDigest).
		Str("actual_digest", actualDigest).
		Msg("upload verification failed")
	return errs.New(errs.KindConflict, "upload_verification_failed", "uploaded content does not match the declared digest and length")
}

// streamDigest reads the staged object once, hashing and counting
func (s *Service) streamDigest(ctx context.Context, key string) (string, int64, error) {
	body, _, err := s.objects.Get(ctx, key)
	if err != nil {
		return "", 0, err
	}
	defer body.Close()

	hasher := sha256.New()
	n, err := io.Copy(hasher, body)
	if err != nil {
		return "", 0, errs.Wrap(errs.KindDependencyUnavailable, "object_store_error", "failed to stream staged object", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// getActive loads the session and applies the lazy expiry rule: once
// expires_at has passed, every lifecycle call conflicts.
func (s *Service) getActive(ctx context.Context, tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID) (*types.UploadSession, error) {
	session, err := s.store.GetUploadSession(ctx, tenant.TenantID, repo.RepoID, uploadID)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		return nil, errs.Conflict("upload session is expired")
	}
	return session, nil
}

func (s *Service) abortRemote(session *types.UploadSession) {
	if session.StorageUploadID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.objects.AbortMultipart(ctx, session.ObjectStagingKey, session.StorageUploadID); err != nil {
		s.logger.Warn().Err(err).
			Str("upload_id", session.UploadID.String()).
			Msg("failed to abort multipart upload")
	}
}

// normalizeParts validates the complete payload: non-empty, unique,
// positive, ascending part numbers with non-blank ETags. Outer quotes on
// ETags are stripped, matching how S3 clients echo them.
func normalizeParts(parts []PartETag) ([]objectstore.CompletedPart, error) {
	if len(parts) == 0 {
		return nil, errs.Validation("parts must not be empty.")
	}
	seen := make(map[int32]struct{}, len(parts))
	out := make([]objectstore.CompletedPart, 0, len(parts))
	prev := int32(0)
	for _, part := range parts {
		if part.PartNumber < 1 {
			return nil, errs.Validationf("partNumber '%d' must be positive.", part.PartNumber)
		}
		if _, dup := seen[part.PartNumber]; dup {
			return nil, errs.Validationf("Duplicate partNumber '%d' is not allowed.", part.PartNumber)
		}
		seen[part.PartNumber] = struct{}{}
		if part.PartNumber < prev {
			return nil, errs.Validation("partNumbers must be ascending.")
		}
		prev = part.PartNumber

		etag := strings.TrimSpace(part.ETag)
		if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
			etag = etag[1 : len(etag)-1]
		}
		if strings.TrimSpace(etag) == "" {
			return nil, errs.Validationf("etag for partNumber '%d' must not be blank.", part.PartNumber)
		}
		out = append(out, objectstore.CompletedPart{PartNumber: part.PartNumber, ETag: etag})
	}
	return out, nil
}
