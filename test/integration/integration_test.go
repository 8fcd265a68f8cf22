// Package integration exercises the service stack against a real
// PostgreSQL. Tests skip unless ARTIFORTRESS_TEST_POSTGRES_DSN points
// at a database the suite may migrate and write to; object storage is
// an in-memory fake so only the truth store is external.
package integration

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/lifecycle"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/outbox"
	"github.com/artifortress/artifortress/pkg/policy"
	"github.com/artifortress/artifortress/pkg/publish"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
	"github.com/artifortress/artifortress/pkg/uploads"
)

const dsnEnv = "ARTIFORTRESS_TEST_POSTGRES_DSN"

// memObjectStore keeps objects in a map. Parts are never uploaded for
// real; tests place the staged bytes directly where commit will look.
type memObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	starts  int
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
}

func (m *memObjectStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memObjectStore) multipartStarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *memObjectStore) StartMultipart(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	return uuid.NewString(), nil
}

func (m *memObjectStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (*objectstore.PresignedPart, error) {
	return &objectstore.PresignedPart{
		URL:       fmt.Sprintf("mem://%s/part/%d", key, partNumber),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (m *memObjectStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objectstore.CompletedPart) error {
	return nil
}

func (m *memObjectStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return nil
}

func (m *memObjectStore) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errs.NotFoundf("object %s not found", key)
	}
	return &objectstore.ObjectInfo{Length: int64(len(data))}, nil
}

func (m *memObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, 0, errs.NotFoundf("object %s not found", key)
	}
	return io.NopCloser(strings.NewReader(string(data))), int64(len(data)), nil
}

func (m *memObjectStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, 0, errs.NotFoundf("object %s not found", key)
	}
	if start < 0 || end >= int64(len(data)) || end < start {
		return nil, 0, errs.RangeNotSatisfiable("requested range is outside the object")
	}
	slice := data[start : end+1]
	return io.NopCloser(strings.NewReader(string(slice))), int64(len(slice)), nil
}

func (m *memObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcKey]
	if !ok {
		return errs.NotFoundf("object %s not found", srcKey)
	}
	m.objects[dstKey] = data
	return nil
}

func (m *memObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjectStore) Probe(ctx context.Context) error { return nil }

// env is one wired test deployment: a migrated store, a fake object
// store, and the services under test sharing them.
type env struct {
	store     *storage.PostgresStore
	raw       *sql.DB
	objects   *memObjectStore
	uploads   *uploads.Service
	publish   *publish.Service
	policy    *policy.Service
	lifecycle *lifecycle.Service
	tenant    *types.Tenant
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("set %s to run integration tests", dsnEnv)
	}
	ctx := context.Background()

	store, err := storage.New(storage.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))

	raw, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })

	tenant, err := store.EnsureTenant(ctx, "it-"+uuid.NewString()[:8])
	require.NoError(t, err)

	logger := zerolog.Nop()
	objects := newMemObjectStore()
	return &env{
		store:     store,
		raw:       raw,
		objects:   objects,
		uploads:   uploads.NewService(store, objects, nil, 15*time.Minute, logger),
		publish:   publish.NewService(store, nil, logger),
		policy:    policy.NewService(store, 2*time.Second, nil, logger),
		lifecycle: lifecycle.NewService(store, objects, nil, 100, logger),
		tenant:    tenant,
	}
}

func (e *env) newRepo(t *testing.T) *types.Repo {
	t.Helper()
	repo := &types.Repo{
		RepoID:   uuid.New(),
		TenantID: e.tenant.TenantID,
		RepoKey:  "it-" + uuid.NewString()[:8],
		RepoType: types.RepoTypeLocal,
	}
	require.NoError(t, e.store.CreateRepo(context.Background(), repo))
	return repo
}

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// commitBlob pushes content through the whole upload state machine and
// returns the committed session.
func (e *env) commitBlob(t *testing.T, repo *types.Repo, content []byte) *types.UploadSession {
	t.Helper()
	ctx := context.Background()

	session, err := e.uploads.Create(ctx, e.tenant, repo, "it-writer", uploads.CreateRequest{
		ExpectedDigest: digestOf(content),
		ExpectedLength: int64(len(content)),
	})
	require.NoError(t, err)
	if session.Deduped {
		return session
	}

	_, err = e.uploads.PresignPart(ctx, e.tenant, repo, session.UploadID, "it-writer", uploads.PresignPartRequest{PartNumber: 1})
	require.NoError(t, err)

	_, err = e.uploads.Complete(ctx, e.tenant, repo, session.UploadID, "it-writer", uploads.CompleteRequest{
		Parts: []uploads.PartETag{{PartNumber: 1, ETag: "etag-1"}},
	})
	require.NoError(t, err)

	// The fake never saw the part PUTs; stage the bytes by hand.
	e.objects.put(session.ObjectStagingKey, content)

	committed, err := e.uploads.Commit(ctx, e.tenant, repo, session.UploadID, "it-writer")
	require.NoError(t, err)
	require.Equal(t, types.UploadStateCommitted, committed.State)
	return committed
}

// publishVersion drives draft → entries → manifest → publish for one
// committed blob and returns the published version id.
func (e *env) publishVersion(t *testing.T, repo *types.Repo, content []byte, name, version string) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	e.commitBlob(t, repo, content)
	draft, _, err := e.publish.CreateDraft(ctx, e.tenant, repo, "it-writer", publish.CreateDraftRequest{
		PackageType: "nuget",
		PackageName: name,
		Version:     version,
	})
	require.NoError(t, err)

	_, err = e.publish.UpsertEntries(ctx, e.tenant, repo, draft.VersionID, "it-writer", publish.UpsertEntriesRequest{
		Entries: []publish.EntryInput{{
			RelativePath: name + ".nupkg",
			BlobDigest:   digestOf(content),
			SizeBytes:    int64(len(content)),
		}},
	})
	require.NoError(t, err)

	manifest := fmt.Sprintf(`{"id":%q,"version":%q}`, name, version)
	_, err = e.publish.UpsertManifest(ctx, e.tenant, repo, draft.VersionID, "it-writer", publish.UpsertManifestRequest{
		Manifest: json.RawMessage(manifest),
	})
	require.NoError(t, err)

	result, err := e.publish.Publish(ctx, e.tenant, repo, draft.VersionID, "it-writer")
	require.NoError(t, err)
	require.Equal(t, types.VersionStatePublished, result.State)
	return draft.VersionID
}

func (e *env) publishedEventCount(t *testing.T, versionID uuid.UUID) int {
	t.Helper()
	var count int
	err := e.raw.QueryRow(
		`SELECT count(*) FROM outbox_events WHERE event_type = 'version.published' AND aggregate_id = $1`,
		versionID.String(),
	).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestUploadCommitAndDedupe(t *testing.T) {
	e := newEnv(t)
	repo := e.newRepo(t)
	content := []byte("integration blob payload")

	committed := e.commitBlob(t, repo, content)
	require.NotNil(t, committed.CommittedBlobDigest)
	assert.Equal(t, digestOf(content), *committed.CommittedBlobDigest)
	assert.False(t, committed.Deduped)
	assert.True(t, e.objects.has(uploads.BlobStorageKey(digestOf(content))))

	starts := e.objects.multipartStarts()
	deduped, err := e.uploads.Create(context.Background(), e.tenant, repo, "it-writer", uploads.CreateRequest{
		ExpectedDigest: digestOf(content),
		ExpectedLength: int64(len(content)),
	})
	require.NoError(t, err)
	assert.True(t, deduped.Deduped)
	assert.Equal(t, types.UploadStateCommitted, deduped.State)
	assert.Equal(t, starts, e.objects.multipartStarts(), "dedupe must not contact object storage")
}

func TestUploadVerificationMismatch(t *testing.T) {
	e := newEnv(t)
	repo := e.newRepo(t)
	ctx := context.Background()

	declared := []byte("what the client declared")
	actual := []byte("what actually got uploaded")

	session, err := e.uploads.Create(ctx, e.tenant, repo, "it-writer", uploads.CreateRequest{
		ExpectedDigest: digestOf(declared),
		ExpectedLength: int64(len(declared)),
	})
	require.NoError(t, err)

	_, err = e.uploads.PresignPart(ctx, e.tenant, repo, session.UploadID, "it-writer", uploads.PresignPartRequest{PartNumber: 1})
	require.NoError(t, err)
	_, err = e.uploads.Complete(ctx, e.tenant, repo, session.UploadID, "it-writer", uploads.CompleteRequest{
		Parts: []uploads.PartETag{{PartNumber: 1, ETag: "etag-1"}},
	})
	require.NoError(t, err)
	e.objects.put(session.ObjectStagingKey, actual)

	_, err = e.uploads.Commit(ctx, e.tenant, repo, session.UploadID, "it-writer")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, "upload_verification_failed", errs.CodeOf(err))

	after, err := e.store.GetUploadSession(ctx, e.tenant.TenantID, repo.RepoID, session.UploadID)
	require.NoError(t, err)
	assert.Equal(t, types.UploadStateAborted, after.State)

	_, err = e.store.GetBlob(ctx, digestOf(declared))
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "no blob row may exist for the failed session")
}

func TestPublishAtomicity(t *testing.T) {
	e := newEnv(t)
	repo := e.newRepo(t)
	ctx := context.Background()
	content := []byte("atomic publish payload")

	e.commitBlob(t, repo, content)
	draft, _, err := e.publish.CreateDraft(ctx, e.tenant, repo, "it-writer", publish.CreateDraftRequest{
		PackageType: "nuget",
		PackageName: "atomic.pkg",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	_, err = e.publish.UpsertEntries(ctx, e.tenant, repo, draft.VersionID, "it-writer", publish.UpsertEntriesRequest{
		Entries: []publish.EntryInput{{
			RelativePath: "atomic.pkg.nupkg",
			BlobDigest:   digestOf(content),
			SizeBytes:    int64(len(content)),
		}},
	})
	require.NoError(t, err)

	// No manifest yet: publish must fail wholesale.
	_, err = e.publish.Publish(ctx, e.tenant, repo, draft.VersionID, "it-writer")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, 0, e.publishedEventCount(t, draft.VersionID))

	version, err := e.store.GetVersionInRepo(ctx, e.tenant.TenantID, repo.RepoID, draft.VersionID)
	require.NoError(t, err)
	assert.Equal(t, types.VersionStateDraft, version.State)

	_, err = e.publish.UpsertManifest(ctx, e.tenant, repo, draft.VersionID, "it-writer", publish.UpsertManifestRequest{
		Manifest: json.RawMessage(`{"id":"atomic.pkg","version":"1.0.0"}`),
	})
	require.NoError(t, err)

	first, err := e.publish.Publish(ctx, e.tenant, repo, draft.VersionID, "it-writer")
	require.NoError(t, err)
	assert.True(t, first.EventEmitted)
	assert.False(t, first.Idempotent)
	assert.Equal(t, 1, e.publishedEventCount(t, draft.VersionID))

	second, err := e.publish.Publish(ctx, e.tenant, repo, draft.VersionID, "it-writer")
	require.NoError(t, err)
	assert.True(t, second.Idempotent)
	assert.False(t, second.EventEmitted)
	assert.Equal(t, 1, e.publishedEventCount(t, draft.VersionID), "republish must not emit a second event")
}

func TestQuarantineGatesOnlyOwningRepo(t *testing.T) {
	e := newEnv(t)
	repoA := e.newRepo(t)
	repoB := e.newRepo(t)
	ctx := context.Background()
	content := []byte("shared across repos")
	digest := digestOf(content)

	versionID := e.publishVersion(t, repoA, content, "gated.pkg", "1.0.0")
	e.commitBlob(t, repoB, content) // deduped committed session in B

	verdict, err := e.policy.Evaluate(ctx, e.tenant, repoA, "it-operator", policy.EvaluateRequest{
		VersionID:    versionID.String(),
		Action:       "publish",
		Reason:       "malware scan hit",
		DecisionHint: "quarantine",
	})
	require.NoError(t, err)
	require.NotNil(t, verdict.QuarantineID)

	_, err = e.uploads.Download(ctx, e.tenant, repoA, digest, "")
	require.Error(t, err)
	assert.Equal(t, errs.KindLocked, errs.KindOf(err))
	assert.Equal(t, "quarantined_blob", errs.CodeOf(err))

	dl, err := e.uploads.Download(ctx, e.tenant, repoB, digest, "")
	require.NoError(t, err, "quarantine in repo A must not gate repo B")
	body, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	assert.Equal(t, content, body)

	released, err := e.policy.Release(ctx, e.tenant, repoA, *verdict.QuarantineID, "it-operator")
	require.NoError(t, err)
	assert.Equal(t, types.QuarantineStatusReleased, released.Status)

	_, err = e.uploads.Download(ctx, e.tenant, repoA, digest, "")
	assert.NoError(t, err, "released quarantine must not gate")
}

func TestGCDrainsDeterministically(t *testing.T) {
	e := newEnv(t)
	repo := e.newRepo(t)
	ctx := context.Background()
	execute := false

	// Clear stray orphans from earlier runs so batch accounting below
	// only sees this test's rows.
	_, err := e.lifecycle.Run(ctx, e.tenant, "it-admin", lifecycle.GCRequest{
		DryRun:    &execute,
		BatchSize: intPtr(1000),
	})
	require.NoError(t, err)

	expired1 := e.publishVersion(t, repo, []byte("expired one"), "exp.one", "1.0.0")
	expired2 := e.publishVersion(t, repo, []byte("expired two"), "exp.two", "1.0.0")
	retained := e.publishVersion(t, repo, []byte("retained"), "keep.me", "1.0.0")

	for i, versionID := range []uuid.UUID{expired1, expired2} {
		_, err := e.lifecycle.Tombstone(ctx, e.tenant, repo, versionID, "it-admin", lifecycle.TombstoneRequest{
			Reason:        "cleanup",
			RetentionDays: 0,
		})
		require.NoError(t, err, "tombstone %d", i)
	}
	_, err = e.lifecycle.Tombstone(ctx, e.tenant, repo, retained, "it-admin", lifecycle.TombstoneRequest{
		Reason:        "cleanup",
		RetentionDays: 30,
	})
	require.NoError(t, err)

	orphan := digestOf([]byte("orphan bytes " + uuid.NewString()))
	_, err = e.raw.Exec(
		`INSERT INTO blobs (digest, length_bytes, storage_key, created_at)
		 VALUES ($1, $2, $3, now() - interval '48 hours')`,
		orphan, 12, "blobs/sha256/"+orphan)
	require.NoError(t, err)

	dry, err := e.lifecycle.Run(ctx, e.tenant, "it-admin", lifecycle.GCRequest{})
	require.NoError(t, err)
	assert.Equal(t, types.GCModeDryRun, dry.Mode)
	assert.Equal(t, 2, dry.CandidateVersionCount)
	assert.GreaterOrEqual(t, dry.CandidateBlobCount, 1)
	assert.Zero(t, dry.DeletedVersionCount)

	var deletedVersions []int
	for i := 0; i < 3; i++ {
		result, err := e.lifecycle.Run(ctx, e.tenant, "it-admin", lifecycle.GCRequest{
			DryRun:    &execute,
			BatchSize: intPtr(1),
		})
		require.NoError(t, err)
		deletedVersions = append(deletedVersions, result.DeletedVersionCount)
	}
	assert.Equal(t, []int{1, 1, 0}, deletedVersions)

	_, err = e.store.GetBlob(ctx, orphan)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err), "orphan blob must be reclaimed")

	version, err := e.store.GetVersionInRepo(ctx, e.tenant.TenantID, repo.RepoID, retained)
	require.NoError(t, err, "retained version must survive")
	assert.Equal(t, types.VersionStateTombstoned, version.State)
	_, err = e.store.GetBlob(ctx, digestOf([]byte("retained")))
	assert.NoError(t, err, "retained version's blob must survive")
}

func intPtr(v int) *int { return &v }

type jobRow struct {
	status      string
	attempts    int
	lastError   sql.NullString
	availableAt time.Time
}

func (e *env) jobFor(t *testing.T, versionID uuid.UUID) jobRow {
	t.Helper()
	var row jobRow
	err := e.raw.QueryRow(
		`SELECT status, attempts, last_error, available_at
		   FROM search_index_jobs WHERE tenant_id = $1 AND version_id = $2`,
		e.tenant.TenantID, versionID,
	).Scan(&row.status, &row.attempts, &row.lastError, &row.availableAt)
	require.NoError(t, err)
	return row
}

func (e *env) releaseJob(t *testing.T, versionID uuid.UUID) {
	t.Helper()
	_, err := e.raw.Exec(
		`UPDATE search_index_jobs SET available_at = now() - interval '1 second'
		  WHERE tenant_id = $1 AND version_id = $2`,
		e.tenant.TenantID, versionID)
	require.NoError(t, err)
}

func TestSearchJobBackoffSequence(t *testing.T) {
	e := newEnv(t)
	repo := e.newRepo(t)
	ctx := context.Background()
	logger := zerolog.Nop()

	sweeps := outbox.NewService(e.store, outbox.Settings{
		BatchSize:   50,
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		MaxExponent: 5,
	}, logger)

	// Drain jobs left behind by earlier tests so sweep outcomes below
	// reflect only this test's rows.
	for i := 0; i < 10; i++ {
		outcome, err := sweeps.SweepJobs(ctx)
		require.NoError(t, err)
		if outcome.ClaimedCount == 0 {
			break
		}
	}

	// A draft version with a hand-written published event models an
	// index queue running ahead of truth.
	draft, _, err := e.publish.CreateDraft(ctx, e.tenant, repo, "it-writer", publish.CreateDraftRequest{
		PackageType: "nuget",
		PackageName: "backoff.pkg",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	err = e.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		now := time.Now().UTC()
		return tx.InsertOutboxEvent(ctx, &types.OutboxEvent{
			TenantID:      e.tenant.TenantID,
			AggregateType: "version",
			AggregateID:   draft.VersionID.String(),
			EventType:     types.EventTypeVersionPublished,
			PayloadJSON:   fmt.Sprintf(`{"versionId":%q}`, draft.VersionID),
			AvailableAt:   now,
			OccurredAt:    now,
		})
	})
	require.NoError(t, err)

	produced, err := sweeps.SweepOutbox(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, produced.EnqueuedCount, 1)

	_, err = sweeps.SweepJobs(ctx)
	require.NoError(t, err)
	first := e.jobFor(t, draft.VersionID)
	assert.Equal(t, "failed", first.status)
	assert.Equal(t, 1, first.attempts)
	assert.Equal(t, "version_not_published", first.lastError.String)
	assert.True(t, first.availableAt.After(time.Now()), "failed job must back off into the future")

	// Still backing off: nothing for this version is claimable.
	_, err = sweeps.SweepJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, e.jobFor(t, draft.VersionID).attempts)

	e.releaseJob(t, draft.VersionID)
	_, err = sweeps.SweepJobs(ctx)
	require.NoError(t, err)
	second := e.jobFor(t, draft.VersionID)
	assert.Equal(t, 2, second.attempts)
	assert.True(t, second.availableAt.After(first.availableAt), "backoff must be strictly monotonic")

	e.releaseJob(t, draft.VersionID)
	_, err = sweeps.SweepJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, e.jobFor(t, draft.VersionID).attempts)

	// maxAttempts reached: terminal, no further claims.
	e.releaseJob(t, draft.VersionID)
	_, err = sweeps.SweepJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, e.jobFor(t, draft.VersionID).attempts)

	// Publishing the version lets a fresh event complete the job.
	_, err = e.publish.UpsertEntries(ctx, e.tenant, repo, draft.VersionID, "it-writer", publish.UpsertEntriesRequest{
		Entries: []publish.EntryInput{{
			RelativePath: "backoff.pkg.nupkg",
			BlobDigest:   e.commitDigest(t, repo),
			SizeBytes:    int64(len("backoff content")),
		}},
	})
	require.NoError(t, err)
	_, err = e.publish.UpsertManifest(ctx, e.tenant, repo, draft.VersionID, "it-writer", publish.UpsertManifestRequest{
		Manifest: json.RawMessage(`{"id":"backoff.pkg","version":"1.0.0"}`),
	})
	require.NoError(t, err)
	_, err = e.publish.Publish(ctx, e.tenant, repo, draft.VersionID, "it-writer")
	require.NoError(t, err)

	_, err = sweeps.SweepOutbox(ctx)
	require.NoError(t, err)
	e.releaseJob(t, draft.VersionID)
	_, err = e.raw.Exec(
		`UPDATE search_index_jobs SET attempts = 0, status = 'pending'
		  WHERE tenant_id = $1 AND version_id = $2`,
		e.tenant.TenantID, draft.VersionID)
	require.NoError(t, err)

	_, err = sweeps.SweepJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "completed", e.jobFor(t, draft.VersionID).status)
}

// commitDigest commits a small fixed blob and returns its digest
func (e *env) commitDigest(t *testing.T, repo *types.Repo) string {
	t.Helper()
	content := []byte("backoff content")
	e.commitBlob(t, repo, content)
	return digestOf(content)
}
