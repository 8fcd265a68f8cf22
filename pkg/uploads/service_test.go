package uploads

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

const testDigest = "aab582c5e4e5f3e170de1b66a5797b8fd5ce300dbbfc0544d433e6e663b8a744"

type fakeObjectStore struct {
	startKey    string
	startErr    error
	presignErr  error
	completed   []objectstore.CompletedPart
	completeErr error
	aborted     []string
	getBody     []byte
	getErr      error
	rangeStart  int64
	rangeEnd    int64
	copySrc     string
	copyDst     string
	copyErr     error
	deleted     []string
	deleteErr   error
}

func (f *fakeObjectStore) StartMultipart(ctx context.Context, key string) (string, error) {
	f.startKey = key
	if f.startErr != nil {
		return "", f.startErr
	}
	return "mp-1", nil
}

func (f *fakeObjectStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (*objectstore.PresignedPart, error) {
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	return &objectstore.PresignedPart{
		URL:       fmt.Sprintf("https://signed.example/%s?part=%d", key, partNumber),
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (f *fakeObjectStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objectstore.CompletedPart) error {
	f.completed = parts
	return f.completeErr
}

func (f *fakeObjectStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	f.aborted = append(f.aborted, key)
	return nil
}

func (f *fakeObjectStore) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	return &objectstore.ObjectInfo{Length: int64(len(f.getBody))}, nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	if f.getErr != nil {
		return nil, 0, f.getErr
	}
	return io.NopCloser(bytes.NewReader(f.getBody)), int64(len(f.getBody)), nil
}

func (f *fakeObjectStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, int64, error) {
	f.rangeStart, f.rangeEnd = start, end
	if f.getErr != nil {
		return nil, 0, f.getErr
	}
	return io.NopCloser(bytes.NewReader(f.getBody[start : end+1])), end - start + 1, nil
}

func (f *fakeObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	f.copySrc, f.copyDst = srcKey, dstKey
	return f.copyErr
}

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return f.deleteErr
}

func (f *fakeObjectStore) Probe(ctx context.Context) error { return nil }

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *fakeObjectStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	objects := &fakeObjectStore{}
	svc := NewService(storage.NewWithDB(db), objects, nil, 900*time.Second, zerolog.Nop())
	return svc, mock, objects
}

func testTenant() *types.Tenant {
	return &types.Tenant{ID: 1, TenantID: uuid.New(), Slug: "default"}
}

func testRepo(tenant *types.Tenant) *types.Repo {
	return &types.Repo{ID: 3, RepoID: uuid.New(), TenantID: tenant.TenantID, RepoKey: "libs", RepoType: types.RepoTypeLocal}
}

func expectBlobMissing(mock sqlmock.Sqlmock, digest string) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT digest, length_bytes, storage_key, created_at FROM blobs`)).
		WithArgs(digest).
		WillReturnRows(sqlmock.NewRows([]string{"digest"}))
}

func expectBlobRow(mock sqlmock.Sqlmock, digest string, length int64) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT digest, length_bytes, storage_key, created_at FROM blobs`)).
		WithArgs(digest).
		WillReturnRows(sqlmock.NewRows([]string{"digest", "length_bytes", "storage_key", "created_at"}).
			AddRow(digest, length, "blobs/sha256/"+digest, time.Now()))
}

func expectNextID(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT nextval('upload_session_id_seq')`)).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(id))
}

func expectSessionInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO upload_sessions`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
}

func expectAuditInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO audit_log`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
}

func expectTransition(mock sqlmock.Sqlmock, affected int64) {
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE upload_sessions`)).
		WillReturnResult(sqlmock.NewResult(0, affected))
}

// sessionRow returns a GetUploadSession result in the given state, one
// hour away from expiry
func sessionRow(tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID, state types.UploadSessionState) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "upload_id", "tenant_id", "repo_id", "expected_digest", "expected_length",
		"storage_upload_id", "object_staging_key", "state", "created_by_subject",
		"created_at", "expires_at", "committed_blob_digest", "deduped", "abort_reason",
	}).AddRow(
		7, uploadID, tenant.TenantID, repo.RepoID, testDigest, int64(42),
		"mp-1", "staging/1/libs/7", string(state), "ci-bot",
		time.Now(), time.Now().Add(time.Hour), nil, false, nil,
	)
}

func expectGetSession(mock sqlmock.Sqlmock, tenant *types.Tenant, repo *types.Repo, uploadID uuid.UUID, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, upload_id, tenant_id, repo_id, expected_digest`)).
		WithArgs(tenant.TenantID, repo.RepoID, uploadID).
		WillReturnRows(rows)
}

func TestCreateUpload(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)

	expectBlobMissing(mock, testDigest)
	expectNextID(mock, 42)
	mock.ExpectBegin()
	expectSessionInsert(mock)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	session, err := svc.Create(context.Background(), tenant, repo, "ci-bot", CreateRequest{
		ExpectedDigest: testDigest,
		ExpectedLength: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, types.UploadStateInitiated, session.State)
	assert.Equal(t, "mp-1", session.StorageUploadID)
	assert.Equal(t, "staging/1/libs/42", session.ObjectStagingKey)
	assert.Equal(t, "staging/1/libs/42", objects.startKey)
	assert.False(t, session.Deduped)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), session.ExpiresAt, 5*time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUploadDeduped(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)

	expectBlobRow(mock, testDigest, 42)
	expectNextID(mock, 43)
	mock.ExpectBegin()
	expectSessionInsert(mock)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	session, err := svc.Create(context.Background(), tenant, repo, "ci-bot", CreateRequest{
		ExpectedDigest: testDigest,
		ExpectedLength: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, types.UploadStateCommitted, session.State)
	assert.True(t, session.Deduped)
	require.NotNil(t, session.CommittedBlobDigest)
	assert.Equal(t, testDigest, *session.CommittedBlobDigest)
	assert.Empty(t, session.StorageUploadID)
	assert.Empty(t, objects.startKey, "deduplication must not open a multipart upload")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUploadLengthCollision(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)

	expectBlobRow(mock, testDigest, 99)

	_, err := svc.Create(context.Background(), tenant, repo, "ci-bot", CreateRequest{
		ExpectedDigest: testDigest,
		ExpectedLength: 42,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "already exists with length 99")
}

func TestCreateUploadValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)

	_, err := svc.Create(context.Background(), tenant, repo, "ci-bot", CreateRequest{
		ExpectedDigest: "not-a-digest",
		ExpectedLength: 42,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = svc.Create(context.Background(), tenant, repo, "ci-bot", CreateRequest{
		ExpectedDigest: testDigest,
		ExpectedLength: 0,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCreateUploadReclaimsMultipartOnInsertFailure(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)

	expectBlobMissing(mock, testDigest)
	expectNextID(mock, 42)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO upload_sessions`)).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), tenant, repo, "ci-bot", CreateRequest{
		ExpectedDigest: testDigest,
		ExpectedLength: 42,
	})
	require.Error(t, err)
	assert.Equal(t, []string{"staging/1/libs/42"}, objects.aborted)
}

func TestPresignPart(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStateInitiated))
	mock.ExpectBegin()
	expectTransition(mock, 1)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	resp, err := svc.PresignPart(context.Background(), tenant, repo, uploadID, "ci-bot", PresignPartRequest{PartNumber: 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), resp.PartNumber)
	assert.Contains(t, resp.UploadURL, "part=3")
	assert.WithinDuration(t, time.Now().Add(900*time.Second), resp.ExpiresAt, 5*time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPresignPartStateConflict(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStatePendingCommit))

	_, err := svc.PresignPart(context.Background(), tenant, repo, uploadID, "ci-bot", PresignPartRequest{PartNumber: 1})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), `cannot presign a part in state "pending_commit"`)
}

func TestPresignPartExpiredSession(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	rows := sqlmock.NewRows([]string{
		"id", "upload_id", "tenant_id", "repo_id", "expected_digest", "expected_length",
		"storage_upload_id", "object_staging_key", "state", "created_by_subject",
		"created_at", "expires_at", "committed_blob_digest", "deduped", "abort_reason",
	}).AddRow(
		7, uploadID, tenant.TenantID, repo.RepoID, testDigest, int64(42),
		"mp-1", "staging/1/libs/7", "initiated", "ci-bot",
		time.Now().Add(-25*time.Hour), time.Now().Add(-time.Hour), nil, false, nil,
	)
	expectGetSession(mock, tenant, repo, uploadID, rows)

	_, err := svc.PresignPart(context.Background(), tenant, repo, uploadID, "ci-bot", PresignPartRequest{PartNumber: 1})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "expired")
}

func TestPresignPartValidatesNumber(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenant := testTenant()

	_, err := svc.PresignPart(context.Background(), tenant, testRepo(tenant), uuid.New(), "ci-bot", PresignPartRequest{PartNumber: 0})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestCompleteUpload(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStatePartsUploading))
	mock.ExpectBegin()
	expectTransition(mock, 1)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	session, err := svc.Complete(context.Background(), tenant, repo, uploadID, "ci-bot", CompleteRequest{
		Parts: []PartETag{
			{PartNumber: 1, ETag: `"etag-a"`},
			{PartNumber: 2, ETag: "etag-b"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.UploadStatePendingCommit, session.State)
	require.Len(t, objects.completed, 2)
	assert.Equal(t, "etag-a", objects.completed[0].ETag, "outer quotes are stripped")
	assert.Equal(t, "etag-b", objects.completed[1].ETag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteUploadValidatesParts(t *testing.T) {
	svc, _, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	tests := []struct {
		name    string
		parts   []PartETag
		message string
	}{
		{"empty", nil, "parts must not be empty."},
		{"zero part number", []PartETag{{PartNumber: 0, ETag: "a"}}, "partNumber '0' must be positive."},
		{"duplicate", []PartETag{{PartNumber: 1, ETag: "a"}, {PartNumber: 1, ETag: "b"}}, "Duplicate partNumber '1' is not allowed."},
		{"descending", []PartETag{{PartNumber: 2, ETag: "a"}, {PartNumber: 1, ETag: "b"}}, "partNumbers must be ascending."},
		{"blank etag", []PartETag{{PartNumber: 1, ETag: `""`}}, "etag for partNumber '1' must not be blank."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Complete(context.Background(), tenant, repo, uploadID, "ci-bot", CompleteRequest{Parts: tt.parts})
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestCompleteUploadStateConflict(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStateInitiated))

	_, err := svc.Complete(context.Background(), tenant, repo, uploadID, "ci-bot", CompleteRequest{
		Parts: []PartETag{{PartNumber: 1, ETag: "a"}},
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), `cannot complete an upload in state "initiated"`)
}

func TestAbortUploadDefaultsReason(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStatePartsUploading))
	mock.ExpectBegin()
	expectTransition(mock, 1)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	session, err := svc.Abort(context.Background(), tenant, repo, uploadID, "ci-bot", AbortRequest{})
	require.NoError(t, err)
	assert.Equal(t, types.UploadStateAborted, session.State)
	require.NotNil(t, session.AbortReason)
	assert.Equal(t, "client_abort", *session.AbortReason)
	assert.Equal(t, []string{"staging/1/libs/7"}, objects.aborted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAbortUploadTerminalConflict(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStateCommitted))

	_, err := svc.Abort(context.Background(), tenant, repo, uploadID, "ci-bot", AbortRequest{Reason: "too late"})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), `cannot abort an upload in state "committed"`)
}

func TestCommitUpload(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	content := []byte("artifact bytes under test, forty-two long!")
	require.Len(t, content, 42)
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])
	objects.getBody = content

	rows := sqlmock.NewRows([]string{
		"id", "upload_id", "tenant_id", "repo_id", "expected_digest", "expected_length",
		"storage_upload_id", "object_staging_key", "state", "created_by_subject",
		"created_at", "expires_at", "committed_blob_digest", "deduped", "abort_reason",
	}).AddRow(
		7, uploadID, tenant.TenantID, repo.RepoID, digest, int64(42),
		"mp-1", "staging/1/libs/7", "pending_commit", "ci-bot",
		time.Now(), time.Now().Add(time.Hour), nil, false, nil,
	)
	expectGetSession(mock, tenant, repo, uploadID, rows)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO blobs`)).
		WithArgs(digest, int64(42), "blobs/sha256/"+digest).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE upload_sessions`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	session, err := svc.Commit(context.Background(), tenant, repo, uploadID, "ci-bot")
	require.NoError(t, err)
	assert.Equal(t, types.UploadStateCommitted, session.State)
	require.NotNil(t, session.CommittedBlobDigest)
	assert.Equal(t, digest, *session.CommittedBlobDigest)
	assert.Equal(t, "staging/1/libs/7", objects.copySrc)
	assert.Equal(t, "blobs/sha256/"+digest, objects.copyDst)
	assert.Equal(t, []string{"staging/1/libs/7"}, objects.deleted, "staging copy is removed after commit")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitUploadVerificationMismatch(t *testing.T) {
	svc, mock, objects := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	// 42 bytes whose digest does not match the declared one
	objects.getBody = bytes.Repeat([]byte("x"), 42)

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStatePendingCommit))
	mock.ExpectBegin()
	expectTransition(mock, 1)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	_, err := svc.Commit(context.Background(), tenant, repo, uploadID, "ci-bot")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Equal(t, "upload_verification_failed", errs.CodeOf(err))
	assert.Equal(t, []string{"staging/1/libs/7"}, objects.aborted)
	assert.Empty(t, objects.copyDst, "a mismatched blob must never reach its content address")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitUploadStateConflict(t *testing.T) {
	svc, mock, _ := newTestService(t)
	tenant := testTenant()
	repo := testRepo(tenant)
	uploadID := uuid.New()

	expectGetSession(mock, tenant, repo, uploadID, sessionRow(tenant, repo, uploadID, types.UploadStateInitiated))

	_, err := svc.Commit(context.Background(), tenant, repo, uploadID, "ci-bot")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), `cannot commit an upload in state "initiated"`)
}
