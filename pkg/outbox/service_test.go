package outbox

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

var sweepTime = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewService(storage.NewWithDB(db), Settings{
		BatchSize:   10,
		MaxAttempts: 3,
		BaseDelay:   30 * time.Second,
		MaxExponent: 5,
	}, zerolog.Nop())
	svc.now = func() time.Time { return sweepTime }
	return svc, mock
}

func outboxColumns() []string {
	return []string{
		"id", "tenant_id", "aggregate_type", "aggregate_id", "event_type",
		"payload_json", "available_at", "occurred_at", "delivered_at",
	}
}

func jobColumns() []string {
	return []string{
		"id", "tenant_id", "version_id", "status", "attempts",
		"available_at", "last_error", "created_at", "updated_at",
	}
}

func expectClaimEvents(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, tenant_id, aggregate_type, aggregate_id, event_type`)).
		WithArgs(types.EventTypeVersionPublished, sweepTime, 10).
		WillReturnRows(rows)
}

func expectClaimJobs(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, tenant_id, version_id, status, attempts`)).
		WithArgs(3, sweepTime, 10).
		WillReturnRows(rows)
}

func TestSweepOutboxDeliversClaimedEvents(t *testing.T) {
	svc, mock := newTestService(t)
	tenantID := uuid.New()
	fastPathVersion := uuid.New()
	payloadVersion := uuid.New()

	occurred := sweepTime.Add(-time.Minute)
	rows := sqlmock.NewRows(outboxColumns()).
		AddRow(int64(21), tenantID, "version", fastPathVersion.String(), "version.published",
			`{"versionId":"`+fastPathVersion.String()+`"}`, occurred, occurred, nil).
		AddRow(int64(22), tenantID, "version", "legacy-7", "version.published",
			`{"versionId":"`+payloadVersion.String()+`"}`, occurred, occurred, nil)

	mock.ExpectBegin()
	expectClaimEvents(mock, rows)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO search_index_jobs`)).
		WithArgs(tenantID, fastPathVersion, sweepTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_events SET delivered_at`)).
		WithArgs(int64(21), sweepTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO search_index_jobs`)).
		WithArgs(tenantID, payloadVersion, sweepTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE outbox_events SET delivered_at`)).
		WithArgs(int64(22), sweepTime).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := svc.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ProducerOutcome{ClaimedCount: 2, EnqueuedCount: 2, DeliveredCount: 2}, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepOutboxRequeuesUnroutableEvent(t *testing.T) {
	svc, mock := newTestService(t)
	tenantID := uuid.New()
	occurred := sweepTime.Add(-time.Minute)

	rows := sqlmock.NewRows(outboxColumns()).
		AddRow(int64(31), tenantID, "version", "legacy-7", "version.published",
			`{"versionId":"not-a-uuid"}`, occurred, occurred, nil)

	// The claim releases at commit with no job upsert and no delivery
	// stamp, so the next pass sees the event again.
	mock.ExpectBegin()
	expectClaimEvents(mock, rows)
	mock.ExpectCommit()

	outcome, err := svc.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ProducerOutcome{ClaimedCount: 1, RequeuedCount: 1}, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepOutboxEmpty(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	expectClaimEvents(mock, sqlmock.NewRows(outboxColumns()))
	mock.ExpectCommit()

	outcome, err := svc.SweepOutbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ProducerOutcome{}, outcome)
}

func TestSweepJobsCompletesPublishedVersion(t *testing.T) {
	svc, mock := newTestService(t)
	tenantID := uuid.New()
	versionID := uuid.New()

	rows := sqlmock.NewRows(jobColumns()).
		AddRow(int64(7), tenantID, versionID, "pending", 0,
			sweepTime.Add(-time.Second), nil, sweepTime.Add(-time.Hour), sweepTime.Add(-time.Hour))

	mock.ExpectBegin()
	expectClaimJobs(mock, rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM versions`)).
		WithArgs(versionID).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("published"))
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'completed'`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := svc.SweepJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &JobOutcome{ClaimedCount: 1, CompletedCount: 1}, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepJobsSchedulesRetryForUnpublished(t *testing.T) {
	svc, mock := newTestService(t)
	tenantID := uuid.New()
	versionID := uuid.New()

	rows := sqlmock.NewRows(jobColumns()).
		AddRow(int64(8), tenantID, versionID, "pending", 0,
			sweepTime.Add(-time.Second), nil, sweepTime.Add(-time.Hour), sweepTime.Add(-time.Hour))

	mock.ExpectBegin()
	expectClaimJobs(mock, rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM versions`)).
		WithArgs(versionID).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow("draft"))
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'failed'`)).
		WithArgs(int64(8), 1, sweepTime.Add(30*time.Second), "version_not_published").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := svc.SweepJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &JobOutcome{ClaimedCount: 1, FailedCount: 1}, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepJobsFailsVanishedVersion(t *testing.T) {
	svc, mock := newTestService(t)
	tenantID := uuid.New()
	versionID := uuid.New()

	rows := sqlmock.NewRows(jobColumns()).
		AddRow(int64(9), tenantID, versionID, "failed", 2,
			sweepTime.Add(-time.Second), "version_not_published", sweepTime.Add(-time.Hour), sweepTime.Add(-time.Hour))

	mock.ExpectBegin()
	expectClaimJobs(mock, rows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM versions`)).
		WithArgs(versionID).
		WillReturnRows(sqlmock.NewRows([]string{"state"}))
	mock.ExpectExec(regexp.QuoteMeta(`SET status = 'failed'`)).
		WithArgs(int64(9), 3, sweepTime.Add(120*time.Second), "version_not_published").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := svc.SweepJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &JobOutcome{ClaimedCount: 1, FailedCount: 1}, outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailureSchedule(t *testing.T) {
	base := 30 * time.Second
	tests := []struct {
		name     string
		current  int
		wantNext int
		wantWait time.Duration
	}{
		{"first failure", 0, 1, 30 * time.Second},
		{"second failure", 1, 2, 60 * time.Second},
		{"third failure", 2, 3, 120 * time.Second},
		{"exponent cap reached", 5, 6, 960 * time.Second},
		{"beyond the cap", 9, 10, 960 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := nextAttempts(tt.current)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantWait, backoffDelay(next, base, 5))
		})
	}
}
