package metrics

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifortress/artifortress/pkg/events"
	"github.com/artifortress/artifortress/pkg/storage"
)

var collectTime = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestCollector(t *testing.T) (*Collector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	c := NewCollector(storage.NewWithDB(db), nil)
	c.now = func() time.Time { return collectTime }
	return c, mock
}

func summaryColumns() []string {
	return []string{
		"pending_outbox", "available_outbox", "oldest_age_secs",
		"pending_jobs", "failed_jobs", "incomplete_gc", "policy_timeouts",
	}
}

func TestCollectSetsBacklogGauges(t *testing.T) {
	c, mock := newTestCollector(t)

	mock.ExpectQuery(regexp.QuoteMeta(`AS pending_outbox`)).
		WithArgs(collectTime).
		WillReturnRows(sqlmock.NewRows(summaryColumns()).
			AddRow(4, 3, 125, 2, 1, 1, 6))

	c.collect()

	assert.Equal(t, 4.0, testutil.ToFloat64(OutboxPendingEvents))
	assert.Equal(t, 3.0, testutil.ToFloat64(OutboxAvailableEvents))
	assert.Equal(t, 125.0, testutil.ToFloat64(OutboxOldestPendingAge))
	assert.Equal(t, 2.0, testutil.ToFloat64(SearchJobsPending))
	assert.Equal(t, 1.0, testutil.ToFloat64(SearchJobsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(GCRunsIncomplete))
	assert.Equal(t, 6.0, testutil.ToFloat64(PolicyTimeoutsRecent))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCollectKeepsGaugesOnQueryError(t *testing.T) {
	c, mock := newTestCollector(t)

	OutboxPendingEvents.Set(42)
	mock.ExpectQuery(regexp.QuoteMeta(`AS pending_outbox`)).
		WillReturnError(errors.New("connection reset"))

	c.collect()

	assert.Equal(t, 42.0, testutil.ToFloat64(OutboxPendingEvents))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyFoldsOutboxSweep(t *testing.T) {
	c, _ := newTestCollector(t)

	cyclesBefore := testutil.ToFloat64(SweepCyclesTotal.WithLabelValues("outbox"))
	deliveredBefore := testutil.ToFloat64(SweepItemsTotal.WithLabelValues("outbox", "delivered"))
	requeuedBefore := testutil.ToFloat64(SweepItemsTotal.WithLabelValues("outbox", "requeued"))

	c.apply(events.New(events.EventOutboxSwept, "outbox sweep completed", map[string]string{
		"claimed":   "5",
		"delivered": "4",
		"requeued":  "1",
	}))

	assert.Equal(t, cyclesBefore+1, testutil.ToFloat64(SweepCyclesTotal.WithLabelValues("outbox")))
	assert.Equal(t, deliveredBefore+4, testutil.ToFloat64(SweepItemsTotal.WithLabelValues("outbox", "delivered")))
	assert.Equal(t, requeuedBefore+1, testutil.ToFloat64(SweepItemsTotal.WithLabelValues("outbox", "requeued")))
}

func TestApplyFoldsGCCompletion(t *testing.T) {
	c, _ := newTestCollector(t)

	runsBefore := testutil.ToFloat64(GCRunsTotal.WithLabelValues("execute"))
	versionsBefore := testutil.ToFloat64(GCDeletedVersionsTotal)
	blobsBefore := testutil.ToFloat64(GCDeletedBlobsTotal)

	c.apply(events.New(events.EventGCCompleted, "gc run completed", map[string]string{
		"mode":            "execute",
		"deletedVersions": "3",
		"deletedBlobs":    "7",
	}))

	assert.Equal(t, runsBefore+1, testutil.ToFloat64(GCRunsTotal.WithLabelValues("execute")))
	assert.Equal(t, versionsBefore+3, testutil.ToFloat64(GCDeletedVersionsTotal))
	assert.Equal(t, blobsBefore+7, testutil.ToFloat64(GCDeletedBlobsTotal))
}

func TestApplyCountsLifecycleTransitions(t *testing.T) {
	c, _ := newTestCollector(t)

	publishedBefore := testutil.ToFloat64(VersionsPublishedTotal)
	tombstonedBefore := testutil.ToFloat64(VersionsTombstonedTotal)
	imposedBefore := testutil.ToFloat64(QuarantineTransitionsTotal.WithLabelValues("imposed"))

	c.apply(events.New(events.EventVersionPublished, "", nil))
	c.apply(events.New(events.EventVersionTombstoned, "", nil))
	c.apply(events.New(events.EventQuarantineImposed, "", nil))

	assert.Equal(t, publishedBefore+1, testutil.ToFloat64(VersionsPublishedTotal))
	assert.Equal(t, tombstonedBefore+1, testutil.ToFloat64(VersionsTombstonedTotal))
	assert.Equal(t, imposedBefore+1, testutil.ToFloat64(QuarantineTransitionsTotal.WithLabelValues("imposed")))
}

func TestApplySetsReconcileGauge(t *testing.T) {
	c, _ := newTestCollector(t)

	c.apply(events.New(events.EventGCReconciled, "", map[string]string{"orphanCount": "9"}))

	assert.Equal(t, 9.0, testutil.ToFloat64(OrphanBlobsObserved))
}

func TestMetaCountIgnoresGarbage(t *testing.T) {
	ev := events.New(events.EventOutboxSwept, "", map[string]string{
		"negative": "-3",
		"text":     "many",
	})

	assert.Equal(t, 0.0, metaCount(ev, "negative"))
	assert.Equal(t, 0.0, metaCount(ev, "text"))
	assert.Equal(t, 0.0, metaCount(ev, "absent"))
}
