package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/types"
)

// InsertOutboxEvent appends an event in the surrounding transaction, so
// the event exists iff the mutation it describes committed.
func (t *Tx) InsertOutboxEvent(ctx context.Context, ev *types.OutboxEvent) error {
	err := t.q.QueryRowxContext(ctx,
		`INSERT INTO outbox_events
		   (tenant_id, aggregate_type, aggregate_id, event_type, payload_json, available_at, occurred_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		 RETURNING id`,
		ev.TenantID, ev.AggregateType, ev.AggregateID, ev.EventType,
		ev.PayloadJSON, ev.AvailableAt, ev.OccurredAt,
	).Scan(&ev.ID)
	if err != nil {
		return mapError("insert outbox event", err)
	}
	return nil
}

// CountPublishedEvents counts version.published events for one aggregate,
// enforcing exactly-once emission before writing a second row.
func (t *Tx) CountPublishedEvents(ctx context.Context, aggregateID string) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, t.q, &count,
		`SELECT COUNT(*) FROM outbox_events WHERE event_type = $1 AND aggregate_id = $2`,
		types.EventTypeVersionPublished, aggregateID)
	if err != nil {
		return 0, mapError("count published events", err)
	}
	return count, nil
}

// ClaimOutboxEvents locks up to limit undelivered events of the given
// type that are available now. SKIP LOCKED keeps concurrent sweeps from
// claiming the same rows; a crashed sweep releases its claims at abort.
func (t *Tx) ClaimOutboxEvents(ctx context.Context, eventType string, now time.Time, limit int) ([]*types.OutboxEvent, error) {
	var rows []types.OutboxEvent
	err := sqlx.SelectContext(ctx, t.q, &rows,
		`SELECT id, tenant_id, aggregate_type, aggregate_id, event_type,
		        payload_json::text AS payload_json, available_at, occurred_at, delivered_at
		 FROM outbox_events
		 WHERE event_type = $1 AND delivered_at IS NULL AND available_at <= $2
		 ORDER BY id
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		eventType, now, limit)
	if err != nil {
		return nil, mapError("claim outbox events", err)
	}
	events := make([]*types.OutboxEvent, 0, len(rows))
	for i := range rows {
		events = append(events, &rows[i])
	}
	return events, nil
}

// MarkEventDelivered stamps a claimed event as delivered
func (t *Tx) MarkEventDelivered(ctx context.Context, id int64, now time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE outbox_events SET delivered_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return mapError("mark event delivered", err)
	}
	return nil
}

// UpsertSearchJob enqueues (or re-arms) the single indexing job of a
// version. Idempotent on (tenant, version).
func (t *Tx) UpsertSearchJob(ctx context.Context, tenantID, versionID uuid.UUID, now time.Time) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO search_index_jobs (tenant_id, version_id, status, attempts, available_at)
		 VALUES ($1, $2, 'pending', 0, $3)
		 ON CONFLICT (tenant_id, version_id)
		 DO UPDATE SET status = 'pending', attempts = 0,
		               available_at = EXCLUDED.available_at,
		               last_error = NULL, updated_at = now()`,
		tenantID, versionID, now)
	if err != nil {
		return mapError("upsert search job", err)
	}
	return nil
}

// ClaimSearchJobs locks up to limit retryable jobs that are available
// now and still under the attempt ceiling
func (t *Tx) ClaimSearchJobs(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*types.SearchIndexJob, error) {
	var rows []types.SearchIndexJob
	err := sqlx.SelectContext(ctx, t.q, &rows,
		`SELECT id, tenant_id, version_id, status, attempts, available_at, last_error, created_at, updated_at
		 FROM search_index_jobs
		 WHERE status IN ('pending', 'failed') AND attempts < $1 AND available_at <= $2
		 ORDER BY id
		 LIMIT $3
		 FOR UPDATE SKIP LOCKED`,
		maxAttempts, now, limit)
	if err != nil {
		return nil, mapError("claim search jobs", err)
	}
	jobs := make([]*types.SearchIndexJob, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, &rows[i])
	}
	return jobs, nil
}

// CompleteSearchJob marks a job done, preserving its attempt count
func (t *Tx) CompleteSearchJob(ctx context.Context, id int64) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE search_index_jobs
		 SET status = 'completed', last_error = NULL, updated_at = now()
		 WHERE id = $1`, id)
	if err != nil {
		return mapError("complete search job", err)
	}
	return nil
}

// FailSearchJob records one failed attempt with its computed next
// availability
func (t *Tx) FailSearchJob(ctx context.Context, id int64, attempts int, availableAt time.Time, lastError string) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE search_index_jobs
		 SET status = 'failed', attempts = $2, available_at = $3, last_error = $4, updated_at = now()
		 WHERE id = $1`,
		id, attempts, availableAt, lastError)
	if err != nil {
		return mapError("fail search job", err)
	}
	return nil
}
