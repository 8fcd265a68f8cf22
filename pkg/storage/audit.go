package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/types"
)

// InsertAudit appends an audit record outside any transaction
func (s *PostgresStore) InsertAudit(ctx context.Context, rec *types.AuditRecord) error {
	return insertAudit(ctx, s.db, rec)
}

// InsertAudit appends an audit record in the surrounding transaction, so
// the trace commits or rolls back with the mutation it describes
func (t *Tx) InsertAudit(ctx context.Context, rec *types.AuditRecord) error {
	return insertAudit(ctx, t.q, rec)
}

func insertAudit(ctx context.Context, q sqlx.ExtContext, rec *types.AuditRecord) error {
	details := rec.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}
	occurredAt := rec.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	err = sqlx.GetContext(ctx, q, &rec.ID,
		`INSERT INTO audit_log (tenant_id, action, actor, resource_type, resource_id, details, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		 RETURNING id`,
		rec.TenantID, rec.Action, rec.Actor, rec.ResourceType, rec.ResourceID, encoded, occurredAt)
	if err != nil {
		return mapError("insert audit record", err)
	}
	rec.OccurredAt = occurredAt
	return nil
}

type auditRow struct {
	types.AuditRecord
	DetailsRaw []byte `db:"details"`
}

// ListAudit returns the newest audit records of a tenant
func (s *PostgresStore) ListAudit(ctx context.Context, tenantID uuid.UUID, limit int) ([]*types.AuditRecord, error) {
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, tenant_id, action, actor, resource_type, resource_id, details, occurred_at
		 FROM audit_log
		 WHERE tenant_id = $1
		 ORDER BY id DESC
		 LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, mapError("list audit records", err)
	}
	records := make([]*types.AuditRecord, 0, len(rows))
	for i := range rows {
		rec := rows[i].AuditRecord
		if len(rows[i].DetailsRaw) > 0 {
			if err := json.Unmarshal(rows[i].DetailsRaw, &rec.Details); err != nil {
				return nil, fmt.Errorf("failed to decode audit details: %w", err)
			}
		}
		records = append(records, &rec)
	}
	return records, nil
}

// OpsSummary computes the backlog posture in a single round trip. Policy
// timeouts are counted from their audit trail because a timed-out
// evaluation writes no evaluation row.
func (s *PostgresStore) OpsSummary(ctx context.Context, now time.Time) (*OpsSummary, error) {
	type summaryRow struct {
		PendingOutbox   int   `db:"pending_outbox"`
		AvailableOutbox int   `db:"available_outbox"`
		OldestAgeSecs   int64 `db:"oldest_age_secs"`
		PendingJobs     int   `db:"pending_jobs"`
		FailedJobs      int   `db:"failed_jobs"`
		IncompleteGC    int   `db:"incomplete_gc"`
		PolicyTimeouts  int   `db:"policy_timeouts"`
	}
	var row summaryRow
	err := s.db.GetContext(ctx, &row,
		`SELECT
		   (SELECT COUNT(*) FROM outbox_events WHERE delivered_at IS NULL) AS pending_outbox,
		   (SELECT COUNT(*) FROM outbox_events WHERE delivered_at IS NULL AND available_at <= $1) AS available_outbox,
		   (SELECT COALESCE(EXTRACT(EPOCH FROM ($1 - MIN(occurred_at)))::bigint, 0)
		      FROM outbox_events WHERE delivered_at IS NULL) AS oldest_age_secs,
		   (SELECT COUNT(*) FROM search_index_jobs WHERE status = 'pending') AS pending_jobs,
		   (SELECT COUNT(*) FROM search_index_jobs WHERE status = 'failed') AS failed_jobs,
		   (SELECT COUNT(*) FROM gc_runs WHERE completed_at IS NULL) AS incomplete_gc,
		   (SELECT COUNT(*) FROM audit_log
		      WHERE action = 'policy.timeout' AND occurred_at > $1 - interval '24 hours') AS policy_timeouts`,
		now)
	if err != nil {
		return nil, mapError("ops summary", err)
	}
	summary := &OpsSummary{
		PendingOutboxEvents:        row.PendingOutbox,
		AvailableOutboxEvents:      row.AvailableOutbox,
		OldestPendingOutboxAgeSecs: row.OldestAgeSecs,
		PendingSearchJobs:          row.PendingJobs,
		FailedSearchJobs:           row.FailedJobs,
		IncompleteGCRuns:           row.IncompleteGC,
		RecentPolicyTimeouts24h:    row.PolicyTimeouts,
	}
	if summary.OldestPendingOutboxAgeSecs < 0 {
		summary.OldestPendingOutboxAgeSecs = 0
	}
	return summary, nil
}
