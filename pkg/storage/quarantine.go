package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/types"
)

// InsertPolicyEvaluation appends a verdict record in the surrounding
// transaction
func (t *Tx) InsertPolicyEvaluation(ctx context.Context, tenantID uuid.UUID, eval *types.PolicyEvaluation) error {
	if eval.EvaluationID == uuid.Nil {
		eval.EvaluationID = uuid.New()
	}
	err := t.q.QueryRowxContext(ctx,
		`INSERT INTO policy_evaluations
		   (evaluation_id, tenant_id, version_id, action, decision, decision_source, reason, engine_version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		eval.EvaluationID, tenantID, eval.VersionID, eval.Action, eval.Decision,
		eval.DecisionSource, eval.Reason, eval.EngineVersion,
	).Scan(&eval.CreatedAt)
	if err != nil {
		return mapError("insert policy evaluation", err)
	}
	return nil
}

// UpsertQuarantineItem puts a version into quarantine, returning the
// item's id. Repeats reuse the existing row and force the status back to
// quarantined.
func (t *Tx) UpsertQuarantineItem(ctx context.Context, tenantID, repoID, versionID uuid.UUID) (uuid.UUID, error) {
	var quarantineID uuid.UUID
	err := t.q.QueryRowxContext(ctx,
		`INSERT INTO quarantine_items (tenant_id, repo_id, version_id, status)
		 VALUES ($1, $2, $3, 'quarantined')
		 ON CONFLICT (tenant_id, version_id)
		 DO UPDATE SET status = 'quarantined', updated_at = now()
		 RETURNING quarantine_id`,
		tenantID, repoID, versionID,
	).Scan(&quarantineID)
	if err != nil {
		return uuid.Nil, mapError("upsert quarantine item", err)
	}
	return quarantineID, nil
}

// GetQuarantineForUpdate locks a quarantine item for a status transition
func (t *Tx) GetQuarantineForUpdate(ctx context.Context, tenantID, quarantineID uuid.UUID) (*types.QuarantineItem, error) {
	var item types.QuarantineItem
	err := sqlx.GetContext(ctx, t.q, &item,
		`SELECT quarantine_id, tenant_id, repo_id, version_id, status, created_at, updated_at
		 FROM quarantine_items
		 WHERE tenant_id = $1 AND quarantine_id = $2
		 FOR UPDATE`,
		tenantID, quarantineID)
	if err != nil {
		return nil, mapError("get quarantine item", err)
	}
	return &item, nil
}

// SetQuarantineStatus transitions an item between states. Returns false
// when the row was not in the source state.
func (t *Tx) SetQuarantineStatus(ctx context.Context, quarantineID uuid.UUID, from, to types.QuarantineStatus) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE quarantine_items SET status = $3, updated_at = now()
		 WHERE quarantine_id = $1 AND status = $2`,
		quarantineID, from, to)
	if err != nil {
		return false, mapError("transition quarantine item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, mapError("transition quarantine item", err)
	}
	return affected > 0, nil
}

// ListQuarantine returns a repo's quarantine items, optionally filtered
// by status, newest first
func (s *PostgresStore) ListQuarantine(ctx context.Context, tenantID, repoID uuid.UUID, status *types.QuarantineStatus) ([]*types.QuarantineItem, error) {
	query := `SELECT quarantine_id, tenant_id, repo_id, version_id, status, created_at, updated_at
	          FROM quarantine_items
	          WHERE tenant_id = $1 AND repo_id = $2`
	args := []interface{}{tenantID, repoID}
	if status != nil {
		query += ` AND status = $3`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC, quarantine_id`

	var rows []types.QuarantineItem
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError("list quarantine items", err)
	}
	items := make([]*types.QuarantineItem, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	return items, nil
}

// GetQuarantine fetches one quarantine item by id
func (s *PostgresStore) GetQuarantine(ctx context.Context, tenantID, quarantineID uuid.UUID) (*types.QuarantineItem, error) {
	var item types.QuarantineItem
	err := s.db.GetContext(ctx, &item,
		`SELECT quarantine_id, tenant_id, repo_id, version_id, status, created_at, updated_at
		 FROM quarantine_items
		 WHERE tenant_id = $1 AND quarantine_id = $2`,
		tenantID, quarantineID)
	if err != nil {
		return nil, mapError("get quarantine item", err)
	}
	return &item, nil
}
