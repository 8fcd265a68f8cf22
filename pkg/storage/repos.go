package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/types"
)

type repoRow struct {
	types.Repo
	MemberRepoKeysRaw []byte `db:"member_repo_keys"`
}

func (r *repoRow) toRepo() (*types.Repo, error) {
	repo := r.Repo
	if len(r.MemberRepoKeysRaw) > 0 {
		if err := json.Unmarshal(r.MemberRepoKeysRaw, &repo.MemberRepoKeys); err != nil {
			return nil, fmt.Errorf("failed to decode member repo keys: %w", err)
		}
	}
	return &repo, nil
}

// CreateRepo inserts a repository. A duplicate key within the tenant
// surfaces as Conflict. The generated row id and timestamps are written
// back into repo.
func (s *PostgresStore) CreateRepo(ctx context.Context, repo *types.Repo) error {
	return createRepo(ctx, s.db, repo)
}

// CreateRepo inserts a repository in the surrounding transaction
func (t *Tx) CreateRepo(ctx context.Context, repo *types.Repo) error {
	return createRepo(ctx, t.q, repo)
}

func createRepo(ctx context.Context, q sqlx.ExtContext, repo *types.Repo) error {
	if repo.RepoID == uuid.Nil {
		repo.RepoID = uuid.New()
	}
	memberKeys, err := marshalJSONList(repo.MemberRepoKeys)
	if err != nil {
		return fmt.Errorf("failed to encode member repo keys: %w", err)
	}
	err = q.QueryRowxContext(ctx,
		`INSERT INTO repos (repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		 RETURNING id, created_at`,
		repo.RepoID, repo.TenantID, repo.RepoKey, repo.RepoType, repo.UpstreamURL, memberKeys,
	).Scan(&repo.ID, &repo.CreatedAt)
	if err != nil {
		return mapError("create repo", err)
	}
	return nil
}

// GetRepoByKey resolves a repository by its tenant-unique key
func (s *PostgresStore) GetRepoByKey(ctx context.Context, tenantID uuid.UUID, key string) (*types.Repo, error) {
	var row repoRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys, created_at
		 FROM repos WHERE tenant_id = $1 AND repo_key = $2`, tenantID, key)
	if err != nil {
		return nil, mapError("get repo", err)
	}
	return row.toRepo()
}

// ListRepos returns all repositories of a tenant ordered by key
func (s *PostgresStore) ListRepos(ctx context.Context, tenantID uuid.UUID) ([]*types.Repo, error) {
	var rows []repoRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys, created_at
		 FROM repos WHERE tenant_id = $1 ORDER BY repo_key`, tenantID)
	if err != nil {
		return nil, mapError("list repos", err)
	}
	repos := make([]*types.Repo, 0, len(rows))
	for i := range rows {
		repo, err := rows[i].toRepo()
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// DeleteRepo removes a repository and its role bindings. Versions or
// upload sessions referencing the repo block deletion (mapped from the
// foreign key violation).
func (s *PostgresStore) DeleteRepo(ctx context.Context, tenantID uuid.UUID, key string) error {
	return deleteRepo(ctx, s.db, tenantID, key)
}

// DeleteRepo removes a repository in the surrounding transaction
func (t *Tx) DeleteRepo(ctx context.Context, tenantID uuid.UUID, key string) error {
	return deleteRepo(ctx, t.q, tenantID, key)
}

func deleteRepo(ctx context.Context, q sqlx.ExtContext, tenantID uuid.UUID, key string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM repos WHERE tenant_id = $1 AND repo_key = $2`, tenantID, key)
	if err != nil {
		// A foreign key violation here means versions or upload sessions
		// still reference the repo, not that the repo is missing.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return errs.Conflict("repo is not empty")
		}
		return mapError("delete repo", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return errNotFoundRepo(key)
	}
	return nil
}

type roleBindingRow struct {
	types.RoleBinding
	RolesRaw []byte `db:"roles"`
}

func (r *roleBindingRow) toBinding() *types.RoleBinding {
	binding := r.RoleBinding
	binding.Roles = parseRoles(r.RolesRaw)
	return &binding
}

// UpsertRoleBinding creates or replaces the role set for a subject on a
// repository
func (s *PostgresStore) UpsertRoleBinding(ctx context.Context, binding *types.RoleBinding) error {
	return upsertRoleBinding(ctx, s.db, binding)
}

// UpsertRoleBinding writes a role grant in the surrounding transaction
func (t *Tx) UpsertRoleBinding(ctx context.Context, binding *types.RoleBinding) error {
	return upsertRoleBinding(ctx, t.q, binding)
}

func upsertRoleBinding(ctx context.Context, q sqlx.ExtContext, binding *types.RoleBinding) error {
	roles, err := marshalRoles(binding.Roles)
	if err != nil {
		return fmt.Errorf("failed to encode roles: %w", err)
	}
	err = q.QueryRowxContext(ctx,
		`INSERT INTO role_bindings (tenant_id, repo_id, subject, roles)
		 VALUES ($1, $2, $3, $4::jsonb)
		 ON CONFLICT (tenant_id, repo_id, subject)
		 DO UPDATE SET roles = EXCLUDED.roles, updated_at = now()
		 RETURNING updated_at`,
		binding.TenantID, binding.RepoID, binding.Subject, roles,
	).Scan(&binding.UpdatedAt)
	if err != nil {
		return mapError("upsert role binding", err)
	}
	return nil
}

// GetRoleBinding fetches the role set of a subject on one repository
func (s *PostgresStore) GetRoleBinding(ctx context.Context, tenantID, repoID uuid.UUID, subject string) (*types.RoleBinding, error) {
	var row roleBindingRow
	err := s.db.GetContext(ctx, &row,
		`SELECT tenant_id, repo_id, subject, roles, updated_at
		 FROM role_bindings WHERE tenant_id = $1 AND repo_id = $2 AND subject = $3`,
		tenantID, repoID, subject)
	if err != nil {
		return nil, mapError("get role binding", err)
	}
	return row.toBinding(), nil
}

// DeleteRoleBinding removes a subject's roles on one repository
func (s *PostgresStore) DeleteRoleBinding(ctx context.Context, tenantID, repoID uuid.UUID, subject string) error {
	return deleteRoleBinding(ctx, s.db, tenantID, repoID, subject)
}

// DeleteRoleBinding removes a role grant in the surrounding transaction
func (t *Tx) DeleteRoleBinding(ctx context.Context, tenantID, repoID uuid.UUID, subject string) error {
	return deleteRoleBinding(ctx, t.q, tenantID, repoID, subject)
}

func deleteRoleBinding(ctx context.Context, q sqlx.ExtContext, tenantID, repoID uuid.UUID, subject string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM role_bindings WHERE tenant_id = $1 AND repo_id = $2 AND subject = $3`,
		tenantID, repoID, subject)
	if err != nil {
		return mapError("delete role binding", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return errNotFoundBinding(subject)
	}
	return nil
}

// ListBindingsBySubject returns every repo-scoped role grant held by a
// subject, joined with the repository key so the grants can be folded
// into scopes.
func (s *PostgresStore) ListBindingsBySubject(ctx context.Context, tenantID uuid.UUID, subject string) ([]SubjectBinding, error) {
	type bindingRow struct {
		RepoKey  string `db:"repo_key"`
		RolesRaw []byte `db:"roles"`
	}
	var rows []bindingRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT r.repo_key, b.roles
		 FROM role_bindings b
		 JOIN repos r ON r.repo_id = b.repo_id
		 WHERE b.tenant_id = $1 AND b.subject = $2
		 ORDER BY r.repo_key`, tenantID, subject)
	if err != nil {
		return nil, mapError("list bindings", err)
	}
	bindings := make([]SubjectBinding, 0, len(rows))
	for _, row := range rows {
		bindings = append(bindings, SubjectBinding{
			RepoKey: row.RepoKey,
			Roles:   parseRoles(row.RolesRaw),
		})
	}
	return bindings, nil
}
