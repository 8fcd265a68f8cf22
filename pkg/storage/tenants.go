package storage

import (
	"context"

	"github.com/artifortress/artifortress/pkg/types"
)

// EnsureTenant creates the tenant row for slug if it does not exist and
// returns it. Called once at startup for the configured default tenant.
func (s *PostgresStore) EnsureTenant(ctx context.Context, slug string) (*types.Tenant, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (slug) VALUES ($1) ON CONFLICT (slug) DO NOTHING`, slug)
	if err != nil {
		return nil, mapError("ensure tenant", err)
	}
	return s.GetTenantBySlug(ctx, slug)
}

// GetTenantBySlug looks up a tenant by its unique slug
func (s *PostgresStore) GetTenantBySlug(ctx context.Context, slug string) (*types.Tenant, error) {
	var tenant types.Tenant
	err := s.db.GetContext(ctx, &tenant,
		`SELECT id, tenant_id, slug, created_at FROM tenants WHERE slug = $1`, slug)
	if err != nil {
		return nil, mapError("get tenant", err)
	}
	return &tenant, nil
}
