package manager

import (
	"context"
	"net/url"
	"strings"

	"github.com/artifortress/artifortress/pkg/audit"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

// CreateRepoRequest names and shapes a new repository
type CreateRepoRequest struct {
	RepoKey        string   `json:"repoKey"`
	RepoType       string   `json:"repoType"`
	UpstreamURL    *string  `json:"upstreamUrl,omitempty"`
	MemberRepoKeys []string `json:"memberRepoKeys,omitempty"`
}

// requireTenant returns the resolved deployment tenant. Requests arriving
// before Bootstrap completes are refused rather than served with a nil
// tenant.
func (m *Manager) requireTenant() (*types.Tenant, error) {
	tenant := m.Tenant()
	if tenant == nil {
		return nil, errs.Unavailable("not_ready", "tenant not resolved yet")
	}
	return tenant, nil
}

// CreateRepo validates and creates a repository, recording the audit row
// in the same transaction. Local repos carry neither upstream nor members,
// remote repos need an absolute upstream URI, virtual repos at least one
// distinct member key.
func (m *Manager) CreateRepo(ctx context.Context, actor string, req CreateRepoRequest) (*types.Repo, error) {
	tenant, err := m.requireTenant()
	if err != nil {
		return nil, err
	}

	key := req.RepoKey
	if err := types.ValidateRepoKey(key); err != nil {
		return nil, errs.Validationf("%s.", err)
	}
	repoType, err := parseRepoType(req.RepoType)
	if err != nil {
		return nil, err
	}

	repo := &types.Repo{
		TenantID: tenant.TenantID,
		RepoKey:  key,
		RepoType: repoType,
	}

	upstream := ""
	if req.UpstreamURL != nil {
		upstream = strings.TrimSpace(*req.UpstreamURL)
	}
	switch repoType {
	case types.RepoTypeRemote:
		parsed, err := url.Parse(upstream)
		if upstream == "" || err != nil || !parsed.IsAbs() {
			return nil, errs.Validation("upstreamUrl must be an absolute URI for remote repositories.")
		}
		if len(req.MemberRepoKeys) > 0 {
			return nil, errs.Validation("memberRepoKeys are only allowed for virtual repositories.")
		}
		repo.UpstreamURL = &upstream
	case types.RepoTypeVirtual:
		members, err := normalizeMembers(key, req.MemberRepoKeys)
		if err != nil {
			return nil, err
		}
		if upstream != "" {
			return nil, errs.Validation("upstreamUrl is only allowed for remote repositories.")
		}
		repo.MemberRepoKeys = members
	default:
		if upstream != "" {
			return nil, errs.Validation("upstreamUrl is only allowed for remote repositories.")
		}
		if len(req.MemberRepoKeys) > 0 {
			return nil, errs.Validation("memberRepoKeys are only allowed for virtual repositories.")
		}
	}

	err = m.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.CreateRepo(ctx, repo); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionRepoCreated, actor,
			audit.ResourceRepo, repo.RepoID.String(), map[string]interface{}{
				"repoKey":  repo.RepoKey,
				"repoType": string(repo.RepoType),
			}))
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("repoKey", repo.RepoKey).Str("repoType", string(repo.RepoType)).Msg("repo created")
	return repo, nil
}

// GetRepo resolves a repository by key
func (m *Manager) GetRepo(ctx context.Context, key string) (*types.Repo, error) {
	tenant, err := m.requireTenant()
	if err != nil {
		return nil, err
	}
	return m.store.GetRepoByKey(ctx, tenant.TenantID, types.NormalizeRepoKey(key))
}

// ListRepos returns the tenant's repositories ordered by key
func (m *Manager) ListRepos(ctx context.Context) ([]*types.Repo, error) {
	tenant, err := m.requireTenant()
	if err != nil {
		return nil, err
	}
	return m.store.ListRepos(ctx, tenant.TenantID)
}

// DeleteRepo removes an empty repository. Versions or upload sessions
// referencing it surface as Conflict from the store.
func (m *Manager) DeleteRepo(ctx context.Context, actor, key string) error {
	tenant, err := m.requireTenant()
	if err != nil {
		return err
	}
	normalized := types.NormalizeRepoKey(key)

	err = m.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.DeleteRepo(ctx, tenant.TenantID, normalized); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionRepoDeleted, actor,
			audit.ResourceRepo, normalized, nil))
	})
	if err != nil {
		return err
	}

	m.logger.Info().Str("repoKey", normalized).Msg("repo deleted")
	return nil
}

// PutBinding grants a role set to a subject on a repository, replacing any
// previous grant.
func (m *Manager) PutBinding(ctx context.Context, actor, repoKey, subject string, roleNames []string) (*types.RoleBinding, error) {
	tenant, err := m.requireTenant()
	if err != nil {
		return nil, err
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, errs.Validation("subject cannot be empty.")
	}
	roles, err := parseRoles(roleNames)
	if err != nil {
		return nil, err
	}

	repo, err := m.store.GetRepoByKey(ctx, tenant.TenantID, types.NormalizeRepoKey(repoKey))
	if err != nil {
		return nil, err
	}

	binding := &types.RoleBinding{
		TenantID: tenant.TenantID,
		RepoID:   repo.RepoID,
		Subject:  subject,
		Roles:    roles,
	}
	err = m.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.UpsertRoleBinding(ctx, binding); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionBindingUpsert, actor,
			audit.ResourceBinding, repo.RepoKey+"/"+subject, map[string]interface{}{
				"repoKey": repo.RepoKey,
				"subject": subject,
				"roles":   roleStrings(roles),
			}))
	})
	if err != nil {
		return nil, err
	}
	return binding, nil
}

// GetBinding fetches a subject's role grant on a repository
func (m *Manager) GetBinding(ctx context.Context, repoKey, subject string) (*types.RoleBinding, error) {
	tenant, err := m.requireTenant()
	if err != nil {
		return nil, err
	}
	repo, err := m.store.GetRepoByKey(ctx, tenant.TenantID, types.NormalizeRepoKey(repoKey))
	if err != nil {
		return nil, err
	}
	return m.store.GetRoleBinding(ctx, tenant.TenantID, repo.RepoID, strings.TrimSpace(subject))
}

// DeleteBinding revokes a subject's role grant on a repository
func (m *Manager) DeleteBinding(ctx context.Context, actor, repoKey, subject string) error {
	tenant, err := m.requireTenant()
	if err != nil {
		return err
	}
	subject = strings.TrimSpace(subject)
	repo, err := m.store.GetRepoByKey(ctx, tenant.TenantID, types.NormalizeRepoKey(repoKey))
	if err != nil {
		return err
	}

	return m.store.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.DeleteRoleBinding(ctx, tenant.TenantID, repo.RepoID, subject); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, audit.Record(tenant.TenantID, audit.ActionBindingDeleted, actor,
			audit.ResourceBinding, repo.RepoKey+"/"+subject, nil))
	})
}

func parseRepoType(raw string) (types.RepoType, error) {
	switch types.RepoType(strings.ToLower(strings.TrimSpace(raw))) {
	case types.RepoTypeLocal:
		return types.RepoTypeLocal, nil
	case types.RepoTypeRemote:
		return types.RepoTypeRemote, nil
	case types.RepoTypeVirtual:
		return types.RepoTypeVirtual, nil
	}
	return "", errs.Validation("repoType must be one of local, remote, virtual.")
}

// normalizeMembers validates a virtual repo's member list: every key well
// formed, no duplicates, never the virtual repo itself.
func normalizeMembers(ownKey string, raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, errs.Validation("memberRepoKeys must name at least one repository.")
	}
	seen := make(map[string]struct{}, len(raw))
	members := make([]string, 0, len(raw))
	for _, member := range raw {
		if err := types.ValidateRepoKey(member); err != nil {
			return nil, errs.Validationf("member %s.", err)
		}
		if member == ownKey {
			return nil, errs.Validation("a virtual repo cannot include itself.")
		}
		if _, dup := seen[member]; dup {
			return nil, errs.Validationf("Duplicate member repo key %q is not allowed.", member)
		}
		seen[member] = struct{}{}
		members = append(members, member)
	}
	return members, nil
}

func parseRoles(names []string) ([]types.Role, error) {
	if len(names) == 0 {
		return nil, errs.Validation("at least one role is required.")
	}
	seen := make(map[types.Role]struct{}, len(names))
	roles := make([]types.Role, 0, len(names))
	for _, name := range names {
		role, err := types.ParseRole(name)
		if err != nil {
			return nil, errs.Validationf("%s.", err)
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles, nil
}

func roleStrings(roles []types.Role) []string {
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, string(role))
	}
	return out
}
