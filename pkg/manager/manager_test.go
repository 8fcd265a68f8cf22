package manager

import (
	"context"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artifortress/artifortress/pkg/config"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/objectstore"
	"github.com/artifortress/artifortress/pkg/storage"
	"github.com/artifortress/artifortress/pkg/types"
)

type fakeObjectStore struct {
	probeErr error
}

func (f *fakeObjectStore) StartMultipart(ctx context.Context, key string) (string, error) {
	return "mp-1", nil
}

func (f *fakeObjectStore) PresignPart(ctx context.Context, key, uploadID string, partNumber int32, ttl time.Duration) (*objectstore.PresignedPart, error) {
	return &objectstore.PresignedPart{URL: "https://signed.example/" + key, ExpiresAt: time.Now().Add(ttl)}, nil
}

func (f *fakeObjectStore) CompleteMultipart(ctx context.Context, key, uploadID string, parts []objectstore.CompletedPart) error {
	return nil
}

func (f *fakeObjectStore) AbortMultipart(ctx context.Context, key, uploadID string) error {
	return nil
}

func (f *fakeObjectStore) Head(ctx context.Context, key string) (*objectstore.ObjectInfo, error) {
	return &objectstore.ObjectInfo{}, nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return nil, 0, nil
}

func (f *fakeObjectStore) GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, int64, error) {
	return nil, 0, nil
}

func (f *fakeObjectStore) Copy(ctx context.Context, srcKey, dstKey string) error { return nil }

func (f *fakeObjectStore) Delete(ctx context.Context, key string) error { return nil }

func (f *fakeObjectStore) Probe(ctx context.Context) error { return f.probeErr }

func testConfig() *config.Config {
	return &config.Config{
		Tenant: config.TenantConfig{DefaultSlug: "default"},
		Auth:   config.AuthConfig{BootstrapToken: "bootstrap-secret"},
		Policy: config.PolicyConfig{TimeoutMs: 500},
		GC:     config.GCConfig{DefaultBatchSize: 100},
		Sweeps: config.SweepsConfig{
			BatchSize:           25,
			JobMaxAttempts:      5,
			JobBaseDelaySeconds: 1,
			JobMaxExponent:      6,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mgr, err := New(testConfig(), storage.NewWithDB(db), &fakeObjectStore{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(mgr.broker.Stop)
	return mgr, mock
}

// bootstrapped installs a resolved tenant without touching the database
func bootstrapped(t *testing.T, mgr *Manager) *types.Tenant {
	t.Helper()
	tenant := &types.Tenant{ID: 1, TenantID: uuid.New(), Slug: "default"}
	mgr.mu.Lock()
	mgr.tenant = tenant
	mgr.mu.Unlock()
	return tenant
}

func expectRepoInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO repos`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
}

func expectAuditInsert(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO audit_log`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
}

func expectRepoRow(mock sqlmock.Sqlmock, tenant *types.Tenant, key string) uuid.UUID {
	repoID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys, created_at`)).
		WithArgs(tenant.TenantID, key).
		WillReturnRows(sqlmock.NewRows([]string{"id", "repo_id", "tenant_id", "repo_key", "repo_type", "upstream_url", "member_repo_keys", "created_at"}).
			AddRow(int64(3), repoID, tenant.TenantID, key, "local", nil, []byte(`[]`), time.Now()))
	return repoID
}

func TestNewWiresServices(t *testing.T) {
	mgr, _ := newTestManager(t)

	assert.NotNil(t, mgr.Store())
	assert.NotNil(t, mgr.Objects())
	assert.NotNil(t, mgr.Broker())
	assert.NotNil(t, mgr.Health())
	assert.NotNil(t, mgr.Tokens())
	assert.NotNil(t, mgr.Authenticator())
	assert.NotNil(t, mgr.Uploads())
	assert.NotNil(t, mgr.Publish())
	assert.NotNil(t, mgr.Policy())
	assert.NotNil(t, mgr.Lifecycle())
	assert.NotNil(t, mgr.Outbox())

	assert.Nil(t, mgr.SAML(), "SAML service should not exist when disabled")
	assert.Nil(t, mgr.Tenant(), "tenant is unresolved before Bootstrap")
}

func TestBootstrapResolvesTenant(t *testing.T) {
	mgr, mock := newTestManager(t)
	tenantID := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO tenants`)).
		WithArgs("default").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, tenant_id, slug, created_at FROM tenants`)).
		WithArgs("default").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "slug", "created_at"}).
			AddRow(int64(1), tenantID, "default", time.Now()))

	require.NoError(t, mgr.Bootstrap(context.Background()))

	tenant := mgr.Tenant()
	require.NotNil(t, tenant)
	assert.Equal(t, "default", tenant.Slug)
	assert.Equal(t, tenantID, tenant.TenantID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestsBeforeBootstrapRefused(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.ListRepos(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindDependencyUnavailable, errs.KindOf(err))
}

func TestCreateRepoValidation(t *testing.T) {
	mgr, _ := newTestManager(t)
	bootstrapped(t, mgr)

	upstream := "https://repo.example.org/libs"
	relative := "repo.example.org/libs"

	tests := []struct {
		name string
		req  CreateRepoRequest
	}{
		{"empty key", CreateRepoRequest{RepoKey: "", RepoType: "local"}},
		{"uppercase key", CreateRepoRequest{RepoKey: "Libs", RepoType: "local"}},
		{"colon in key", CreateRepoRequest{RepoKey: "libs:release", RepoType: "local"}},
		{"unknown type", CreateRepoRequest{RepoKey: "libs", RepoType: "mirror"}},
		{"remote without upstream", CreateRepoRequest{RepoKey: "proxy", RepoType: "remote"}},
		{"remote relative upstream", CreateRepoRequest{RepoKey: "proxy", RepoType: "remote", UpstreamURL: &relative}},
		{"remote with members", CreateRepoRequest{RepoKey: "proxy", RepoType: "remote", UpstreamURL: &upstream, MemberRepoKeys: []string{"libs"}}},
		{"virtual without members", CreateRepoRequest{RepoKey: "all", RepoType: "virtual"}},
		{"virtual duplicate member", CreateRepoRequest{RepoKey: "all", RepoType: "virtual", MemberRepoKeys: []string{"libs", "libs"}}},
		{"virtual includes itself", CreateRepoRequest{RepoKey: "all", RepoType: "virtual", MemberRepoKeys: []string{"all"}}},
		{"virtual with upstream", CreateRepoRequest{RepoKey: "all", RepoType: "virtual", UpstreamURL: &upstream, MemberRepoKeys: []string{"libs"}}},
		{"local with upstream", CreateRepoRequest{RepoKey: "libs", RepoType: "local", UpstreamURL: &upstream}},
		{"local with members", CreateRepoRequest{RepoKey: "libs", RepoType: "local", MemberRepoKeys: []string{"other"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.CreateRepo(context.Background(), "admin", tc.req)
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		})
	}
}

func TestCreateRepoLocal(t *testing.T) {
	mgr, mock := newTestManager(t)
	bootstrapped(t, mgr)

	mock.ExpectBegin()
	expectRepoInsert(mock)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	repo, err := mgr.CreateRepo(context.Background(), "admin", CreateRepoRequest{RepoKey: "libs", RepoType: "local"})
	require.NoError(t, err)
	assert.Equal(t, "libs", repo.RepoKey)
	assert.Equal(t, types.RepoTypeLocal, repo.RepoType)
	assert.NotEqual(t, uuid.Nil, repo.RepoID)
	assert.Nil(t, repo.UpstreamURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRepoVirtual(t *testing.T) {
	mgr, mock := newTestManager(t)
	bootstrapped(t, mgr)

	mock.ExpectBegin()
	expectRepoInsert(mock)
	expectAuditInsert(mock)
	mock.ExpectCommit()

	repo, err := mgr.CreateRepo(context.Background(), "admin", CreateRepoRequest{
		RepoKey:        "all",
		RepoType:       "virtual",
		MemberRepoKeys: []string{"libs", "proxy"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.RepoTypeVirtual, repo.RepoType)
	assert.Equal(t, []string{"libs", "proxy"}, repo.MemberRepoKeys)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRepoDuplicateKey(t *testing.T) {
	mgr, mock := newTestManager(t)
	bootstrapped(t, mgr)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO repos`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "repos_tenant_id_repo_key_key"})
	mock.ExpectRollback()

	_, err := mgr.CreateRepo(context.Background(), "admin", CreateRepoRequest{RepoKey: "libs", RepoType: "local"})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRepo(t *testing.T) {
	mgr, mock := newTestManager(t)
	tenant := bootstrapped(t, mgr)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM repos`)).
		WithArgs(tenant.TenantID, "libs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	require.NoError(t, mgr.DeleteRepo(context.Background(), "admin", "libs"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRepoMissing(t *testing.T) {
	mgr, mock := newTestManager(t)
	bootstrapped(t, mgr)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM repos`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := mgr.DeleteRepo(context.Background(), "admin", "ghost")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestDeleteRepoNotEmpty(t *testing.T) {
	mgr, mock := newTestManager(t)
	bootstrapped(t, mgr)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM repos`)).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "versions_repo_id_fkey"})
	mock.ExpectRollback()

	err := mgr.DeleteRepo(context.Background(), "admin", "libs")
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.Contains(t, err.Error(), "not empty")
}

func TestPutBindingValidation(t *testing.T) {
	mgr, _ := newTestManager(t)
	bootstrapped(t, mgr)

	_, err := mgr.PutBinding(context.Background(), "admin", "libs", "  ", []string{"read"})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = mgr.PutBinding(context.Background(), "admin", "libs", "team-ci", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))

	_, err = mgr.PutBinding(context.Background(), "admin", "libs", "team-ci", []string{"owner"})
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
}

func TestPutBindingDeduplicatesRoles(t *testing.T) {
	mgr, mock := newTestManager(t)
	tenant := bootstrapped(t, mgr)

	repoID := expectRepoRow(mock, tenant, "libs")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO role_bindings`)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	binding, err := mgr.PutBinding(context.Background(), "admin", "libs", "team-ci", []string{"read", "READ", "write"})
	require.NoError(t, err)
	assert.Equal(t, repoID, binding.RepoID)
	assert.Equal(t, []types.Role{types.RoleRead, types.RoleWrite}, binding.Roles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBindingMissingRepo(t *testing.T) {
	mgr, mock := newTestManager(t)
	tenant := bootstrapped(t, mgr)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys, created_at`)).
		WithArgs(tenant.TenantID, "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := mgr.DeleteBinding(context.Background(), "admin", "ghost", "team-ci")
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestUpdateComponentsProbesDependencies(t *testing.T) {
	mgr, mock := newTestManager(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1`)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mgr.updateComponents()
	assert.NoError(t, mock.ExpectationsWereMet())
}
