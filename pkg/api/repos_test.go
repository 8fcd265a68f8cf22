package api

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRepoEndpoint(t *testing.T) {
	srv, mock, _ := newTestServer(t, "")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO repos`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), time.Now()))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	rec := doRequest(t, srv, http.MethodPost, "/v1/repos", testBootstrapToken, map[string]interface{}{
		"repoKey":  "maven-releases",
		"repoType": "local",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "maven-releases", body["repoKey"])
	assert.Equal(t, "local", body["repoType"])
	_, err := uuid.Parse(body["repoId"].(string))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRepoValidationEnvelope(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{
			name: "unknown type",
			body: map[string]interface{}{"repoKey": "a", "repoType": "weird"},
			want: "repoType",
		},
		{
			name: "remote without upstream",
			body: map[string]interface{}{"repoKey": "a", "repoType": "remote"},
			want: "upstreamUrl",
		},
		{
			name: "virtual without members",
			body: map[string]interface{}{"repoKey": "a", "repoType": "virtual"},
			want: "member",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, _ := newTestServer(t, "")

			rec := doRequest(t, srv, http.MethodPost, "/v1/repos", testBootstrapToken, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "bad_request", body["error"])
			assert.Contains(t, body["message"], tt.want)
		})
	}
}

func TestCreateRepoMalformedJSON(t *testing.T) {
	srv, _, _ := newTestServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/v1/repos", strings.NewReader("{oops"))
	req.Header.Set("Authorization", "Bearer "+testBootstrapToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "bad_request", decodeBody(t, rec)["error"])
}

func TestGetRepoEndpoint(t *testing.T) {
	srv, mock, tenant := newTestServer(t, "")
	expectRepoRow(mock, tenant, "maven-releases")

	rec := doRequest(t, srv, http.MethodGet, "/v1/repos/maven-releases", testBootstrapToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "maven-releases", body["repoKey"])
	assert.Equal(t, "local", body["repoType"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRepoNotFound(t *testing.T) {
	srv, mock, _ := newTestServer(t, "")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys, created_at`)).
		WillReturnError(sql.ErrNoRows)

	rec := doRequest(t, srv, http.MethodGet, "/v1/repos/missing", testBootstrapToken, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestListReposEndpoint(t *testing.T) {
	srv, mock, tenant := newTestServer(t, "")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, repo_id, tenant_id, repo_key, repo_type, upstream_url, member_repo_keys, created_at`)).
		WithArgs(tenant.TenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "repo_id", "tenant_id", "repo_key", "repo_type", "upstream_url", "member_repo_keys", "created_at"}).
			AddRow(int64(1), uuid.New(), tenant.TenantID, "maven-releases", "local", nil, []byte(`[]`), time.Now()).
			AddRow(int64(2), uuid.New(), tenant.TenantID, "npm-proxy", "remote", "https://registry.npmjs.org", []byte(`[]`), time.Now()))

	rec := doRequest(t, srv, http.MethodGet, "/v1/repos", testBootstrapToken, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	repos := decodeBody(t, rec)["repos"].([]interface{})
	assert.Len(t, repos, 2)
	first := repos[0].(map[string]interface{})
	assert.Equal(t, "maven-releases", first["repoKey"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadOnlyPATCannotCreateRepo(t *testing.T) {
	srv, mock, tenant := newTestServer(t, "")
	expectPAT(mock, tenant, "reader-token", "reader", `["repo:maven-releases:read"]`)

	rec := doRequest(t, srv, http.MethodPost, "/v1/repos", "reader-token", map[string]interface{}{
		"repoKey":  "another",
		"repoType": "local",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeBody(t, rec)["error"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRepoEndpoint(t *testing.T) {
	srv, mock, _ := newTestServer(t, "")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM repos`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	rec := doRequest(t, srv, http.MethodDelete, "/v1/repos/maven-releases", testBootstrapToken, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutBindingEndpoint(t *testing.T) {
	srv, mock, tenant := newTestServer(t, "")
	expectRepoRow(mock, tenant, "maven-releases")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO role_bindings`)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	rec := doRequest(t, srv, http.MethodPut, "/v1/repos/maven-releases/bindings/ci-bot", testBootstrapToken, map[string]interface{}{
		"roles": []string{"read", "write"},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "maven-releases", body["repoKey"])
	assert.Equal(t, "ci-bot", body["subject"])
	assert.Equal(t, []interface{}{"read", "write"}, body["roles"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteBindingEndpoint(t *testing.T) {
	srv, mock, tenant := newTestServer(t, "")
	expectRepoRow(mock, tenant, "maven-releases")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM role_bindings`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectAuditInsert(mock)
	mock.ExpectCommit()

	rec := doRequest(t, srv, http.MethodDelete, "/v1/repos/maven-releases/bindings/ci-bot", testBootstrapToken, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}
