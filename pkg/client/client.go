package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/artifortress/artifortress/pkg/auth"
	"github.com/artifortress/artifortress/pkg/errs"
	"github.com/artifortress/artifortress/pkg/lifecycle"
	"github.com/artifortress/artifortress/pkg/outbox"
	"github.com/artifortress/artifortress/pkg/policy"
	"github.com/artifortress/artifortress/pkg/publish"
	"github.com/artifortress/artifortress/pkg/uploads"
)

// Client is a typed REST client for the Artifortress API. The bearer
// token is injected on every request; error envelopes decode back into
// the errs taxonomy so callers branch on kinds, not status codes.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request round trip
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client against the given base URL, e.g.
// http://localhost:8080.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// kindForStatus inverts the server's status mapping
func kindForStatus(status int) errs.Kind {
	switch status {
	case http.StatusBadRequest:
		return errs.KindValidation
	case http.StatusUnauthorized:
		return errs.KindUnauthorized
	case http.StatusForbidden:
		return errs.KindForbidden
	case http.StatusNotFound:
		return errs.KindNotFound
	case http.StatusConflict:
		return errs.KindConflict
	case http.StatusRequestedRangeNotSatisfiable:
		return errs.KindRangeNotSatisfiable
	case http.StatusLocked:
		return errs.KindLocked
	case http.StatusServiceUnavailable:
		return errs.KindDependencyUnavailable
	default:
		return errs.KindInternal
	}
}

// decodeError turns a non-2xx response into a classified error
func decodeError(resp *http.Response) error {
	kind := kindForStatus(resp.StatusCode)
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errs.New(kind, kind.String(), fmt.Sprintf("unexpected response (status %d)", resp.StatusCode))
	}
	code, _ := envelope["error"].(string)
	if code == "" {
		code = kind.String()
	}
	message, _ := envelope["message"].(string)
	e := errs.New(kind, code, message)
	for key, value := range envelope {
		if key == "error" || key == "message" {
			continue
		}
		e.With(key, value)
	}
	return e
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do runs one JSON round trip, decoding a 2xx body into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, "unreachable", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Identity is the authenticated principal as reported by whoami
type Identity struct {
	Subject    string   `json:"subject"`
	Scopes     []string `json:"scopes"`
	AuthSource string   `json:"authSource"`
}

// Whoami reports the principal behind the configured bearer
func (c *Client) Whoami(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.do(ctx, http.MethodGet, "/v1/auth/whoami", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssuePAT mints a personal access token. The plaintext in the response
// is shown exactly once and never re-derivable.
func (c *Client) IssuePAT(ctx context.Context, req auth.IssueTokenRequest) (*auth.IssuedToken, error) {
	var out auth.IssuedToken
	if err := c.do(ctx, http.MethodPost, "/v1/auth/pats", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokePAT revokes a token by id
func (c *Client) RevokePAT(ctx context.Context, tokenID uuid.UUID) error {
	body := map[string]string{"tokenId": tokenID.String()}
	return c.do(ctx, http.MethodPost, "/v1/auth/pats/revoke", body, nil)
}

// Repo is a repository as rendered by the API
type Repo struct {
	RepoID         uuid.UUID `json:"repoId"`
	RepoKey        string    `json:"repoKey"`
	RepoType       string    `json:"repoType"`
	UpstreamURL    *string   `json:"upstreamUrl,omitempty"`
	MemberRepoKeys []string  `json:"memberRepoKeys,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CreateRepoRequest names and shapes a new repository
type CreateRepoRequest struct {
	RepoKey        string   `json:"repoKey"`
	RepoType       string   `json:"repoType"`
	UpstreamURL    *string  `json:"upstreamUrl,omitempty"`
	MemberRepoKeys []string `json:"memberRepoKeys,omitempty"`
}

// CreateRepo creates a repository (admin)
func (c *Client) CreateRepo(ctx context.Context, req CreateRepoRequest) (*Repo, error) {
	var out Repo
	if err := c.do(ctx, http.MethodPost, "/v1/repos", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRepo fetches one repository by key
func (c *Client) GetRepo(ctx context.Context, repoKey string) (*Repo, error) {
	var out Repo
	if err := c.do(ctx, http.MethodGet, "/v1/repos/"+url.PathEscape(repoKey), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRepos lists the tenant's repositories
func (c *Client) ListRepos(ctx context.Context) ([]Repo, error) {
	var out struct {
		Repos []Repo `json:"repos"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/repos", nil, &out); err != nil {
		return nil, err
	}
	return out.Repos, nil
}

// DeleteRepo removes an empty repository
func (c *Client) DeleteRepo(ctx context.Context, repoKey string) error {
	return c.do(ctx, http.MethodDelete, "/v1/repos/"+url.PathEscape(repoKey), nil, nil)
}

// Binding grants roles on one repository to one subject
type Binding struct {
	RepoKey   string    `json:"repoKey"`
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PutBinding sets a subject's roles on a repository
func (c *Client) PutBinding(ctx context.Context, repoKey, subject string, roles []string) (*Binding, error) {
	path := fmt.Sprintf("/v1/repos/%s/bindings/%s", url.PathEscape(repoKey), url.PathEscape(subject))
	var out Binding
	if err := c.do(ctx, http.MethodPut, path, map[string][]string{"roles": roles}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBinding reads a subject's roles on a repository
func (c *Client) GetBinding(ctx context.Context, repoKey, subject string) (*Binding, error) {
	path := fmt.Sprintf("/v1/repos/%s/bindings/%s", url.PathEscape(repoKey), url.PathEscape(subject))
	var out Binding
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteBinding removes a subject's roles on a repository
func (c *Client) DeleteBinding(ctx context.Context, repoKey, subject string) error {
	path := fmt.Sprintf("/v1/repos/%s/bindings/%s", url.PathEscape(repoKey), url.PathEscape(subject))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// UploadSession is an upload session as rendered by the API
type UploadSession struct {
	UploadID            uuid.UUID `json:"uploadId"`
	State               string    `json:"state"`
	ExpectedDigest      string    `json:"expectedDigest"`
	ExpectedLength      int64     `json:"expectedLength"`
	Deduped             bool      `json:"deduped"`
	CommittedBlobDigest *string   `json:"committedBlobDigest,omitempty"`
	AbortReason         *string   `json:"abortReason,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	ExpiresAt           time.Time `json:"expiresAt"`
}

func (c *Client) uploadPath(repoKey string, uploadID uuid.UUID, suffix string) string {
	return fmt.Sprintf("/v1/repos/%s/uploads/%s/%s", url.PathEscape(repoKey), uploadID, suffix)
}

// CreateUpload opens an upload session. A deduplicated session comes
// back already committed.
func (c *Client) CreateUpload(ctx context.Context, repoKey string, req uploads.CreateRequest) (*UploadSession, error) {
	var out UploadSession
	path := fmt.Sprintf("/v1/repos/%s/uploads", url.PathEscape(repoKey))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PresignPart asks for one part's presigned PUT URL
func (c *Client) PresignPart(ctx context.Context, repoKey string, uploadID uuid.UUID, partNumber int32) (*uploads.PresignedPartResponse, error) {
	var out uploads.PresignedPartResponse
	req := uploads.PresignPartRequest{PartNumber: partNumber}
	if err := c.do(ctx, http.MethodPost, c.uploadPath(repoKey, uploadID, "parts"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadPart PUTs one part's bytes to its presigned URL and returns the
// ETag the storage backend assigned.
func (c *Client) UploadPart(ctx context.Context, presignedURL string, body io.Reader, length int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, body)
	if err != nil {
		return "", err
	}
	req.ContentLength = length
	resp, err := c.http.Do(req)
	if err != nil {
		return "", errs.Wrap(errs.KindDependencyUnavailable, "unreachable", "part upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", errs.New(errs.KindDependencyUnavailable, "part_upload_failed",
			fmt.Sprintf("part upload returned status %d", resp.StatusCode))
	}
	return resp.Header.Get("ETag"), nil
}

// CompleteUpload stitches the uploaded parts
func (c *Client) CompleteUpload(ctx context.Context, repoKey string, uploadID uuid.UUID, parts []uploads.PartETag) (*UploadSession, error) {
	var out UploadSession
	req := uploads.CompleteRequest{Parts: parts}
	if err := c.do(ctx, http.MethodPost, c.uploadPath(repoKey, uploadID, "complete"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AbortUpload abandons a session
func (c *Client) AbortUpload(ctx context.Context, repoKey string, uploadID uuid.UUID, reason string) (*UploadSession, error) {
	var out UploadSession
	req := uploads.AbortRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, c.uploadPath(repoKey, uploadID, "abort"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CommitUpload verifies the staged bytes and records the blob
func (c *Client) CommitUpload(ctx context.Context, repoKey string, uploadID uuid.UUID) (*UploadSession, error) {
	var out UploadSession
	if err := c.do(ctx, http.MethodPost, c.uploadPath(repoKey, uploadID, "commit"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Blob is one downloaded blob stream. The caller owns Body.
type Blob struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  string
	Digest        string
}

// DownloadBlob streams a blob from a repository. rangeHeader is an
// optional bytes=a-b value; blank downloads the whole object.
func (c *Client) DownloadBlob(ctx context.Context, repoKey, digest, rangeHeader string) (*Blob, error) {
	path := fmt.Sprintf("/v1/repos/%s/blobs/%s", url.PathEscape(repoKey), url.PathEscape(digest))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindDependencyUnavailable, "unreachable", "request failed", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	length, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	return &Blob{
		Body:          resp.Body,
		ContentLength: length,
		ContentRange:  resp.Header.Get("Content-Range"),
		Digest:        resp.Header.Get("X-Checksum-Sha256"),
	}, nil
}

// Version is a package version as rendered by the API
type Version struct {
	VersionID        uuid.UUID  `json:"versionId"`
	PackageType      string     `json:"packageType"`
	PackageNamespace *string    `json:"packageNamespace,omitempty"`
	PackageName      string     `json:"packageName"`
	Version          string     `json:"version"`
	State            string     `json:"state"`
	CreatedBySubject string     `json:"createdBySubject"`
	CreatedAt        time.Time  `json:"createdAt"`
	PublishedAt      *time.Time `json:"publishedAt,omitempty"`
}

// Draft is the draft-create response: the version plus the reuse flag
type Draft struct {
	Version
	ReusedDraft bool `json:"reusedDraft"`
}

func (c *Client) versionPath(repoKey string, versionID uuid.UUID, suffix string) string {
	path := fmt.Sprintf("/v1/repos/%s/packages/versions/%s", url.PathEscape(repoKey), versionID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path
}

// CreateDraft creates (or reuses) a draft version
func (c *Client) CreateDraft(ctx context.Context, repoKey string, req publish.CreateDraftRequest) (*Draft, error) {
	var out Draft
	path := fmt.Sprintf("/v1/repos/%s/packages/versions/drafts", url.PathEscape(repoKey))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetVersion fetches one version
func (c *Client) GetVersion(ctx context.Context, repoKey string, versionID uuid.UUID) (*Version, error) {
	var out Version
	if err := c.do(ctx, http.MethodGet, c.versionPath(repoKey, versionID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListVersions lists a repository's versions
func (c *Client) ListVersions(ctx context.Context, repoKey string) ([]Version, error) {
	var out struct {
		Versions []Version `json:"versions"`
	}
	path := fmt.Sprintf("/v1/repos/%s/packages/versions", url.PathEscape(repoKey))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Versions, nil
}

// UpsertEntries declares a draft's artifact paths
func (c *Client) UpsertEntries(ctx context.Context, repoKey string, versionID uuid.UUID, entries []publish.EntryInput) error {
	req := publish.UpsertEntriesRequest{Entries: entries}
	return c.do(ctx, http.MethodPost, c.versionPath(repoKey, versionID, "entries"), req, nil)
}

// PutManifest sets a draft's manifest document
func (c *Client) PutManifest(ctx context.Context, repoKey string, versionID uuid.UUID, manifest json.RawMessage) error {
	req := publish.UpsertManifestRequest{Manifest: manifest}
	return c.do(ctx, http.MethodPut, c.versionPath(repoKey, versionID, "manifest"), req, nil)
}

// Publish flips a draft to published. Idempotent on published versions.
func (c *Client) Publish(ctx context.Context, repoKey string, versionID uuid.UUID) (*publish.PublishResult, error) {
	var out publish.PublishResult
	if err := c.do(ctx, http.MethodPost, c.versionPath(repoKey, versionID, "publish"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tombstone marks a published version for deferred deletion
func (c *Client) Tombstone(ctx context.Context, repoKey string, versionID uuid.UUID, req lifecycle.TombstoneRequest) (*lifecycle.TombstoneResult, error) {
	var out lifecycle.TombstoneResult
	if err := c.do(ctx, http.MethodPost, c.versionPath(repoKey, versionID, "tombstone"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EvaluatePolicy records a policy verdict for a version
func (c *Client) EvaluatePolicy(ctx context.Context, repoKey string, req policy.EvaluateRequest) (*policy.EvaluateResponse, error) {
	var out policy.EvaluateResponse
	path := fmt.Sprintf("/v1/repos/%s/policy/evaluations", url.PathEscape(repoKey))
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quarantine is a quarantine item as rendered by the API
type Quarantine struct {
	QuarantineID uuid.UUID `json:"quarantineId"`
	VersionID    uuid.UUID `json:"versionId"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ListQuarantine lists a repository's quarantine items, optionally
// filtered by status.
func (c *Client) ListQuarantine(ctx context.Context, repoKey, status string) ([]Quarantine, error) {
	var out struct {
		Items []Quarantine `json:"items"`
	}
	path := fmt.Sprintf("/v1/repos/%s/quarantine", url.PathEscape(repoKey))
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) quarantinePath(repoKey string, quarantineID uuid.UUID, verb string) string {
	return fmt.Sprintf("/v1/repos/%s/quarantine/%s/%s", url.PathEscape(repoKey), quarantineID, verb)
}

// ReleaseQuarantine transitions a quarantined item to released
func (c *Client) ReleaseQuarantine(ctx context.Context, repoKey string, quarantineID uuid.UUID) (*Quarantine, error) {
	var out Quarantine
	if err := c.do(ctx, http.MethodPost, c.quarantinePath(repoKey, quarantineID, "release"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RejectQuarantine transitions a quarantined item to rejected
func (c *Client) RejectQuarantine(ctx context.Context, repoKey string, quarantineID uuid.UUID) (*Quarantine, error) {
	var out Quarantine
	if err := c.do(ctx, http.MethodPost, c.quarantinePath(repoKey, quarantineID, "reject"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunGC performs one garbage collection pass (admin)
func (c *Client) RunGC(ctx context.Context, req lifecycle.GCRequest) (*lifecycle.GCResult, error) {
	var out lifecycle.GCResult
	if err := c.do(ctx, http.MethodPost, "/v1/admin/gc/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReconcileBlobs scans for orphan blobs (admin, pure read)
func (c *Client) ReconcileBlobs(ctx context.Context, limit int) (*lifecycle.ReconcileResult, error) {
	var out lifecycle.ReconcileResult
	path := "/v1/admin/reconcile/blobs?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpsSummary is the operational backlog posture (admin)
type OpsSummary struct {
	PendingOutboxEvents           int   `json:"pendingOutboxEvents"`
	AvailableOutboxEvents         int   `json:"availableOutboxEvents"`
	OldestPendingOutboxAgeSeconds int64 `json:"oldestPendingOutboxAgeSeconds"`
	PendingSearchJobs             int   `json:"pendingSearchJobs"`
	FailedSearchJobs              int   `json:"failedSearchJobs"`
	IncompleteGCRuns              int   `json:"incompleteGcRuns"`
	RecentPolicyTimeouts24h       int   `json:"recentPolicyTimeouts24h"`
}

// GetOpsSummary reads the backlog counters
func (c *Client) GetOpsSummary(ctx context.Context) (*OpsSummary, error) {
	var out OpsSummary
	if err := c.do(ctx, http.MethodGet, "/v1/admin/ops/summary", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SweepOutbox runs one synchronous outbox producer pass (admin)
func (c *Client) SweepOutbox(ctx context.Context) (*outbox.ProducerOutcome, error) {
	var out outbox.ProducerOutcome
	if err := c.do(ctx, http.MethodPost, "/v1/admin/outbox/sweep", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SweepJobs runs one synchronous job consumer pass (admin)
func (c *Client) SweepJobs(ctx context.Context) (*outbox.JobOutcome, error) {
	var out outbox.JobOutcome
	if err := c.do(ctx, http.MethodPost, "/v1/admin/jobs/sweep", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AuditRecord is one append-only audit row as rendered by the API
type AuditRecord struct {
	ID           int64                  `json:"id"`
	Action       string                 `json:"action"`
	Actor        string                 `json:"actor"`
	ResourceType string                 `json:"resourceType"`
	ResourceID   string                 `json:"resourceId"`
	Details      map[string]interface{} `json:"details"`
	OccurredAt   time.Time              `json:"occurredAt"`
}

// ListAudit reads the most recent audit records (admin)
func (c *Client) ListAudit(ctx context.Context, limit int) ([]AuditRecord, error) {
	var out struct {
		Events []AuditRecord `json:"events"`
	}
	path := "/v1/audit?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}
