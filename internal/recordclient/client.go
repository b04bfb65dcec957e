// Package recordclient implements the Record Client (spec §4.A): the sole
// path every executor and dispatcher uses to talk to the Record Store's
// HTTP surface (spec §6.1), with bearer-token auth, optimistic-concurrency
// headers and retry/backoff on transient failures. Grounded on the
// teacher's MCP HTTP transport (internal/mcp/transport_http.go) for request
// shaping and on internal/retry + internal/backoff for the retry policy.
package recordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/breadauth"
	"github.com/haasonsaas/breadcrumb/internal/breaderr"
	"github.com/haasonsaas/breadcrumb/internal/retry"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// Config configures a Client's transport and retry behavior.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Config
	// Logger, if set, receives a warning for every SSE frame dropped after
	// a failed lenient-repair attempt. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is the single entry point for record store operations: create,
// get, update, delete, search, vector_search, list_secrets, get_secret and
// connect_sse, all per spec §6.1.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *breadauth.TokenCell
	retry   retry.Config
	logger  *slog.Logger
}

// New builds a Client bound to tokens for bearer auth.
func New(cfg Config, tokens *breadauth.TokenCell) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts == 0 {
		retryCfg = retry.Exponential(4, 200*time.Millisecond, 10*time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    httpClient,
		tokens:  tokens,
		retry:   retryCfg,
		logger:  logger.With("component", "recordclient"),
	}
}

// Create stores a new breadcrumb and returns its id and initial version.
func (c *Client) Create(ctx context.Context, req models.CreateBreadcrumbRequest) (*models.CreateBreadcrumbResult, error) {
	var result models.CreateBreadcrumbResult
	err := c.doJSON(ctx, http.MethodPost, "/breadcrumbs", nil, req, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Get fetches a breadcrumb by id.
func (c *Client) Get(ctx context.Context, id string) (*models.Breadcrumb, error) {
	var b models.Breadcrumb
	err := c.doJSON(ctx, http.MethodGet, "/breadcrumbs/"+url.PathEscape(id), nil, nil, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Update applies patch to the breadcrumb at id, enforcing optimistic
// concurrency via the If-Match header carrying expectedVersion (spec §4.A).
// Callers that hit KindVersionMismatch are expected to re-fetch and retry
// once (spec §7); Update itself does not loop.
func (c *Client) Update(ctx context.Context, id string, expectedVersion int, patch models.UpdatePatch) (*models.Breadcrumb, error) {
	headers := map[string]string{"If-Match": strconv.Itoa(expectedVersion)}
	var b models.Breadcrumb
	err := c.doJSON(ctx, http.MethodPatch, "/breadcrumbs/"+url.PathEscape(id), headers, patch, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Delete removes a breadcrumb by id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/breadcrumbs/"+url.PathEscape(id), nil, nil, nil)
}

// SearchQuery configures a tag/schema filtered listing.
type SearchQuery struct {
	SchemaName string
	AnyTags    []string
	AllTags    []string
	Limit      int
}

// Search lists breadcrumbs matching query.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]models.Breadcrumb, error) {
	v := url.Values{}
	if q.SchemaName != "" {
		v.Set("schema_name", q.SchemaName)
	}
	for _, t := range q.AnyTags {
		v.Add("any_tag", t)
	}
	for _, t := range q.AllTags {
		v.Add("all_tag", t)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	var results []models.Breadcrumb
	path := "/breadcrumbs/search"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}
	err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// VectorSearchQuery configures a nearest-neighbor lookup over embeddings.
type VectorSearchQuery struct {
	SchemaName string
	Query      string
	NN         int
}

// VectorSearch performs a nearest-neighbor similarity lookup, used by
// context sources with fetch method "vector" (spec §4.D).
func (c *Client) VectorSearch(ctx context.Context, q VectorSearchQuery) ([]models.Breadcrumb, error) {
	var results []models.Breadcrumb
	err := c.doJSON(ctx, http.MethodPost, "/breadcrumbs/vector_search", nil, q, &results)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Exists reports whether a breadcrumb tagged with the given idempotency key
// already exists for schemaName, used by the Bootstrap Loader (spec §4.H)
// to skip items it has already seeded. The idempotency key is stored as a
// tag of the form "idem:<key>" on creation.
func (c *Client) Exists(ctx context.Context, schemaName, idempotencyKey string) (bool, error) {
	results, err := c.Search(ctx, SearchQuery{
		SchemaName: schemaName,
		AllTags:    []string{"idem:" + idempotencyKey},
		Limit:      1,
	})
	if err != nil {
		return false, err
	}
	return len(results) > 0, nil
}

// Secret is a named credential the record store vends to authorized consumers.
type Secret struct {
	Name string `json:"name"`
}

// ListSecrets returns the names of secrets visible to the caller's identity,
// never their values (spec §4.A: secrets are fetched one at a time).
func (c *Client) ListSecrets(ctx context.Context) ([]Secret, error) {
	var secrets []Secret
	err := c.doJSON(ctx, http.MethodGet, "/secrets", nil, nil, &secrets)
	if err != nil {
		return nil, err
	}
	return secrets, nil
}

// GetSecret fetches a single secret's value by name.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	var out struct {
		Value string `json:"value"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/secrets/"+url.PathEscape(name), nil, nil, &out)
	if err != nil {
		return "", err
	}
	return out.Value, nil
}

// doJSON performs one HTTP round trip with bearer auth, JSON body/response
// marshaling and retry-on-transient. A nil out skips response decoding. On a
// 401, the bearer token is refreshed and the original call is re-issued
// once with the new token (spec §4.A/§7: refresh-then-retry, not just
// refresh) before giving up.
func (c *Client) doJSON(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return breaderr.New(breaderr.KindValidation, method+" "+path, err)
		}
	}

	var respBody []byte
	var statusCode int

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if tok := c.tokens.Get(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		statusCode = resp.StatusCode
		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if statusCode >= 200 && statusCode < 300 {
			return nil
		}

		kind := breaderr.FromStatusCode(statusCode)
		classified := breaderr.New(kind, method+" "+path, fmt.Errorf("%s", respBody))
		if !kind.Retryable() {
			return retry.Permanent(classified)
		}
		return classified
	}

	attemptErr := retry.Do(ctx, c.retry, attempt).Err

	if attemptErr != nil && c.tokens != nil && kindOfErr(attemptErr) == breaderr.KindUnauthorized {
		if refreshErr := c.tokens.Refresh(ctx); refreshErr == nil {
			attemptErr = attempt()
		}
	}

	if attemptErr != nil {
		var be *breaderr.Error
		if errors.As(attemptErr, &be) {
			return be
		}
		return breaderr.New(breaderr.KindFatal, method+" "+path, attemptErr)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return breaderr.New(breaderr.KindFatal, method+" "+path, err)
		}
	}
	return nil
}

// kindOfErr recovers a breaderr.Kind from an error that may be wrapped in a
// retry.PermanentError (unauthorized responses are marked permanent so the
// generic retry loop doesn't burn attempts sleeping on a credential that
// needs a refresh, not a backoff, to fix).
func kindOfErr(err error) breaderr.Kind {
	var be *breaderr.Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return breaderr.KindUnknown
}
