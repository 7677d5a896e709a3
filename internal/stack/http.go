package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/stacksync/internal/model"
)

// DefaultRequestTimeout bounds a single API call when the caller's context
// carries no deadline.
const DefaultRequestTimeout = 60 * time.Second

// Endpoint identifies one stack and the credentials used to reach it.
type Endpoint struct {
	// URL is the base URL of the stack's admin API (e.g. https://repo.example.org/repo/v1).
	URL string `yaml:"url"`

	// Username and APIKey authenticate the migration admin.
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
}

// HTTPClient implements Client over the stack's JSON admin API.
//
// Thread-safety: HTTPClient is stateless apart from the underlying
// http.Client and is safe for concurrent use.
type HTTPClient struct {
	endpoint Endpoint
	base     *url.URL
	http     *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client (e.g. for tests).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// NewHTTPClient creates a client for the given endpoint.
func NewHTTPClient(ep Endpoint, opts ...HTTPOption) (*HTTPClient, error) {
	if ep.URL == "" {
		return nil, fmt.Errorf("endpoint url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(ep.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse endpoint url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("endpoint url %q: scheme must be http or https", ep.URL)
	}

	c := &HTTPClient{
		endpoint: ep,
		base:     base,
		http:     &http.Client{Timeout: DefaultRequestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the configured endpoint URL.
func (c *HTTPClient) Endpoint() string {
	return c.base.String()
}

type typeCountsResponse struct {
	List []model.TypeCount `json:"list"`
}

type typeListResponse struct {
	List []model.MigrationType `json:"list"`
}

type checksumResponse struct {
	Checksum string `json:"checksum"`
}

type applyRequest struct {
	Type     model.MigrationType `json:"type"`
	Category model.Category      `json:"category"`
	IDs      []int64             `json:"ids"`
}

type applyResponse struct {
	Count int64 `json:"count"`
}

type errorResponse struct {
	Reason string `json:"reason"`
}

// GetRowMetadata implements Client.
func (c *HTTPClient) GetRowMetadata(ctx context.Context, t model.MigrationType, limit, offset int64) (model.RowMetadataResult, error) {
	q := url.Values{}
	q.Set("type", string(t))
	q.Set("limit", strconv.FormatInt(limit, 10))
	q.Set("offset", strconv.FormatInt(offset, 10))

	var res model.RowMetadataResult
	if err := c.do(ctx, http.MethodGet, "/migration/rows", q, nil, &res); err != nil {
		return model.RowMetadataResult{}, fmt.Errorf("get row metadata: %w", err)
	}
	return res, nil
}

// GetRowMetadataByRange implements Client.
func (c *HTTPClient) GetRowMetadataByRange(ctx context.Context, t model.MigrationType, minID, maxID int64) (model.RowMetadataResult, error) {
	q := url.Values{}
	q.Set("type", string(t))
	q.Set("minId", strconv.FormatInt(minID, 10))
	q.Set("maxId", strconv.FormatInt(maxID, 10))

	var res model.RowMetadataResult
	if err := c.do(ctx, http.MethodGet, "/migration/rows/range", q, nil, &res); err != nil {
		return model.RowMetadataResult{}, fmt.Errorf("get row metadata by range: %w", err)
	}
	return res, nil
}

// GetTypeCounts implements Client.
func (c *HTTPClient) GetTypeCounts(ctx context.Context) ([]model.TypeCount, error) {
	var res typeCountsResponse
	if err := c.do(ctx, http.MethodGet, "/migration/counts", nil, nil, &res); err != nil {
		return nil, fmt.Errorf("get type counts: %w", err)
	}
	return res.List, nil
}

// GetPrimaryTypes implements Client.
func (c *HTTPClient) GetPrimaryTypes(ctx context.Context) ([]model.MigrationType, error) {
	var res typeListResponse
	if err := c.do(ctx, http.MethodGet, "/migration/primarytypes", nil, nil, &res); err != nil {
		return nil, fmt.Errorf("get primary types: %w", err)
	}
	return res.List, nil
}

// GetChecksumForIDRange implements Client.
func (c *HTTPClient) GetChecksumForIDRange(ctx context.Context, t model.MigrationType, salt string, minID, maxID int64) (string, error) {
	q := url.Values{}
	q.Set("type", string(t))
	q.Set("salt", salt)
	q.Set("minId", strconv.FormatInt(minID, 10))
	q.Set("maxId", strconv.FormatInt(maxID, 10))

	var res checksumResponse
	if err := c.do(ctx, http.MethodGet, "/migration/checksum/range", q, nil, &res); err != nil {
		return "", fmt.Errorf("get range checksum: %w", err)
	}
	return res.Checksum, nil
}

// GetChecksumForType implements Client.
func (c *HTTPClient) GetChecksumForType(ctx context.Context, t model.MigrationType) (string, error) {
	q := url.Values{}
	q.Set("type", string(t))

	var res checksumResponse
	if err := c.do(ctx, http.MethodGet, "/migration/checksum", q, nil, &res); err != nil {
		return "", fmt.Errorf("get type checksum: %w", err)
	}
	return res.Checksum, nil
}

// ApplyBatch implements Client.
func (c *HTTPClient) ApplyBatch(ctx context.Context, t model.MigrationType, cat model.Category, ids []int64) (int64, error) {
	req := applyRequest{Type: t, Category: cat, IDs: ids}
	var res applyResponse
	if err := c.do(ctx, http.MethodPost, "/migration/apply", nil, req, &res); err != nil {
		return 0, fmt.Errorf("apply %s batch: %w", cat, err)
	}
	return res.Count, nil
}

// GetStackStatus implements Client.
func (c *HTTPClient) GetStackStatus(ctx context.Context) (model.StackStatus, error) {
	var res model.StackStatus
	if err := c.do(ctx, http.MethodGet, "/admin/status", nil, nil, &res); err != nil {
		return model.StackStatus{}, fmt.Errorf("get stack status: %w", err)
	}
	return res, nil
}

// SetStackStatus implements Client.
func (c *HTTPClient) SetStackStatus(ctx context.Context, status model.StackStatus) (model.StackStatus, error) {
	var res model.StackStatus
	if err := c.do(ctx, http.MethodPut, "/admin/status", nil, status, &res); err != nil {
		return model.StackStatus{}, fmt.Errorf("set stack status: %w", err)
	}
	return res, nil
}

// do performs one JSON request. body and out may be nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if q != nil {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.endpoint.Username != "" {
		req.Header.Set("userId", c.endpoint.Username)
	}
	if c.endpoint.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.endpoint.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}
		var er errorResponse
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil && json.Unmarshal(data, &er) == nil {
			apiErr.Reason = er.Reason
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
