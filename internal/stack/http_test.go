package stack

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stacksync/internal/model"
)

const baseURL = "https://stack.example.org/repo/v1"

// newMockedClient returns an HTTPClient whose transport is intercepted by
// httpmock for the duration of the test.
func newMockedClient(t *testing.T, ep Endpoint) *HTTPClient {
	t.Helper()
	hc := &http.Client{}
	httpmock.ActivateNonDefault(hc)
	t.Cleanup(httpmock.DeactivateAndReset)

	if ep.URL == "" {
		ep.URL = baseURL
	}
	c, err := NewHTTPClient(ep, WithHTTPClient(hc))
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"bad scheme", "ftp://stack.example.org"},
		{"unparseable", "http://[::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTPClient(Endpoint{URL: tt.url})
			assert.Error(t, err)
		})
	}

	c, err := NewHTTPClient(Endpoint{URL: baseURL + "/"})
	require.NoError(t, err)
	assert.Equal(t, baseURL, c.Endpoint())
}

func TestHTTPClient_GetRowMetadata(t *testing.T) {
	c := newMockedClient(t, Endpoint{Username: "admin", APIKey: "secret"})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/rows",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "NODE", q.Get("type"))
			assert.Equal(t, "100", q.Get("limit"))
			assert.Equal(t, "200", q.Get("offset"))
			assert.Equal(t, "admin", req.Header.Get("userId"))
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			return httpmock.NewStringResponse(http.StatusOK,
				`{"list":[{"id":3,"etag":"a"},{"id":7,"etag":null}],"total_count":42}`), nil
		})

	res, err := c.GetRowMetadata(context.Background(), "NODE", 100, 200)
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.TotalCount)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "3@a", res.Records[0].String())
	assert.Nil(t, res.Records[1].Etag)
}

func TestHTTPClient_GetRowMetadataByRange(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/rows/range",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "10", q.Get("minId"))
			assert.Equal(t, "19", q.Get("maxId"))
			assert.Empty(t, req.Header.Get("Authorization"), "no key, no auth header")
			return httpmock.NewStringResponse(http.StatusOK, `{"list":[{"id":12,"etag":"x"}],"total_count":1}`), nil
		})

	res, err := c.GetRowMetadataByRange(context.Background(), "FILE", 10, 19)
	require.NoError(t, err)
	assert.Equal(t, []model.RecordMetadata{model.Rec(12, "x")}, res.Records)
}

func TestHTTPClient_CountsAndTypes(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/counts",
		httpmock.NewStringResponder(http.StatusOK,
			`{"list":[{"type":"NODE","count":2,"min_id":1,"max_id":9},{"type":"FILE","count":0}]}`))
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/primarytypes",
		httpmock.NewStringResponder(http.StatusOK, `{"list":["PRINCIPAL","NODE","FILE"]}`))

	counts, err := c.GetTypeCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, int64(9), *counts[0].MaxID)
	assert.Nil(t, counts[1].MinID)

	types, err := c.GetPrimaryTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.MigrationType{"PRINCIPAL", "NODE", "FILE"}, types)
}

func TestHTTPClient_Checksums(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/checksum/range",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "pass-salt", req.URL.Query().Get("salt"))
			return httpmock.NewStringResponse(http.StatusOK, `{"checksum":"abc"}`), nil
		})
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/checksum",
		httpmock.NewStringResponder(http.StatusOK, `{"checksum":"def"}`))

	sum, err := c.GetChecksumForIDRange(context.Background(), "NODE", "pass-salt", 1, 100)
	require.NoError(t, err)
	assert.Equal(t, "abc", sum)

	sum, err = c.GetChecksumForType(context.Background(), "NODE")
	require.NoError(t, err)
	assert.Equal(t, "def", sum)
}

func TestHTTPClient_ApplyBatch(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodPost, baseURL+"/migration/apply",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
			var body applyRequest
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			assert.Equal(t, model.MigrationType("NODE"), body.Type)
			assert.Equal(t, model.CategoryDelete, body.Category)
			assert.Equal(t, []int64{4, 5, 6}, body.IDs)
			return httpmock.NewStringResponse(http.StatusOK, `{"count":3}`), nil
		})

	n, err := c.ApplyBatch(context.Background(), "NODE", model.CategoryDelete, []int64{4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPClient_Status(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/admin/status",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"READ_WRITE"}`))
	httpmock.RegisterResponder(http.MethodPut, baseURL+"/admin/status",
		func(req *http.Request) (*http.Response, error) {
			var body model.StackStatus
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				return nil, err
			}
			return httpmock.NewJsonResponse(http.StatusOK, body)
		})

	st, err := c.GetStackStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusReadWrite, st.Status)

	want := model.StackStatus{Status: model.StatusReadOnly, Message: "migrating"}
	got, err := c.SetStackStatus(context.Background(), want)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHTTPClient_APIError(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/counts",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"reason":"maintenance"}`))
	httpmock.RegisterResponder(http.MethodGet, baseURL+"/migration/primarytypes",
		httpmock.NewStringResponder(http.StatusNotFound, `not json`))

	_, err := c.GetTypeCounts(context.Background())
	require.Error(t, err)
	assert.True(t, IsServerError(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "maintenance")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "/migration/counts", apiErr.Path)

	_, err = c.GetPrimaryTypes(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "GET /migration/primarytypes: 404 Not Found", errorText(err))
}

func TestHTTPClient_BadBody(t *testing.T) {
	c := newMockedClient(t, Endpoint{})

	httpmock.RegisterResponder(http.MethodGet, baseURL+"/admin/status",
		httpmock.NewStringResponder(http.StatusOK, `{"status":`))

	_, err := c.GetStackStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

// errorText unwraps to the APIError message.
func errorText(err error) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	return apiErr.Error()
}
