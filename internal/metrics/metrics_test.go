package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err, "second registration of the same collector must fail")
}

func TestRecordApplied(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordApplied("NODE", "create", 5, 10*time.Millisecond)
	m.RecordApplied("NODE", "create", 2, 10*time.Millisecond)

	assert.InDelta(t, 7.0, testutil.ToFloat64(m.RecordsApplied.WithLabelValues("NODE", "create")), 0.001)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFetched("source", "NODE", 3)
		m.RecordFetchRetry("source")
		m.RecordDelta("NODE", "delete")
		m.RecordApplied("NODE", "delete", 1, time.Second)
		m.RecordBatchSplit("delete")
		m.RecordPass(true, time.Second)
		m.TaskStarted()
		m.TaskFinished()
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordPass(false, time.Second)

	mux := http.NewServeMux()
	m.RegisterHandlers(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `stacksync_passes_total{outcome="failure"} 1`))
}
