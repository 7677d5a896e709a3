// Package metrics provides Prometheus metrics for migration passes.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsPath = "/metrics"

// Metrics contains all Prometheus metrics recorded during a pass.
//
// All record methods are safe on a nil *Metrics so components can run
// without a registry (tests, dry runs).
type Metrics struct {
	RecordsFetched   *prometheus.CounterVec   // Metadata records read by stack side and type
	FetchRetries     *prometheus.CounterVec   // Retried page or checksum fetches by stack side
	DeltaRecords     *prometheus.CounterVec   // Records emitted to spills by type and category
	RecordsApplied   *prometheus.CounterVec   // Records applied to the destination by type and category
	BatchSplits      *prometheus.CounterVec   // Batches sub-divided after an apply failure
	ApplyDuration    *prometheus.HistogramVec // ApplyBatch latency by category
	PassesTotal      *prometheus.CounterVec   // Completed passes by outcome
	PassDuration     prometheus.Histogram     // Wall time of a pass
	ActiveApplyTasks prometheus.Gauge         // Apply tasks currently running

	registry *prometheus.Registry
}

// New creates the pass metrics and registers them with registry.
// It returns an error if metric registration fails.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register migration metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.RecordsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_records_fetched_total",
			Help: "Metadata records read from a stack, by side and type",
		},
		[]string{"side", "type"},
	)
	m.FetchRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_fetch_retries_total",
			Help: "Metadata fetches retried after a failure, by side",
		},
		[]string{"side"},
	)
	m.DeltaRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_delta_records_total",
			Help: "Delta records written to spills, by type and category",
		},
		[]string{"type", "category"},
	)
	m.RecordsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_records_applied_total",
			Help: "Records applied to the destination, by type and category",
		},
		[]string{"type", "category"},
	)
	m.BatchSplits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_apply_batch_splits_total",
			Help: "Apply batches sub-divided after a failure, by category",
		},
		[]string{"category"},
	)
	m.ApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stacksync_apply_batch_duration_seconds",
			Help:    "Latency of destination apply calls, by category",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"category"},
	)
	m.PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stacksync_passes_total",
			Help: "Migration passes by outcome",
		},
		[]string{"outcome"},
	)
	m.PassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stacksync_pass_duration_seconds",
			Help:    "Wall time of a migration pass",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	m.ActiveApplyTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stacksync_apply_tasks_active",
			Help: "Apply tasks currently running",
		},
	)
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.RecordsFetched.Describe(ch)
	m.FetchRetries.Describe(ch)
	m.DeltaRecords.Describe(ch)
	m.RecordsApplied.Describe(ch)
	m.BatchSplits.Describe(ch)
	m.ApplyDuration.Describe(ch)
	m.PassesTotal.Describe(ch)
	m.PassDuration.Describe(ch)
	m.ActiveApplyTasks.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.RecordsFetched.Collect(ch)
	m.FetchRetries.Collect(ch)
	m.DeltaRecords.Collect(ch)
	m.RecordsApplied.Collect(ch)
	m.BatchSplits.Collect(ch)
	m.ApplyDuration.Collect(ch)
	m.PassesTotal.Collect(ch)
	m.PassDuration.Collect(ch)
	m.ActiveApplyTasks.Collect(ch)
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterHandlers adds the metrics route to mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle(metricsPath, m.Handler())
}

// RecordFetched counts n metadata records read from one side.
func (m *Metrics) RecordFetched(side, typ string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsFetched.WithLabelValues(side, typ).Add(float64(n))
}

// RecordFetchRetry counts one retried fetch.
func (m *Metrics) RecordFetchRetry(side string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(side).Inc()
}

// RecordDelta counts one record written to a spill.
func (m *Metrics) RecordDelta(typ, category string) {
	if m == nil {
		return
	}
	m.DeltaRecords.WithLabelValues(typ, category).Inc()
}

// RecordApplied counts n records applied to the destination.
func (m *Metrics) RecordApplied(typ, category string, n int64, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordsApplied.WithLabelValues(typ, category).Add(float64(n))
	m.ApplyDuration.WithLabelValues(category).Observe(d.Seconds())
}

// RecordBatchSplit counts one sub-divided batch.
func (m *Metrics) RecordBatchSplit(category string) {
	if m == nil {
		return
	}
	m.BatchSplits.WithLabelValues(category).Inc()
}

// RecordPass counts one completed pass.
func (m *Metrics) RecordPass(success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.PassesTotal.WithLabelValues(outcome).Inc()
	m.PassDuration.Observe(d.Seconds())
}

// TaskStarted and TaskFinished track running apply tasks.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.ActiveApplyTasks.Inc()
}

func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.ActiveApplyTasks.Dec()
}
