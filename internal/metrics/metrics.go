// Package metrics exposes Prometheus metrics for the load engine.
//
// A disabled Metrics, and a nil *Metrics, accept every Record call and do
// nothing, so the engine never checks whether metrics are on.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stageload"

// Tier attempt outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	TierAttempts *prometheus.CounterVec
	RowsLoaded   *prometheus.CounterVec
	LoadDuration *prometheus.HistogramVec
	Verdicts     *prometheus.CounterVec
	ActiveLoads  prometheus.Gauge

	registry *prometheus.Registry
	enabled  bool
}

// New creates a Metrics with its own registry. When enabled is false the
// returned value records nothing and Handler serves an empty registry.
func New(enabled bool) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
	}
	if !enabled {
		return m
	}

	m.TierAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_attempts_total",
			Help:      "Load tier attempts by outcome",
		},
		[]string{"tier", "outcome"},
	)

	m.RowsLoaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_loaded_total",
			Help:      "Rows committed by destination table",
		},
		[]string{"table"},
	)

	m.LoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Wall time of load calls by the tier that finished them",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"tier"},
	)

	m.Verdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Schema reconciliation verdicts",
		},
		[]string{"verdict"},
	)

	m.ActiveLoads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loads_active",
			Help:      "Load calls currently in flight",
		},
	)

	m.registry.MustRegister(
		m.TierAttempts,
		m.RowsLoaded,
		m.LoadDuration,
		m.Verdicts,
		m.ActiveLoads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IsEnabled reports whether m records anything.
func (m *Metrics) IsEnabled() bool {
	return m != nil && m.enabled
}

// RecordTierAttempt counts one attempt of tier with its outcome.
func (m *Metrics) RecordTierAttempt(tier, outcome string) {
	if m.IsEnabled() {
		m.TierAttempts.WithLabelValues(tier, outcome).Inc()
	}
}

// RecordRowsLoaded adds committed rows for table.
func (m *Metrics) RecordRowsLoaded(table string, n int64) {
	if m.IsEnabled() && n > 0 {
		m.RowsLoaded.WithLabelValues(table).Add(float64(n))
	}
}

// ObserveLoad records the duration of a load finished by tier. Failed
// loads use tier "failed".
func (m *Metrics) ObserveLoad(tier string, d time.Duration) {
	if m.IsEnabled() {
		m.LoadDuration.WithLabelValues(tier).Observe(d.Seconds())
	}
}

// RecordVerdict counts a reconciliation verdict kind.
func (m *Metrics) RecordVerdict(verdict string) {
	if m.IsEnabled() {
		m.Verdicts.WithLabelValues(verdict).Inc()
	}
}

// LoadStarted and LoadFinished track in-flight loads.
func (m *Metrics) LoadStarted() {
	if m.IsEnabled() {
		m.ActiveLoads.Inc()
	}
}

func (m *Metrics) LoadFinished() {
	if m.IsEnabled() {
		m.ActiveLoads.Dec()
	}
}
