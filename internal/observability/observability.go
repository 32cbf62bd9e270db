// Package observability provides the structured logger and the job metrics
// shared by every trigger surface.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Run results recorded by Metrics.ObserveRun.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// NewLogger builds a production JSON logger at the given level name.
// An empty level means info.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Metrics holds the job collectors on a private registry so several jobs
// (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	runs      *prometheus.CounterVec
	published *prometheus.CounterVec
	scanned   prometheus.Counter
	phases    *prometheus.HistogramVec
}

// NewMetrics creates and registers the job collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bqmeta",
			Name:      "runs_total",
			Help:      "Job runs by result.",
		}, []string{"result"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bqmeta",
			Name:      "artifacts_published_total",
			Help:      "Artifacts written to the object store.",
		}, []string{"artifact"}),
		scanned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bqmeta",
			Name:      "tables_scanned_total",
			Help:      "Table descriptors fetched from the warehouse.",
		}),
		phases: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bqmeta",
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each job phase.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"phase"}),
	}
	m.registry.MustRegister(m.runs, m.published, m.scanned, m.phases)
	return m
}

// ObserveRun counts one finished run.
func (m *Metrics) ObserveRun(result string) {
	m.runs.WithLabelValues(result).Inc()
}

// ObservePublish counts one artifact upload.
func (m *Metrics) ObservePublish(artifact string) {
	m.published.WithLabelValues(artifact).Inc()
}

// ObserveScanned adds n fetched descriptors.
func (m *Metrics) ObserveScanned(n int) {
	if n > 0 {
		m.scanned.Add(float64(n))
	}
}

// Phase starts timing a phase; call the returned func when it ends.
//
//	defer m.Phase("filters")()
func (m *Metrics) Phase(name string) func() {
	start := time.Now()
	return func() {
		m.phases.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
