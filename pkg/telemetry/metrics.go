package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const metricsNamespace = "stackform"

// Metrics holds the Prometheus collectors for the reconciliation engine.
// It implements engine.ExecutorMetrics.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec

	plansTotal      prometheus.Counter
	planOperations  *prometheus.GaugeVec
	runsTotal       *prometheus.CounterVec
	runDuration     prometheus.Histogram
	driftTotal      prometheus.Counter
	violationsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers the engine metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "Total number of executed operations by type and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of provider operations in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"operation"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operation_retries_total",
				Help:      "Total number of operation retry attempts by type.",
			},
			[]string{"operation"},
		),

		plansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "plans_total",
				Help:      "Total number of plans computed.",
			},
		),
		planOperations: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "plan_operations",
				Help:      "Number of operations in the most recent plan by type.",
			},
			[]string{"operation"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Total number of completed runs by final status.",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of full runs in seconds.",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		driftTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "drift_detected_total",
				Help:      "Total number of operations aborted because the live resource drifted from the plan.",
			},
		),
		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "guardrail_violations_total",
				Help:      "Total number of guardrail violations by policy and severity.",
			},
			[]string{"policy", "severity"},
		),
	}

	m.registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.retriesTotal,
		m.plansTotal,
		m.planOperations,
		m.runsTotal,
		m.runDuration,
		m.driftTotal,
		m.violationsTotal,
	)

	return m
}

// RecordOperation counts a completed operation with its outcome.
func (m *Metrics) RecordOperation(opType, outcome string) {
	m.operationsTotal.WithLabelValues(opType, outcome).Inc()
}

// RecordRetry counts a retry attempt for an operation type.
func (m *Metrics) RecordRetry(opType string) {
	m.retriesTotal.WithLabelValues(opType).Inc()
}

// ObserveOperationDuration records how long a provider operation took.
func (m *Metrics) ObserveOperationDuration(opType string, seconds float64) {
	m.operationDuration.WithLabelValues(opType).Observe(seconds)
}

// RecordPlan records the operation counts of a freshly computed plan.
func (m *Metrics) RecordPlan(creates, updates, deletes, noops int) {
	m.plansTotal.Inc()
	m.planOperations.WithLabelValues("create").Set(float64(creates))
	m.planOperations.WithLabelValues("update").Set(float64(updates))
	m.planOperations.WithLabelValues("delete").Set(float64(deletes))
	m.planOperations.WithLabelValues("noop").Set(float64(noops))
}

// RecordRun records a finished run with its final status and duration.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordDrift counts an operation aborted due to detected drift.
func (m *Metrics) RecordDrift() {
	m.driftTotal.Inc()
}

// RecordViolation counts a guardrail violation.
func (m *Metrics) RecordViolation(policy, severity string) {
	m.violationsTotal.WithLabelValues(policy, severity).Inc()
}

// Handler returns an HTTP handler serving the metrics in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// MetricsServer serves the Prometheus metrics endpoint.
type MetricsServer struct {
	server *http.Server
	logger zerolog.Logger
}

// NewMetricsServer creates an HTTP server exposing the given metrics.
func NewMetricsServer(cfg MetricsConfig, m *Metrics, logger zerolog.Logger) *MetricsServer {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving metrics. It blocks until the server stops.
func (s *MetricsServer) Start() error {
	s.logger.Info().Str("address", s.server.Addr).Msg("starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the metrics server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
