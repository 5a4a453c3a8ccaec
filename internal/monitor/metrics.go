package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the execution subsystem.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionErrors   *prometheus.CounterVec
	ActiveExecutions  prometheus.Gauge

	UIActionsTotal   *prometheus.CounterVec
	UIActionDuration *prometheus.HistogramVec
	ScreenshotsTotal *prometheus.CounterVec
	DisplayReady     prometheus.Gauge

	SecurityEvents   *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	CodeSizeBytes    prometheus.Histogram
	OutputSizeBytes  prometheus.Histogram
}

// NewMetrics creates and registers all metrics on a dedicated registry, so
// the /metrics endpoint exposes only what this service owns.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "desksandbox",
				Name:      "executions_total",
				Help:      "Total number of code executions by language and status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "desksandbox",
				Name:      "execution_duration_seconds",
				Help:      "Duration of code executions in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"language"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "desksandbox",
				Name:      "execution_errors_total",
				Help:      "Total execution errors by type.",
			},
			[]string{"type"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "desksandbox",
				Name:      "active_executions",
				Help:      "Number of currently running code executions.",
			},
		),

		UIActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "desksandbox",
				Name:      "ui_actions_total",
				Help:      "Total desktop UI actions by action kind and status.",
			},
			[]string{"action", "status"},
		),

		UIActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "desksandbox",
				Name:      "ui_action_duration_seconds",
				Help:      "End-to-end UI action duration including screenshots.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"action"},
		),

		ScreenshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "desksandbox",
				Name:      "screenshots_total",
				Help:      "Total screenshot captures by outcome.",
			},
			[]string{"outcome"},
		),

		DisplayReady: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "desksandbox",
				Name:      "display_ready",
				Help:      "Whether the virtual display readiness probe succeeded (1) or not (0).",
			},
		),

		SecurityEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "desksandbox",
				Name:      "security_events_total",
				Help:      "Total security events detected in submitted code or output.",
			},
			[]string{"type"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "desksandbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "desksandbox",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "desksandbox",
				Name:      "output_size_bytes",
				Help:      "Size of captured execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveExecutions,
		m.UIActionsTotal,
		m.UIActionDuration,
		m.ScreenshotsTotal,
		m.DisplayReady,
		m.SecurityEvents,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records one completed code execution.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordUIAction records one executed desktop action.
func (m *Metrics) RecordUIAction(action, status string, durationSec float64) {
	m.UIActionsTotal.WithLabelValues(action, status).Inc()
	m.UIActionDuration.WithLabelValues(action).Observe(durationSec)
}

// RecordScreenshot records a screenshot capture outcome ("ok" or "empty").
func (m *Metrics) RecordScreenshot(outcome string) {
	m.ScreenshotsTotal.WithLabelValues(outcome).Inc()
}

// SetDisplayReady publishes the readiness probe result.
func (m *Metrics) SetDisplayReady(ready bool) {
	if ready {
		m.DisplayReady.Set(1)
	} else {
		m.DisplayReady.Set(0)
	}
}

// RecordSecurityEvent records a detected suspicious pattern.
func (m *Metrics) RecordSecurityEvent(eventType string) {
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}
