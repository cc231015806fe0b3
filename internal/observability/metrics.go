package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Job lifecycle outcomes for queue health
//   - Executor turn latency and concurrency
//   - Token consumption by hosting provider
//   - HTTP API latency and traffic
//   - WebSocket client population
//   - Error rates categorized by component and kind
//
// All methods are safe on a nil receiver, which disables collection.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted()
//	defer metrics.RunFinished("anthropic", "claude-sonnet-4-20250514", time.Since(start))
type Metrics struct {
	// JobCounter counts finished jobs.
	// Labels: status (completed|failed|cancelled)
	JobCounter *prometheus.CounterVec

	// RunDuration measures executor turn latency in seconds.
	// Labels: hosting, model
	// Buckets: 0.5s, 1s, 2s, 5s, 10s, 30s, 60s, 120s, 300s, 600s
	RunDuration *prometheus.HistogramVec

	// ActiveRuns is a gauge tracking turns currently executing.
	ActiveRuns prometheus.Gauge

	// TokensUsed tracks token consumption.
	// Labels: hosting, type (prompt|completion)
	TokensUsed *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// WSClients is a gauge tracking connected websocket clients.
	WSClients prometheus.Gauge

	// ErrorCounter tracks errors by component and kind.
	// Labels: component (engine|jobs|websocket), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry, so they surface through the /metrics endpoint. Call once at
// startup.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// newMetrics registers against an explicit registerer; tests pass an
// isolated registry.
func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operant_jobs_total",
				Help: "Total number of finished jobs by terminal status",
			},
			[]string{"status"},
		),

		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "operant_run_duration_seconds",
				Help:    "Duration of executor turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"hosting", "model"},
		),

		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "operant_active_runs",
				Help: "Current number of executor turns in flight",
			},
		),

		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operant_llm_tokens_total",
				Help: "Total number of tokens used by hosting and type",
			},
			[]string{"hosting", "type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "operant_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operant_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		WSClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "operant_websocket_clients",
				Help: "Current number of connected websocket clients",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operant_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// JobFinished increments the job counter for a terminal status.
//
// Example:
//
//	metrics.JobFinished("completed")
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobCounter.WithLabelValues(status).Inc()
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunFinished decrements the active runs gauge and records turn latency.
func (m *Metrics) RunFinished(hosting, model string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
	m.RunDuration.WithLabelValues(hosting, model).Observe(d.Seconds())
}

// AddTokens records token consumption for one model call.
//
// Example:
//
//	metrics.AddTokens("anthropic", 1200, 450)
func (m *Metrics) AddTokens(hosting string, prompt, completion int64) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.TokensUsed.WithLabelValues(hosting, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.TokensUsed.WithLabelValues(hosting, "completion").Add(float64(completion))
	}
}

// RecordHTTPRequest records latency and traffic for one request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(d.Seconds())
}

// WSClientConnected increments the websocket client gauge.
func (m *Metrics) WSClientConnected() {
	if m == nil {
		return
	}
	m.WSClients.Inc()
}

// WSClientDisconnected decrements the websocket client gauge.
func (m *Metrics) WSClientDisconnected() {
	if m == nil {
		return
	}
	m.WSClients.Dec()
}

// RecordError increments the error counter for a component and error type.
//
// Example:
//
//	metrics.RecordError("engine", "provider_transient")
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
