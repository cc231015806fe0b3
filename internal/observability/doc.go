// Package observability instruments the runtime with metrics, structured
// logging, distributed tracing, and a per-run event timeline.
//
// # Metrics
//
// Metrics use the Prometheus client and are exposed on /metrics. All
// series carry the operant_ prefix: job outcomes (operant_jobs_total),
// run latency (operant_run_duration_seconds), token usage
// (operant_llm_tokens_total), HTTP and WebSocket activity, and error
// counts by component. Every *Metrics method is safe on a nil receiver
// so instrumentation can be disabled by passing nil.
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted()
//	defer metrics.RunFinished("anthropic", model, time.Since(start))
//
// # Logging
//
// Logger wraps slog with automatic correlation (request_id, run_id, and
// agent_id pulled from the context) and redaction of secret-shaped
// values: provider API keys, JWTs, and password-like assignments never
// reach the output.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info"})
//	ctx = observability.AddRunID(ctx, runID)
//	logger.Info(ctx, "turn finished", "tokens", n)
//
// # Tracing
//
// NewTracer configures an OpenTelemetry OTLP exporter. An empty
// endpoint yields a no-op tracer, so call sites never branch on whether
// tracing is enabled. Convenience constructors cover the hot spans:
// TraceRun, TraceLLMRequest, TraceToolExecution, TraceDatabaseQuery,
// and TraceHTTPRequest.
//
// # Event timeline
//
// EventRecorder captures run lifecycle, executor phase, and tool events
// into an EventStore keyed by run and agent ID. BuildTimeline turns a
// run's events into an ordered timeline with summary counts, served by
// the jobs API for debugging finished runs. A nil recorder discards
// everything.
package observability
