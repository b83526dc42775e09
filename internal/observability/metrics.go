package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token usage, and estimated cost
//   - Tool execution outcomes and latencies
//   - Error rates categorized by component and error type
//   - Active and completed agent runs
//   - Context window utilization
//   - Snapshot store query latency (sub-agent resume persistence)
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	start := time.Now()
//	// ... call provider ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed counts tokens consumed by provider, model, and type.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ToolExecutionCounter counts tool executions by name and status.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and error kind.
	// Labels: component, error_type
	ErrorCounter *prometheus.CounterVec

	// ActiveRuns tracks the number of in-flight agent loop runs.
	// Labels: profile
	ActiveRuns *prometheus.GaugeVec

	// RunDuration measures the wall-clock duration of a completed run.
	// Labels: profile, outcome (completed|failed)
	// Buckets: 1s, 5s, 15s, 30s, 60s, 120s, 300s, 600s
	RunDuration *prometheus.HistogramVec

	// RunAttempts counts run attempts by status, for retry/failover tracking.
	// Labels: status (success|retry|failed)
	RunAttempts *prometheus.CounterVec

	// ContextWindowUsed tracks context window utilization per request.
	// Labels: provider, model
	// Buckets: 1000, 4000, 8000, 16000, 32000, 64000, 128000, 256000
	ContextWindowUsed *prometheus.HistogramVec

	// StoreQueryDuration measures snapshot store query latency in seconds.
	// Labels: operation (save|load), backend (memory|sqlite)
	StoreQueryDuration *prometheus.HistogramVec

	// StoreQueryCounter counts snapshot store queries.
	// Labels: operation, backend, status (success|error)
	StoreQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup; all metrics are
// registered with Prometheus's default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		ActiveRuns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "anvil_active_runs",
				Help: "Current number of in-flight agent loop runs by profile",
			},
			[]string{"profile"},
		),

		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_run_duration_seconds",
				Help:    "Duration of agent loop runs in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"profile", "outcome"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_run_attempts_total",
				Help: "Total number of run attempts by status",
			},
			[]string{"status"},
		),

		ContextWindowUsed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_context_window_tokens",
				Help:    "Context window tokens used per request",
				Buckets: []float64{1000, 4000, 8000, 16000, 32000, 64000, 128000, 256000},
			},
			[]string{"provider", "model"},
		),

		StoreQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_store_query_duration_seconds",
				Help:    "Duration of snapshot store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "backend"},
		),

		StoreQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_store_queries_total",
				Help: "Total number of snapshot store queries",
			},
			[]string{"operation", "backend", "status"},
		),
	}
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("provider", "rate_limited")
//	metrics.RecordError("registry", "validation_error")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RunStarted increments the active runs gauge for a profile.
func (m *Metrics) RunStarted(profile string) {
	m.ActiveRuns.WithLabelValues(profile).Inc()
}

// RunEnded decrements the active runs gauge and records the run's duration
// and outcome.
func (m *Metrics) RunEnded(profile, outcome string, durationSeconds float64) {
	m.ActiveRuns.WithLabelValues(profile).Dec()
	m.RunDuration.WithLabelValues(profile, outcome).Observe(durationSeconds)
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordContextWindow records context window utilization.
func (m *Metrics) RecordContextWindow(provider, model string, tokensUsed int) {
	m.ContextWindowUsed.WithLabelValues(provider, model).Observe(float64(tokensUsed))
}

// RecordRunAttempt records a run attempt, for retry/failover tracking.
//
// Example:
//
//	metrics.RecordRunAttempt("success")
//	metrics.RecordRunAttempt("retry")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// RecordStoreQuery records metrics for a snapshot store query.
//
// Example:
//
//	start := time.Now()
//	err := store.Save(ctx, key, snap)
//	metrics.RecordStoreQuery("save", "sqlite", time.Since(start).Seconds(), err)
func (m *Metrics) RecordStoreQuery(operation, backend string, durationSeconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StoreQueryCounter.WithLabelValues(operation, backend, status).Inc()
	m.StoreQueryDuration.WithLabelValues(operation, backend).Observe(durationSeconds)
}
