package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/anvilrun/anvil/internal/agent"
)

// newTestMetrics builds a Metrics value backed by freshly constructed
// (unregistered) collectors, avoiding the duplicate-registration panic
// that calling NewMetrics() more than once in a test binary would cause
// against Prometheus's default registry.
func newTestMetrics() *Metrics {
	return &Metrics{
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_llm_request_duration_seconds"},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_llm_requests_total"},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_llm_tokens_total"},
			[]string{"provider", "model", "type"},
		),
		LLMCostUSD: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_llm_cost_usd_total"},
			[]string{"provider", "model"},
		),
		ToolExecutionCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_tool_executions_total"},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_tool_execution_duration_seconds"},
			[]string{"tool_name"},
		),
		ErrorCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_errors_total"},
			[]string{"component", "error_type"},
		),
		ActiveRuns: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "test_active_runs"},
			[]string{"profile"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_run_duration_seconds"},
			[]string{"profile", "outcome"},
		),
		RunAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_run_attempts_total"},
			[]string{"status"},
		),
		ContextWindowUsed: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_context_window_tokens"},
			[]string{"provider", "model"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "test_store_query_duration_seconds"},
			[]string{"operation", "backend"},
		),
		StoreQueryCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "test_store_queries_total"},
			[]string{"operation", "backend", "status"},
		),
	}
}

type fakeProvider struct {
	name      string
	result    agent.CompletionResult
	err       error
	streamErr error
	chunks    []agent.StreamChunk
	lastReq   agent.CompletionRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan agent.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestInstrumentedProviderGenerateSuccess(t *testing.T) {
	inner := &fakeProvider{name: "anthropic", result: agent.CompletionResult{
		Content: "hi", InputTokens: 10, OutputTokens: 5,
	}}
	metrics := newTestMetrics()
	p := Instrument(inner, metrics, nil)

	if p.Name() != "anthropic" {
		t.Fatalf("Name() = %q, want anthropic", p.Name())
	}

	res, err := p.Generate(context.Background(), agent.CompletionRequest{Model: "claude-3-opus"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Content != "hi" {
		t.Fatalf("Content = %q, want hi", res.Content)
	}

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("anthropic", "claude-3-opus", "success")); got != 1 {
		t.Errorf("LLMRequestCounter success = %v, want 1", got)
	}
}

func TestInstrumentedProviderGenerateError(t *testing.T) {
	wantErr := agent.NewAuthFailureError(errors.New("bad key"))
	inner := &fakeProvider{name: "openai", err: wantErr}
	metrics := newTestMetrics()
	p := Instrument(inner, metrics, nil)

	_, err := p.Generate(context.Background(), agent.CompletionRequest{Model: "gpt-4"})
	if err != wantErr {
		t.Fatalf("Generate() error = %v, want %v", err, wantErr)
	}

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("openai", "gpt-4", "error")); got != 1 {
		t.Errorf("LLMRequestCounter error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorCounter.WithLabelValues("provider:openai", "auth_failure")); got != 1 {
		t.Errorf("ErrorCounter auth_failure = %v, want 1", got)
	}
}

func TestInstrumentedProviderGenerateStream(t *testing.T) {
	inner := &fakeProvider{
		name: "google",
		chunks: []agent.StreamChunk{
			{Kind: agent.ChunkContent, Content: "partial"},
			{Kind: agent.ChunkDone, InputTokens: 20, OutputTokens: 8},
		},
	}
	metrics := newTestMetrics()
	p := Instrument(inner, metrics, nil)

	stream, err := p.GenerateStream(context.Background(), agent.CompletionRequest{Model: "gemini-pro"})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	var got []agent.StreamChunk
	for chunk := range stream {
		got = append(got, chunk)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}

	if got := testutil.ToFloat64(metrics.LLMRequestCounter.WithLabelValues("google", "gemini-pro", "success")); got != 1 {
		t.Errorf("LLMRequestCounter success = %v, want 1", got)
	}
}

func TestToolObserversRecordsSuccess(t *testing.T) {
	metrics := newTestMetrics()
	observers := NewToolObservers(context.Background(), metrics, nil)

	observers.OnToolStart("web_search", "call-1", nil)
	observers.OnToolResult("web_search", "call-1", "result")

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("web_search", "success")); got != 1 {
		t.Errorf("ToolExecutionCounter success = %v, want 1", got)
	}
}

func TestToolObserversRecordsError(t *testing.T) {
	metrics := newTestMetrics()
	observers := NewToolObservers(context.Background(), metrics, nil)

	observers.OnToolStart("run_shell", "call-2", nil)
	observers.OnToolError("run_shell", "call-2", "command not found")

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("run_shell", "error")); got != 1 {
		t.Errorf("ToolExecutionCounter error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ErrorCounter.WithLabelValues("tool:run_shell", "handler_failure")); got != 1 {
		t.Errorf("ErrorCounter handler_failure = %v, want 1", got)
	}
}

func TestToolObserversCacheHit(t *testing.T) {
	metrics := newTestMetrics()
	observers := NewToolObservers(context.Background(), metrics, nil)

	observers.OnCacheHit("web_search", "call-3")

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("web_search", "cache_hit")); got != 1 {
		t.Errorf("ToolExecutionCounter cache_hit = %v, want 1", got)
	}
}

func TestToolObserversUnknownCallIDIsIgnored(t *testing.T) {
	metrics := newTestMetrics()
	observers := NewToolObservers(context.Background(), metrics, nil)

	// No matching OnToolStart: should not panic, and should not record.
	observers.OnToolResult("web_search", "never-started", "result")

	if got := testutil.CollectAndCount(metrics.ToolExecutionCounter); got != 0 {
		t.Errorf("ToolExecutionCounter count = %d, want 0", got)
	}
}

func TestStoreQueryObserver(t *testing.T) {
	metrics := newTestMetrics()
	observe := StoreQueryObserver(metrics, nil, "sqlite")

	observe("save", 0, nil)
	observe("load", 0, errors.New("not found"))

	if got := testutil.ToFloat64(metrics.StoreQueryCounter.WithLabelValues("save", "sqlite", "success")); got != 1 {
		t.Errorf("StoreQueryCounter save success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.StoreQueryCounter.WithLabelValues("load", "sqlite", "error")); got != 1 {
		t.Errorf("StoreQueryCounter load error = %v, want 1", got)
	}
}
