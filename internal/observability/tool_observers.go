package observability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/anvilrun/anvil/internal/agent"
)

// ToolObservers builds an agent.Observers that records Metrics and Tracer
// spans for the Tool Registry's execution callbacks (C2). The registry
// calls OnToolStart/OnToolResult/OnToolError/OnCacheHit as plain
// synchronous hooks with no span or timer of their own, so this type
// keeps one per call.ID, keyed for the lifetime of a single call.
type ToolObservers struct {
	mu      sync.Mutex
	metrics *Metrics
	tracer  *Tracer
	calls   map[string]toolCallState
}

type toolCallState struct {
	start time.Time
	span  trace.Span
}

// NewToolObservers wires metrics/tracer into an agent.Observers value.
// Either may be nil to skip that half of the instrumentation.
func NewToolObservers(ctx context.Context, metrics *Metrics, tracer *Tracer) agent.Observers {
	to := &ToolObservers{
		metrics: metrics,
		tracer:  tracer,
		calls:   make(map[string]toolCallState),
	}
	return agent.Observers{
		OnToolStart:  to.onStart(ctx),
		OnToolResult: to.onResult,
		OnToolError:  to.onError,
		OnCacheHit:   to.onCacheHit,
	}
}

func (o *ToolObservers) onStart(ctx context.Context) func(name, id string, params json.RawMessage) {
	return func(name, id string, params json.RawMessage) {
		state := toolCallState{start: time.Now()}
		if o.tracer != nil {
			_, state.span = o.tracer.TraceToolExecution(ctx, name)
		}
		o.mu.Lock()
		o.calls[id] = state
		o.mu.Unlock()
	}
}

func (o *ToolObservers) onResult(name, id, result string) {
	o.finish(name, id, nil)
}

func (o *ToolObservers) onError(name, id, message string) {
	o.finish(name, id, errString(message))
}

func (o *ToolObservers) onCacheHit(name, id string) {
	if o.metrics != nil {
		o.metrics.RecordToolExecution(name, "cache_hit", 0)
	}
}

func (o *ToolObservers) finish(name, id string, toolErr error) {
	o.mu.Lock()
	state, ok := o.calls[id]
	if ok {
		delete(o.calls, id)
	}
	o.mu.Unlock()
	if !ok {
		return
	}

	duration := time.Since(state.start).Seconds()
	if state.span != nil {
		if toolErr != nil {
			o.tracer.RecordError(state.span, toolErr)
		}
		state.span.End()
	}
	if o.metrics != nil {
		status := "success"
		if toolErr != nil {
			status = "error"
			o.metrics.RecordError("tool:"+name, "handler_failure")
		}
		o.metrics.RecordToolExecution(name, status, duration)
	}
}

// errString adapts a tool error message (already formatted by the
// registry) into an error value suitable for span recording.
type errString string

func (e errString) Error() string { return string(e) }
