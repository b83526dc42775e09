package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/anvilrun/anvil/internal/agent"
)

// InstrumentedProvider wraps an agent.Provider, recording Metrics and
// Tracer spans around every Generate/GenerateStream call. It mirrors the
// way providers.FailoverProvider wraps a chain of providers rather than
// modifying them, and satisfies agent.Provider itself so it composes with
// FailoverProvider in either direction.
type InstrumentedProvider struct {
	inner   agent.Provider
	metrics *Metrics
	tracer  *Tracer
}

// Instrument wraps provider with metrics and tracing. Either metrics or
// tracer may be nil to skip that half of the instrumentation.
func Instrument(provider agent.Provider, metrics *Metrics, tracer *Tracer) *InstrumentedProvider {
	return &InstrumentedProvider{inner: provider, metrics: metrics, tracer: tracer}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	provider, model := p.inner.Name(), req.Model

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.TraceLLMRequest(ctx, provider, model)
	}

	start := time.Now()
	res, err := p.inner.Generate(ctx, req)
	duration := time.Since(start).Seconds()

	if span != nil {
		if err != nil {
			p.tracer.RecordError(span, err)
		}
		span.End()
	}

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
			p.metrics.RecordError("provider:"+provider, classifyProviderError(err))
		}
		p.metrics.RecordLLMRequest(provider, model, status, duration, res.InputTokens, res.OutputTokens)
		if res.InputTokens+res.OutputTokens > 0 {
			p.metrics.RecordContextWindow(provider, model, res.InputTokens+res.OutputTokens)
		}
	}

	return res, err
}

func (p *InstrumentedProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	provider, model := p.inner.Name(), req.Model

	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.TraceLLMRequest(ctx, provider, model)
	}

	start := time.Now()
	upstream, err := p.inner.GenerateStream(ctx, req)
	if err != nil {
		if span != nil {
			p.tracer.RecordError(span, err)
			span.End()
		}
		if p.metrics != nil {
			p.metrics.RecordError("provider:"+provider, classifyProviderError(err))
			p.metrics.RecordLLMRequest(provider, model, "error", time.Since(start).Seconds(), 0, 0)
		}
		return nil, err
	}

	out := make(chan agent.StreamChunk)
	go func() {
		defer close(out)
		var inputTokens, outputTokens int
		var streamErr error
		for chunk := range upstream {
			if chunk.Kind == agent.ChunkUsage || chunk.Kind == agent.ChunkDone {
				inputTokens += chunk.InputTokens
				outputTokens += chunk.OutputTokens
			}
			if chunk.Kind == agent.ChunkDone {
				streamErr = chunk.Err
			}
			out <- chunk
		}

		if span != nil {
			if streamErr != nil {
				p.tracer.RecordError(span, streamErr)
			}
			span.End()
		}

		if p.metrics != nil {
			status := "success"
			if streamErr != nil {
				status = "error"
				p.metrics.RecordError("provider:"+provider, classifyProviderError(streamErr))
			}
			p.metrics.RecordLLMRequest(provider, model, status, time.Since(start).Seconds(), inputTokens, outputTokens)
			if inputTokens+outputTokens > 0 {
				p.metrics.RecordContextWindow(provider, model, inputTokens+outputTokens)
			}
		}
	}()
	return out, nil
}

// classifyProviderError maps an error to a coarse metric label without
// leaking arbitrary error text into a high-cardinality Prometheus label.
func classifyProviderError(err error) string {
	var ce *agent.CoreError
	if errors.As(err, &ce) {
		return string(ce.Kind)
	}
	return "unknown"
}

var _ agent.Provider = (*InstrumentedProvider)(nil)

// StoreQueryObserver builds a callback matching subagent.SQLiteStore's
// OnQuery hook, recording Metrics.RecordStoreQuery and a
// Tracer.TraceStoreOperation span for each call. backend names the
// concrete store (e.g. "sqlite") for the store.backend label/attribute.
func StoreQueryObserver(metrics *Metrics, tracer *Tracer, backend string) func(operation string, duration time.Duration, err error) {
	return func(operation string, duration time.Duration, err error) {
		if tracer != nil {
			_, span := tracer.TraceStoreOperation(context.Background(), operation, backend)
			if err != nil {
				tracer.RecordError(span, err)
			}
			span.End()
		}
		if metrics != nil {
			metrics.RecordStoreQuery(operation, backend, duration.Seconds(), err)
		}
	}
}
