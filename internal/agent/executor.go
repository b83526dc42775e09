package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anvilrun/anvil/internal/backoff"
	"github.com/anvilrun/anvil/internal/events"
	"github.com/anvilrun/anvil/pkg/models"
)

// ExecutorConfig bounds the concurrency, per-call timeout, and retry
// behavior of ExecuteToolCalls.
type ExecutorConfig struct {
	// MaxConcurrency limits how many tool calls from one batch run at once.
	MaxConcurrency int

	// Timeout bounds a single attempt at a call.
	Timeout time.Duration

	// MaxAttempts is the number of times a call that times out is retried
	// before its failure is surfaced as the tool result.
	MaxAttempts int

	// RetryPolicy controls the backoff between timeout retries.
	RetryPolicy backoff.BackoffPolicy
}

// DefaultExecutorConfig returns the executor configuration used when a
// caller does not supply its own.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency: 5,
		Timeout:        30 * time.Second,
		MaxAttempts:    2,
		RetryPolicy: backoff.BackoffPolicy{
			InitialMs: 100,
			MaxMs:     5000,
			Factor:    2,
			Jitter:    0.1,
		},
	}
}

// ExecuteToolCalls runs every call in calls concurrently against the
// registry, bounded by DefaultExecutorConfig's concurrency limit, and
// returns one tool message per call, in the exact order the calls were
// requested — regardless of which one finished first. Each call publishes
// a tool.start/tool.complete (or tool.error) pair to stream; a call that
// times out is retried with backoff before its failure is surfaced as the
// tool result.
func ExecuteToolCalls(ctx context.Context, registry *Registry, calls []models.ToolCallRequest, stream *events.Stream) []models.ConversationMessage {
	return ExecuteToolCallsWithConfig(ctx, registry, calls, stream, DefaultExecutorConfig())
}

// ExecuteToolCallsWithConfig is ExecuteToolCalls with an explicit
// ExecutorConfig, for callers that need tighter bounds, e.g. a sandboxed
// sub-agent run.
func ExecuteToolCallsWithConfig(ctx context.Context, registry *Registry, calls []models.ToolCallRequest, stream *events.Stream, cfg ExecutorConfig) []models.ConversationMessage {
	results := make([]string, len(calls))
	sem := make(chan struct{}, cfg.MaxConcurrency)

	var wg sync.WaitGroup
	wg.Add(len(calls))
	for i, call := range calls {
		go func(i int, call models.ToolCallRequest) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
			}
			results[i] = executeOne(ctx, registry, call, stream, cfg)
		}(i, call)
	}
	wg.Wait()

	messages := make([]models.ConversationMessage, len(calls))
	for i, call := range calls {
		messages[i] = models.ConversationMessage{
			Role:       models.RoleTool,
			Content:    results[i],
			ToolCallID: call.ID,
			Name:       call.Name,
		}
	}
	return messages
}

// toolAttempt is the outcome of one attempt at a call, distinguishing a
// registry-reported tool failure (terminal, not retried) from success.
type toolAttempt struct {
	result string
	failed bool
}

// executeOne runs a single call to completion, retrying on timeout, and
// emits exactly one tool.start/tool.complete (or tool.error) pair to
// stream regardless of how many attempts it took.
func executeOne(ctx context.Context, registry *Registry, call models.ToolCallRequest, stream *events.Stream, cfg ExecutorConfig) string {
	stream.Push(models.NewToolStart(call.Name, call.ID, call.Arguments))

	res, err := backoff.RetryWithBackoff(ctx, cfg.RetryPolicy, cfg.MaxAttempts, func(attempt int) (toolAttempt, error) {
		callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		result, failed := registry.ExecuteTool(callCtx, call)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			// Timeouts are the only retryable failure mode: the registry
			// has no way to tell us a handler error is transient.
			return toolAttempt{}, context.DeadlineExceeded
		}
		return toolAttempt{result: result, failed: failed}, nil
	})

	switch {
	case err == nil && !res.Value.failed:
		stream.Push(models.NewToolComplete(call.Name, call.ID, res.Value.result))
		return res.Value.result
	case err == nil:
		stream.Push(models.NewToolError(call.Name, call.ID, res.Value.result))
		return res.Value.result
	default:
		msg := fmt.Sprintf("Timed out running %q after %d attempt(s).", call.Name, res.Attempts)
		stream.Push(models.NewToolError(call.Name, call.ID, msg))
		return msg
	}
}
