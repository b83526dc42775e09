package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/anvilrun/anvil/internal/agent"
)

// FailoverProvider wraps an ordered list of providers and presents them as
// a single agent.Provider. A request is tried against each provider in
// order; a failure classified as ShouldFailover (billing, auth, model
// unavailable) or IsRetryable (rate limit, timeout, server error) advances
// to the next provider instead of surfacing the error to the caller.
type FailoverProvider struct {
	providers []agent.Provider
}

// NewFailoverProvider builds a FailoverProvider trying providers in the
// given order. At least one provider is required.
func NewFailoverProvider(providers ...agent.Provider) (*FailoverProvider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("failover: at least one provider is required")
	}
	return &FailoverProvider{providers: providers}, nil
}

// Name reports the composed chain, e.g. "failover(anthropic,openai)".
func (f *FailoverProvider) Name() string {
	names := make([]string, len(f.providers))
	for i, p := range f.providers {
		names[i] = p.Name()
	}
	return fmt.Sprintf("failover(%s)", strings.Join(names, ","))
}

func (f *FailoverProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	var lastErr error
	for i, p := range f.providers {
		result, err := p.Generate(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i == len(f.providers)-1 || !shouldAdvance(err) {
			return agent.CompletionResult{}, fmt.Errorf("failover: %s failed: %w", p.Name(), err)
		}
	}
	return agent.CompletionResult{}, lastErr
}

// GenerateStream tries providers in order until one accepts the request and
// begins streaming. Once a provider has emitted a chunk, its stream is
// passed through unmodified: partial output has already reached the
// caller, so a mid-stream error cannot be silently retried on another
// provider without risking duplicated content.
func (f *FailoverProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	var lastErr error
	for i, p := range f.providers {
		upstream, err := p.GenerateStream(ctx, req)
		if err != nil {
			lastErr = err
			if i == len(f.providers)-1 || !shouldAdvance(err) {
				return nil, fmt.Errorf("failover: %s failed: %w", p.Name(), err)
			}
			continue
		}
		return upstream, nil
	}
	return nil, lastErr
}

// shouldAdvance reports whether an error should move the request to the
// next provider in the chain rather than surfacing immediately.
func shouldAdvance(err error) bool {
	return ShouldFailover(err) || IsRetryable(err)
}

var _ agent.Provider = (*FailoverProvider)(nil)
