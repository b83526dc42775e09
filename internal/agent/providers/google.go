package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/agent/toolconv"
	"github.com/anvilrun/anvil/internal/backoff"
	"github.com/anvilrun/anvil/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider implements agent.Provider over Google's Gemini API via
// the Go Gen AI SDK's streaming iterator interface.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	policy       backoff.BackoffPolicy
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGoogleProvider builds a provider from config. APIKey is required.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		defaultModel: config.DefaultModel,
		policy:       backoff.RateLimitPolicy(),
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextWindow: 1000000, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextWindow: 1000000, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextWindow: 2000000, SupportsVision: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextWindow: 1000000, SupportsVision: true},
	}
}

// Generate performs a single non-streaming completion by draining the
// streaming iterator and accumulating its parts.
func (p *GoogleProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	model := p.getModel(req.Model)
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return agent.CompletionResult{}, p.wrapError(err, model)
	}
	config := p.buildConfig(req)

	var result agent.CompletionResult
	var lastErr error
	for attempt := 1; attempt <= backoff.DefaultRateLimitAttempts; attempt++ {
		result = agent.CompletionResult{}
		lastErr = nil
		streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
		for resp, streamErr := range streamIter {
			if streamErr != nil {
				lastErr = streamErr
				break
			}
			accumulate(&result, resp)
		}
		if lastErr == nil {
			return result, nil
		}
		if !p.isRetryableError(lastErr) {
			return agent.CompletionResult{}, p.wrapError(lastErr, model)
		}
		delay := backoff.NextRateLimitDelay(p.policy, attempt, retryAfterGoogle(lastErr), time.Now())
		select {
		case <-ctx.Done():
			return agent.CompletionResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return agent.CompletionResult{}, &backoff.RateLimitedError{Cause: p.wrapError(lastErr, model), Attempts: backoff.DefaultRateLimitAttempts}
}

// GenerateStream streams a completion, translating Gemini's content parts
// into agent.StreamChunk values.
func (p *GoogleProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	model := p.getModel(req.Model)
	contents, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, p.wrapError(err, model)
	}
	config := p.buildConfig(req)

	chunks := make(chan agent.StreamChunk)
	go p.pump(ctx, model, contents, config, chunks)
	return chunks, nil
}

func (p *GoogleProvider) pump(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- agent.StreamChunk) {
	defer close(chunks)

	streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: ctx.Err()}
			return
		default:
		}
		if err != nil {
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: p.wrapError(err, model)}
			return
		}
		if resp == nil {
			continue
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					chunks <- agent.StreamChunk{Kind: agent.ChunkContent, Content: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					call := models.ToolCallRequest{
						ID:        generateToolCallID(part.FunctionCall.Name),
						Name:      part.FunctionCall.Name,
						Arguments: argsJSON,
					}
					chunks <- agent.StreamChunk{Kind: agent.ChunkToolCall, ToolCall: &call}
				}
			}
		}
		if resp.UsageMetadata != nil {
			chunks <- agent.StreamChunk{
				Kind:         agent.ChunkUsage,
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			}
		}
	}
	chunks <- agent.StreamChunk{Kind: agent.ChunkDone}
}

func accumulate(result *agent.CompletionResult, resp *genai.GenerateContentResponse) {
	if resp == nil {
		return
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				result.Content += part.Text
			}
			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					argsJSON = []byte("{}")
				}
				result.ToolCalls = append(result.ToolCalls, models.ToolCallRequest{
					ID:        generateToolCallID(part.FunctionCall.Name),
					Name:      part.FunctionCall.Name,
					Arguments: argsJSON,
				})
			}
		}
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
}

func (p *GoogleProvider) convertMessages(messages []models.ConversationMessage) ([]*genai.Content, error) {
	var result []*genai.Content

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", tc.Name, err)
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
			})
		}

		if msg.Role == models.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(msg.Content), &response); err != nil {
				response = map[string]any{"result": msg.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: msg.Name, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result, nil
}

func (p *GoogleProvider) buildConfig(req agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}

func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// retryAfterGoogle extracts the server-suggested retry delay from a
// Gemini API error. Google's error responses carry this as a
// google.rpc.RetryInfo detail (`{"@type": "...RetryInfo", "retryDelay":
// "30s"}`) rather than an HTTP header, so it is read from APIError.Details
// instead of a Retry-After header.
func retryAfterGoogle(err error) string {
	var apiErr *genai.APIError
	if !errors.As(err, &apiErr) {
		return ""
	}
	for _, detail := range apiErr.Details {
		raw, ok := detail["retryDelay"]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok {
			if header := retryAfterFromDuration(s); header != "" {
				return header
			}
		}
	}
	return ""
}

func (p *GoogleProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "too many requests", "resource exhausted", "quota",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	providerErr := NewProviderError("google", model, err)
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(msg, "403"), strings.Contains(msg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(msg, "404"), strings.Contains(msg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(msg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(msg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}
	return providerErr
}

// generateToolCallID synthesizes an ID for providers, like Gemini, that
// don't assign one to function calls.
func generateToolCallID(name string) string {
	return fmt.Sprintf("call_%s_%d", name, time.Now().UnixNano())
}

var _ agent.Provider = (*GoogleProvider)(nil)
