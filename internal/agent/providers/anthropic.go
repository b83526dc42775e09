// Package providers implements the concrete LLM backend adapters behind
// agent.Provider: Anthropic's Claude, OpenAI's GPT family, and Google's
// Gemini, each handling its own wire format, streaming protocol, and
// retry classification.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/agent/toolconv"
	"github.com/anvilrun/anvil/internal/backoff"
	"github.com/anvilrun/anvil/pkg/models"
)

// AnthropicProvider implements agent.Provider over Anthropic's Messages
// API, including tool calling and SSE streaming.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	policy       backoff.BackoffPolicy
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider builds a provider from config. APIKey is required.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
		policy:       backoff.RateLimitPolicy(),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextWindow: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextWindow: 200000, SupportsVision: true},
	}
}

// Generate performs a single non-streaming completion, retrying
// rate-limited or transient failures per the shared rate-limit policy.
func (p *AnthropicProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return agent.CompletionResult{}, err
	}

	var msg *anthropic.Message
	var lastErr error
	for attempt := 1; attempt <= backoff.DefaultRateLimitAttempts; attempt++ {
		msg, lastErr = p.client.Messages.New(ctx, params)
		if lastErr == nil {
			break
		}
		if !isRetryableAnthropicError(lastErr) {
			return agent.CompletionResult{}, p.wrapError(lastErr, p.getModel(req.Model))
		}
		delay := backoff.NextRateLimitDelay(p.policy, attempt, retryAfterHeader(lastErr), time.Now())
		select {
		case <-ctx.Done():
			return agent.CompletionResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		return agent.CompletionResult{}, &backoff.RateLimitedError{Cause: p.wrapError(lastErr, p.getModel(req.Model)), Attempts: backoff.DefaultRateLimitAttempts}
	}

	result := agent.CompletionResult{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += variant.Text
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, models.ToolCallRequest{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.JSON.Input.Raw()),
			})
		}
	}
	return result, nil
}

// GenerateStream streams a completion, translating Anthropic's SSE
// content-block protocol into agent.StreamChunk values.
func (p *AnthropicProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan agent.StreamChunk)
	go p.pump(stream, chunks, p.getModel(req.Model))
	return chunks, nil
}

// maxEmptyStreamEvents guards against a malformed stream flooding empty
// events forever.
const maxEmptyStreamEvents = 300

func (p *AnthropicProvider) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- agent.StreamChunk, model string) {
	defer close(chunks)

	var currentToolCall *models.ToolCallRequest
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		handled := true

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				inputTokens = int(ms.Message.Usage.InputTokens)
			}
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCallRequest{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			} else {
				handled = false
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- agent.StreamChunk{Kind: agent.ChunkContent, Content: delta.Text}
				} else {
					handled = false
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
				} else {
					handled = false
				}
			default:
				handled = false
			}
		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Arguments = json.RawMessage(currentToolInput.String())
				call := *currentToolCall
				chunks <- agent.StreamChunk{Kind: agent.ChunkToolCall, ToolCall: &call}
				currentToolCall = nil
			} else {
				handled = false
			}
		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}
		case "message_stop":
			chunks <- agent.StreamChunk{Kind: agent.ChunkUsage, InputTokens: inputTokens, OutputTokens: outputTokens}
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone}
			return
		case "error":
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		default:
			handled = false
		}

		if handled {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: fmt.Errorf("anthropic: stream appears malformed after %d empty events", emptyEvents)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: p.wrapError(err, model)}
	}
}

func (p *AnthropicProvider) buildParams(req agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.SystemPrompt}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

func (p *AnthropicProvider) convertMessages(messages []models.ConversationMessage) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" && msg.Role != models.RoleTool {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == models.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if len(call.Arguments) > 0 {
				if err := json.Unmarshal(call.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", call.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// retryAfterHeader extracts the Retry-After header from the underlying
// HTTP response of an Anthropic API error, if the SDK surfaced one.
func retryAfterHeader(err error) string {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return apiErr.Response.Header.Get("Retry-After")
	}
	return ""
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}
	msg := err.Error()
	for _, s := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	providerErr := NewProviderError("anthropic", model, err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr = providerErr.WithStatus(apiErr.StatusCode)
		var payload anthropicErrorPayload
		if jsonErr := json.Unmarshal([]byte(apiErr.RawJSON()), &payload); jsonErr == nil {
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.RequestID != "" {
				providerErr = providerErr.WithRequestID(payload.RequestID)
			}
		}
	}
	return providerErr
}

var _ agent.Provider = (*AnthropicProvider)(nil)
