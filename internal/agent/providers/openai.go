package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/agent/toolconv"
	"github.com/anvilrun/anvil/internal/backoff"
	"github.com/anvilrun/anvil/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.Provider over OpenAI's chat completion
// API, including tool-calling and streaming.
type OpenAIProvider struct {
	client *openai.Client
	policy backoff.BackoffPolicy
}

// NewOpenAIProvider creates an OpenAI provider bound to apiKey. A blank
// apiKey produces a provider whose calls always fail fast, which keeps
// provider selection code simple (construct unconditionally, fail at
// call time rather than at startup).
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{policy: backoff.RateLimitPolicy()}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextWindow: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextWindow: 128000, SupportsVision: true},
		{ID: "gpt-4", Name: "GPT-4", ContextWindow: 8192, SupportsVision: false},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextWindow: 16385, SupportsVision: false},
	}
}

// Generate performs a single non-streaming completion, retrying
// rate-limited requests per the shared rate-limit policy.
func (p *OpenAIProvider) Generate(ctx context.Context, req agent.CompletionRequest) (agent.CompletionResult, error) {
	if p.client == nil {
		return agent.CompletionResult{}, errors.New("openai: API key not configured")
	}

	chatReq := p.buildRequest(req)

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 1; attempt <= backoff.DefaultRateLimitAttempts; attempt++ {
		resp, lastErr = p.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			return agent.CompletionResult{}, lastErr
		}
		delay := backoff.NextRateLimitDelay(p.policy, attempt, retryAfterOpenAI(lastErr), time.Now())
		select {
		case <-ctx.Done():
			return agent.CompletionResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if lastErr != nil {
		return agent.CompletionResult{}, &backoff.RateLimitedError{Cause: lastErr, Attempts: backoff.DefaultRateLimitAttempts}
	}
	if len(resp.Choices) == 0 {
		return agent.CompletionResult{}, errors.New("openai: empty response")
	}

	choice := resp.Choices[0]
	result := agent.CompletionResult{
		Content:      choice.Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// GenerateStream streams a completion, translating OpenAI's delta
// protocol into agent.StreamChunk values.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, req agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	chunks := make(chan agent.StreamChunk)
	go p.pump(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- agent.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	pending := make(map[int]*models.ToolCallRequest)

	for {
		select {
		case <-ctx.Done():
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				flushPending(pending, chunks)
				chunks <- agent.StreamChunk{Kind: agent.ChunkDone}
				return
			}
			chunks <- agent.StreamChunk{Kind: agent.ChunkDone, Err: err}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			chunks <- agent.StreamChunk{Kind: agent.ChunkContent, Content: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			cur, ok := pending[idx]
			if !ok {
				cur = &models.ToolCallRequest{}
				pending[idx] = cur
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				cur.Arguments = append(cur.Arguments, []byte(tc.Function.Arguments)...)
			}
		}

		if resp.Choices[0].FinishReason == "tool_calls" {
			flushPending(pending, chunks)
			pending = make(map[int]*models.ToolCallRequest)
		}
	}
}

func flushPending(pending map[int]*models.ToolCallRequest, chunks chan<- agent.StreamChunk) {
	for _, tc := range pending {
		if tc.ID != "" && tc.Name != "" {
			call := *tc
			chunks <- agent.StreamChunk{Kind: agent.ChunkToolCall, ToolCall: &call}
		}
	}
}

func (p *OpenAIProvider) buildRequest(req agent.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}
	return chatReq
}

func convertMessage(m models.ConversationMessage) openai.ChatCompletionMessage {
	switch m.Role {
	case models.RoleAssistant:
		out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return out
	case models.RoleTool:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleTool, Content: m.Content, ToolCallID: m.ToolCallID}
	case models.RoleSystem:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content}
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content}
	}
}

// retryAfterOpenAI looks for a Retry-After-equivalent hint in an OpenAI
// APIError. go-openai's error type does not surface the raw HTTP response,
// so the only signal available is the "Please try again in Ns" wording
// the API embeds in the error message body for 429s.
func retryAfterOpenAI(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryAfterFromMessageText(apiErr.Message)
	}
	return retryAfterFromMessageText(err.Error())
}

func isRetryableOpenAIError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var _ agent.Provider = (*OpenAIProvider)(nil)
