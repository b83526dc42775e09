// Package agent implements the Provider Adapter, Tool Registry, and Agent
// Loop: the three components that turn a user message into a streamed
// sequence of model and tool events.
package agent

import (
	"context"

	"github.com/anvilrun/anvil/pkg/models"
)

// Provider is the uniform interface every LLM backend adapter presents to
// the Agent Loop. Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider ("anthropic", "openai", "google", "bedrock").
	Name() string

	// Generate performs a single non-streaming completion.
	Generate(ctx context.Context, req CompletionRequest) (CompletionResult, error)

	// GenerateStream performs a streaming completion, delivering chunks on
	// the returned channel. The channel is closed when the stream ends,
	// whether by a Done chunk or an error.
	GenerateStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// CompletionRequest is the provider-neutral request shape built from a
// ConversationState plus the active ModelSelection.
type CompletionRequest struct {
	Model           string
	SystemPrompt    string
	Messages        []models.ConversationMessage
	Tools           []ToolSpec
	Temperature     *float64
	MaxTokens       int
	ReasoningEffort string
	Verbosity       string
	// CacheSystemPrompt marks the system-prompt prefix as cache-eligible,
	// for providers that support prompt caching.
	CacheSystemPrompt bool
}

// ToolSpec is the {name, description, parameters} shape sent to a
// provider for function calling, per spec §4.1's contract.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []byte // JSON-Schema document, or nil for no-parameter tools
}

// CompletionResult is the non-streaming response: either assistant text,
// or a set of tool calls, never both populated meaningfully at once.
type CompletionResult struct {
	Content      string
	ToolCalls    []models.ToolCallRequest
	InputTokens  int
	OutputTokens int
}

// StreamChunkKind tags a StreamChunk's variant.
type StreamChunkKind int

const (
	ChunkContent StreamChunkKind = iota
	ChunkToolCall
	ChunkUsage
	ChunkDone
)

// StreamChunk is one element of a streaming completion, per spec §4.1's
// StreamChunk variants {content, tool_call, usage, done}.
type StreamChunk struct {
	Kind StreamChunkKind

	Content string

	ToolCall *models.ToolCallRequest

	InputTokens  int
	OutputTokens int

	Err error
}

// Model describes one model a provider exposes.
type Model struct {
	ID             string
	Name           string
	ContextWindow  int
	SupportsVision bool
}
