package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	contextutil "github.com/anvilrun/anvil/internal/agent/context"
	"github.com/anvilrun/anvil/internal/events"
	"github.com/anvilrun/anvil/pkg/models"
)

// DefaultTurnLimit is the safety ceiling on provider/tool round-trips
// within one send() call, per spec §4.6.
const DefaultTurnLimit = 32

// LoopConfig configures one Loop instance.
type LoopConfig struct {
	Model           string
	SystemPrompt    string
	TurnLimit       int
	Stream          bool
	OnContextPruned func(removed int, stats contextutil.Stats)
}

func sanitizeLoopConfig(c LoopConfig) LoopConfig {
	if c.TurnLimit <= 0 {
		c.TurnLimit = DefaultTurnLimit
	}
	return c
}

// Loop is the Agent Loop (C6): it drives the INIT → PRUNE → ASK PROVIDER →
// [ACCUMULATE] → EXEC TOOLS/EMIT COMPLETE state machine described in
// spec §4.6, owns the ConversationState for the run, and publishes every
// step through an events.Stream.
type Loop struct {
	provider Provider
	registry *Registry
	context  *contextutil.Manager
	config   LoopConfig

	mu      sync.Mutex
	running bool

	messages []models.ConversationMessage
}

// NewLoop builds a Loop over the given provider, tool registry, and
// context manager.
func NewLoop(provider Provider, registry *Registry, ctxMgr *contextutil.Manager, config LoopConfig) *Loop {
	return &Loop{
		provider: provider,
		registry: registry,
		context:  ctxMgr,
		config:   sanitizeLoopConfig(config),
	}
}

// SeedMessages preloads the ConversationState, e.g. when a sub-agent run
// resumes from a snapshot. Only meaningful before the first Send call;
// Send only prepends the configured system prompt when the state starts
// empty.
func (l *Loop) SeedMessages(messages []models.ConversationMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]models.ConversationMessage(nil), messages...)
}

// Messages returns a copy of the current ConversationState.
func (l *Loop) Messages() []models.ConversationMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ConversationMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

// Send runs one full turn of the state machine for a user message,
// publishing every AgentEvent to stream. It returns the final assistant
// text, or a typed error if the run could not complete.
//
// Send refuses to start while a previous Send on this Loop is still
// running (AlreadyRunning), since ConversationState is mutated only by
// the Agent Loop and concurrent mutation would be undefined.
func (l *Loop) Send(ctx context.Context, userText string, stream *events.Stream) (string, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return "", NewAlreadyRunningError()
	}
	l.running = true
	if len(l.messages) == 0 && l.config.SystemPrompt != "" {
		l.messages = append(l.messages, models.NewSystemMessage(l.config.SystemPrompt))
	}
	l.messages = append(l.messages, models.ConversationMessage{Role: models.RoleUser, Content: userText})
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	stream.Push(models.NewMessageStart())

	for turn := 0; ; turn++ {
		if turn >= l.config.TurnLimit {
			err := NewTurnLimitExceededError(l.config.TurnLimit)
			stream.Fail(err)
			return "", err
		}

		l.prune()

		req := l.buildRequest()

		var content string
		var toolCalls []models.ToolCallRequest
		var err error
		if l.config.Stream {
			content, toolCalls, err = l.runStreaming(ctx, req, stream)
		} else {
			content, toolCalls, err = l.runOnce(ctx, req, stream)
		}
		if err != nil {
			stream.Fail(err)
			return "", err
		}

		if len(toolCalls) == 0 {
			stream.Push(models.NewMessageComplete(content, 0))
			l.appendAssistant(content, nil)
			stream.Close()
			return content, nil
		}

		// Narration alongside tool calls is emitted before tool execution.
		if content != "" {
			stream.Push(models.NewMessageDelta(content, false))
		}
		l.appendAssistant(content, toolCalls)

		toolMessages := ExecuteToolCalls(ctx, l.registry, toolCalls, stream)
		l.mu.Lock()
		l.messages = append(l.messages, toolMessages...)
		l.mu.Unlock()
		// continue the loop back to PRUNE
	}
}

func (l *Loop) buildRequest() CompletionRequest {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := make([]models.ConversationMessage, len(l.messages))
	copy(msgs, l.messages)

	tools := make([]ToolSpec, 0)
	for _, t := range l.registry.ListProviderTools() {
		tools = append(tools, ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}

	return CompletionRequest{
		Model:        l.config.Model,
		SystemPrompt: l.config.SystemPrompt,
		Messages:     msgs,
		Tools:        tools,
	}
}

func (l *Loop) prune() {
	if l.context == nil {
		return
	}
	l.mu.Lock()
	pruned, removed := l.context.PruneIfNeeded(l.messages)
	l.messages = pruned
	l.mu.Unlock()

	if removed > 0 && l.config.OnContextPruned != nil {
		l.config.OnContextPruned(removed, l.context.Stats(pruned))
	}
}

func (l *Loop) appendAssistant(content string, toolCalls []models.ToolCallRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, models.ConversationMessage{
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
	})
}

func (l *Loop) runOnce(ctx context.Context, req CompletionRequest, stream *events.Stream) (string, []models.ToolCallRequest, error) {
	res, err := l.provider.Generate(ctx, req)
	if err != nil {
		return "", nil, NewProviderProtocolError(err.Error(), err)
	}
	stream.Push(models.NewUsage(intPtr(res.InputTokens), intPtr(res.OutputTokens), nil))
	return res.Content, res.ToolCalls, nil
}

func (l *Loop) runStreaming(ctx context.Context, req CompletionRequest, stream *events.Stream) (string, []models.ToolCallRequest, error) {
	chunks, err := l.provider.GenerateStream(ctx, req)
	if err != nil {
		return "", nil, NewProviderProtocolError(err.Error(), err)
	}

	var content string
	var toolCalls []models.ToolCallRequest
	for chunk := range chunks {
		switch chunk.Kind {
		case ChunkContent:
			content += chunk.Content
			stream.Push(models.NewMessageDelta(chunk.Content, false))
		case ChunkToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case ChunkUsage:
			stream.Push(models.NewUsage(intPtr(chunk.InputTokens), intPtr(chunk.OutputTokens), nil))
		case ChunkDone:
			if chunk.Err != nil {
				return "", nil, NewProviderProtocolError(chunk.Err.Error(), chunk.Err)
			}
		}
	}
	return content, toolCalls, nil
}

func intPtr(v int) *int { return &v }

// DescribeTools serializes the registry's current tool listing for
// debugging or the headless driver's session envelope.
func (l *Loop) DescribeTools() json.RawMessage {
	tools := l.registry.ListProviderTools()
	out, err := json.Marshal(tools)
	if err != nil {
		return json.RawMessage(fmt.Sprintf("%q", err.Error()))
	}
	return out
}
