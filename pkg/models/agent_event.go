package models

import (
	"encoding/json"
	"time"
)

// AgentEventType discriminates the AgentEvent tagged union (spec §3).
type AgentEventType string

const (
	EventMessageStart    AgentEventType = "message.start"
	EventMessageDelta    AgentEventType = "message.delta"
	EventMessageComplete AgentEventType = "message.complete"
	EventToolStart       AgentEventType = "tool.start"
	EventToolComplete    AgentEventType = "tool.complete"
	EventToolError       AgentEventType = "tool.error"
	EventUsage           AgentEventType = "usage"
	EventError           AgentEventType = "error"
)

// AgentEvent is the tagged-union event emitted through the Event Stream
// Controller. Exactly one payload field is populated for a given Type; all
// events carry a monotonic wall-clock Timestamp.
//
// This mirrors the discriminated-single-non-nil-payload design the provider
// event model in this codebase's ancestry used for its much larger event
// vocabulary, narrowed here to the eight variants the core contract defines.
type AgentEvent struct {
	Type      AgentEventType `json:"type"`
	Timestamp time.Time      `json:"timestamp"`

	MessageDelta    *MessageDeltaPayload    `json:"message_delta,omitempty"`
	MessageComplete *MessageCompletePayload `json:"message_complete,omitempty"`
	ToolStart       *ToolStartPayload       `json:"tool_start,omitempty"`
	ToolComplete    *ToolCompletePayload    `json:"tool_complete,omitempty"`
	ToolErr         *ToolErrorPayload       `json:"tool_error,omitempty"`
	Usage           *UsagePayload           `json:"usage,omitempty"`
	Err             *ErrorPayload           `json:"error,omitempty"`
}

// MessageDeltaPayload carries incremental assistant text.
type MessageDeltaPayload struct {
	Content string `json:"content"`
	IsFinal bool   `json:"isFinal"`
}

// MessageCompletePayload carries the final assistant text for one turn.
type MessageCompletePayload struct {
	Content   string `json:"content"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// ToolStartPayload announces a tool about to execute.
type ToolStartPayload struct {
	Name   string          `json:"name"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ToolCompletePayload carries a tool's result string.
type ToolCompletePayload struct {
	Name   string `json:"name"`
	ID     string `json:"id"`
	Result string `json:"result"`
}

// ToolErrorPayload carries a tool's in-band failure string.
type ToolErrorPayload struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// UsagePayload carries token accounting for one turn, when the provider
// supplies it.
type UsagePayload struct {
	InputTokens  *int `json:"inputTokens,omitempty"`
	OutputTokens *int `json:"outputTokens,omitempty"`
	TotalTokens  *int `json:"totalTokens,omitempty"`
}

// ErrorPayload carries a fatal error that terminates the event stream.
type ErrorPayload struct {
	Message string  `json:"message"`
	Code    *string `json:"code,omitempty"`
}

// NewMessageStart, NewMessageDelta, ... build timestamped events; kept as
// small constructors so the Agent Loop and Event Stream Controller never
// hand-roll the Timestamp field inconsistently.

func NewMessageStart() AgentEvent {
	return AgentEvent{Type: EventMessageStart, Timestamp: time.Now()}
}

func NewMessageDelta(content string, isFinal bool) AgentEvent {
	return AgentEvent{Type: EventMessageDelta, Timestamp: time.Now(), MessageDelta: &MessageDeltaPayload{Content: content, IsFinal: isFinal}}
}

func NewMessageComplete(content string, elapsed time.Duration) AgentEvent {
	return AgentEvent{Type: EventMessageComplete, Timestamp: time.Now(), MessageComplete: &MessageCompletePayload{Content: content, ElapsedMs: elapsed.Milliseconds()}}
}

func NewToolStart(name, id string, params json.RawMessage) AgentEvent {
	return AgentEvent{Type: EventToolStart, Timestamp: time.Now(), ToolStart: &ToolStartPayload{Name: name, ID: id, Params: params}}
}

func NewToolComplete(name, id, result string) AgentEvent {
	return AgentEvent{Type: EventToolComplete, Timestamp: time.Now(), ToolComplete: &ToolCompletePayload{Name: name, ID: id, Result: result}}
}

func NewToolError(name, id, errMsg string) AgentEvent {
	return AgentEvent{Type: EventToolError, Timestamp: time.Now(), ToolErr: &ToolErrorPayload{Name: name, ID: id, Error: errMsg}}
}

func NewUsage(input, output, total *int) AgentEvent {
	return AgentEvent{Type: EventUsage, Timestamp: time.Now(), Usage: &UsagePayload{InputTokens: input, OutputTokens: output, TotalTokens: total}}
}

func NewErrorEvent(message string, code *string) AgentEvent {
	return AgentEvent{Type: EventError, Timestamp: time.Now(), Err: &ErrorPayload{Message: message, Code: code}}
}
