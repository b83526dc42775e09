package providers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

func TestNewOpenAIProviderWithoutKeyFailsAtCallTime(t *testing.T) {
	p := NewOpenAIProvider("")
	if p.Name() != "openai" {
		t.Fatalf("Name() = %q, want openai", p.Name())
	}
	if _, err := p.Generate(context.Background(), agent.CompletionRequest{}); err == nil {
		t.Fatal("expected error when API key is not configured")
	}
}

func TestOpenAIModelsNonEmpty(t *testing.T) {
	p := NewOpenAIProvider("test-key")
	models := p.Models()
	if len(models) == 0 {
		t.Fatal("expected at least one model")
	}
	for _, m := range models {
		if m.ID == "" || m.Name == "" {
			t.Fatalf("model missing ID/Name: %#v", m)
		}
	}
}

func TestConvertMessageRoundTripsToolCallAndResult(t *testing.T) {
	assistant := convertMessage(models.ConversationMessage{
		Role: models.RoleAssistant,
		ToolCalls: []models.ToolCallRequest{
			{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{"q":"go"}`)},
		},
	})
	if assistant.Role != openai.ChatMessageRoleAssistant {
		t.Fatalf("role = %q, want assistant", assistant.Role)
	}
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Fatalf("unexpected tool calls: %#v", assistant.ToolCalls)
	}

	toolMsg := convertMessage(models.ConversationMessage{
		Role: models.RoleTool, Content: "result text", ToolCallID: "call_1",
	})
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("unexpected tool message: %#v", toolMsg)
	}
}

func TestIsRetryableOpenAIError(t *testing.T) {
	cases := map[string]bool{
		"rate limit exceeded":  true,
		"429 too many":         true,
		"502 bad gateway":      true,
		"context deadline":     true,
		"invalid request body": false,
	}
	for msg, want := range cases {
		if got := isRetryableOpenAIError(&testErr{msg}); got != want {
			t.Errorf("isRetryableOpenAIError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestFlushPendingSkipsIncompleteToolCalls(t *testing.T) {
	chunks := make(chan agent.StreamChunk, 4)
	pending := map[int]*models.ToolCallRequest{
		0: {ID: "call_1", Name: "search"},
		1: {Name: "missing_id"},
		2: {ID: "call_3"},
	}
	flushPending(pending, chunks)
	close(chunks)

	var got []agent.StreamChunk
	for c := range chunks {
		got = append(got, c)
	}
	if len(got) != 1 || got[0].ToolCall.ID != "call_1" {
		t.Fatalf("expected exactly the complete tool call, got %#v", got)
	}
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
