package providers

import (
	"encoding/json"
	"testing"

	"github.com/anvilrun/anvil/pkg/models"
)

func TestGoogleGetModelDefaultsAndPassesThrough(t *testing.T) {
	p := &GoogleProvider{defaultModel: "gemini-2.0-flash"}
	if p.getModel("") != "gemini-2.0-flash" {
		t.Fatalf("getModel(\"\") = %q", p.getModel(""))
	}
	if p.getModel("gemini-1.5-pro") != "gemini-1.5-pro" {
		t.Fatal("getModel should pass through an explicit model")
	}
}

func TestGoogleConvertMessagesMapsRolesAndSkipsSystem(t *testing.T) {
	p := &GoogleProvider{defaultModel: "gemini-2.0-flash"}
	messages := []models.ConversationMessage{
		models.NewSystemMessage("be concise"),
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
	}
	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted) != 2 {
		t.Fatalf("expected 2 contents (system dropped), got %d", len(converted))
	}
}

func TestGoogleConvertMessagesRejectsMalformedToolCallArgs(t *testing.T) {
	p := &GoogleProvider{defaultModel: "gemini-2.0-flash"}
	messages := []models.ConversationMessage{
		{
			Role: models.RoleAssistant,
			ToolCalls: []models.ToolCallRequest{
				{ID: "call_1", Name: "search", Arguments: json.RawMessage(`{not-json}`)},
			},
		},
	}
	if _, err := p.convertMessages(messages); err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

func TestGoogleIsRetryableError(t *testing.T) {
	p := &GoogleProvider{}
	cases := map[string]bool{
		"resource exhausted":  true,
		"503 service unavailable": true,
		"permission denied":   false,
	}
	for msg, want := range cases {
		if got := p.isRetryableError(&testErr{msg}); got != want {
			t.Errorf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestGenerateToolCallIDIsUnique(t *testing.T) {
	a := generateToolCallID("search")
	b := generateToolCallID("search")
	if a == b {
		t.Fatal("expected distinct IDs across calls")
	}
}

func TestGoogleModelsNonEmpty(t *testing.T) {
	p := &GoogleProvider{defaultModel: "gemini-2.0-flash"}
	if len(p.Models()) == 0 {
		t.Fatal("expected at least one model")
	}
}
