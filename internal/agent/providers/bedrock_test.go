package providers

import (
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/anvilrun/anvil/pkg/models"
)

func TestBedrockGetModelDefaultsAndPassesThrough(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	if p.getModel("") != "anthropic.claude-3-sonnet-20240229-v1:0" {
		t.Fatalf("getModel(\"\") = %q", p.getModel(""))
	}
	if p.getModel("amazon.titan-text-express-v1") != "amazon.titan-text-express-v1" {
		t.Fatal("getModel should pass through an explicit model")
	}
}

func TestBedrockConvertMessagesMapsRolesAndSkipsSystem(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	messages := []models.ConversationMessage{
		models.NewSystemMessage("be concise"),
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "hi there"},
		{Role: models.RoleTool, Content: "42", ToolCallID: "call_1"},
	}
	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected 3 messages (system dropped), got %d", len(converted))
	}
	last := converted[2]
	if _, ok := last.Content[0].(*types.ContentBlockMemberToolResult); !ok {
		t.Fatalf("expected last message to carry a tool result block, got %#v", last.Content[0])
	}
}

func TestBedrockConvertMessagesRejectsMalformedToolCallArgs(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
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

func TestBedrockIsRetryableError(t *testing.T) {
	p := &BedrockProvider{}
	cases := map[string]bool{
		"ThrottlingException: rate exceeded": true,
		"503 service unavailable":            true,
		"ValidationException: bad request":   false,
	}
	for msg, want := range cases {
		if got := p.isRetryableError(&testErr{msg}); got != want {
			t.Errorf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestBedrockModelsNonEmpty(t *testing.T) {
	p := &BedrockProvider{defaultModel: "anthropic.claude-3-sonnet-20240229-v1:0"}
	if len(p.Models()) == 0 {
		t.Fatal("expected at least one model")
	}
}
