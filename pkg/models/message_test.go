package models

import (
	"encoding/json"
	"testing"
)

func TestConversationMessageRoleHelpers(t *testing.T) {
	cases := []struct {
		msg  ConversationMessage
		want Role
	}{
		{NewSystemMessage("hi"), RoleSystem},
		{ConversationMessage{Role: RoleUser}, RoleUser},
		{ConversationMessage{Role: RoleAssistant}, RoleAssistant},
		{ConversationMessage{Role: RoleTool}, RoleTool},
	}
	for _, c := range cases {
		if c.msg.Role != c.want {
			t.Fatalf("expected role %q, got %q", c.want, c.msg.Role)
		}
	}

	tool := ConversationMessage{Role: RoleTool, ToolCallID: "c1", Name: "echo_tool"}
	if !tool.IsTool() || tool.IsAssistant() || tool.IsUser() || tool.IsSystem() {
		t.Fatalf("IsTool/IsAssistant/IsUser/IsSystem mismatch for %+v", tool)
	}
}

func TestToolDefinitionEffectiveCacheable(t *testing.T) {
	trueVal := true
	falseVal := false

	cases := []struct {
		name string
		def  ToolDefinition
		want bool
	}{
		{"builtin idempotent defaults cacheable", ToolDefinition{Name: "Read"}, true},
		{"unknown tool defaults uncacheable", ToolDefinition{Name: "echo_tool"}, false},
		{"explicit true overrides unknown name", ToolDefinition{Name: "echo_tool", Cacheable: &trueVal}, true},
		{"explicit false overrides builtin name", ToolDefinition{Name: "Read", Cacheable: &falseVal}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.def.EffectiveCacheable(); got != c.want {
				t.Fatalf("EffectiveCacheable() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestToolCallRequestArgumentsRoundTrip(t *testing.T) {
	call := ToolCallRequest{ID: "c1", Name: "echo_tool", Arguments: json.RawMessage(`{"message":"hello"}`)}
	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ToolCallRequest
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.ID != call.ID || decoded.Name != call.Name || string(decoded.Arguments) != string(call.Arguments) {
		t.Fatalf("round trip mismatch: got %+v", decoded)
	}
}
