package models

import "testing"

func TestAgentEventConstructorsSetTypeAndPayload(t *testing.T) {
	if e := NewMessageStart(); e.Type != EventMessageStart {
		t.Fatalf("NewMessageStart type = %q", e.Type)
	}
	if e := NewMessageDelta("hi", false); e.Type != EventMessageDelta || e.MessageDelta.Content != "hi" || e.MessageDelta.IsFinal {
		t.Fatalf("NewMessageDelta mismatch: %+v", e)
	}
	if e := NewToolStart("echo_tool", "t1", nil); e.Type != EventToolStart || e.ToolStart.ID != "t1" {
		t.Fatalf("NewToolStart mismatch: %+v", e)
	}
	if e := NewToolComplete("echo_tool", "t1", "Echo: hi"); e.Type != EventToolComplete || e.ToolComplete.Result != "Echo: hi" {
		t.Fatalf("NewToolComplete mismatch: %+v", e)
	}
	if e := NewToolError("echo_tool", "t1", "boom"); e.Type != EventToolError || e.ToolErr.Error != "boom" {
		t.Fatalf("NewToolError mismatch: %+v", e)
	}
	in, out := 10, 20
	if e := NewUsage(&in, &out, nil); e.Type != EventUsage || *e.Usage.InputTokens != 10 {
		t.Fatalf("NewUsage mismatch: %+v", e)
	}
	if e := NewErrorEvent("fatal", nil); e.Type != EventError || e.Err.Message != "fatal" {
		t.Fatalf("NewErrorEvent mismatch: %+v", e)
	}
	if e := NewMessageComplete("done", 0); e.Type != EventMessageComplete || e.MessageComplete.Content != "done" {
		t.Fatalf("NewMessageComplete mismatch: %+v", e)
	}
}

func TestAgentEventTimestampsAreMonotonicWithinASequence(t *testing.T) {
	events := []AgentEvent{
		NewMessageStart(),
		NewMessageDelta("a", false),
		NewMessageComplete("a", 0),
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Fatalf("event %d timestamp precedes event %d", i, i-1)
		}
	}
}
