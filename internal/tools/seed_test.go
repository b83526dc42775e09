package tools

import (
	"context"
	"testing"

	"github.com/anvilrun/anvil/internal/capability"
	"github.com/anvilrun/anvil/pkg/models"
)

func TestSeedModuleContributesEchoAndCurrentTime(t *testing.T) {
	contributions, err := Module{}.Create(capability.ModuleContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contributions) != 1 || contributions[0].ToolSuite == nil {
		t.Fatalf("expected a single tool suite contribution, got %+v", contributions)
	}
	names := map[string]models.ToolDefinition{}
	for _, def := range contributions[0].ToolSuite.Tools {
		names[def.Name] = def
	}
	if _, ok := names["echo"]; !ok {
		t.Fatal("expected an echo tool")
	}
	if _, ok := names["current_time"]; !ok {
		t.Fatal("expected a current_time tool")
	}
}

func TestEchoHandlerRequiresText(t *testing.T) {
	if _, err := echoHandler(context.Background(), models.ToolCallRequest{}, map[string]any{}); err == nil {
		t.Fatal("expected an error for missing text")
	}
	out, err := echoHandler(context.Background(), models.ToolCallRequest{}, map[string]any{"text": "hi"})
	if err != nil || out != "hi" {
		t.Fatalf("expected echo %q, got %q (err=%v)", "hi", out, err)
	}
}

func TestCurrentTimeHandlerReturnsRFC3339(t *testing.T) {
	out, err := currentTimeHandler(context.Background(), models.ToolCallRequest{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out == "" {
		t.Fatal("expected a non-empty timestamp")
	}
}
