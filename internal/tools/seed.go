// Package tools provides the built-in example/seed tools the reference
// deployment registers by default: a couple of narrow, well-understood
// tools that exercise the Tool Registry (C2) end to end without any
// external-process or sandboxing concerns, which are an out-of-scope
// individual-tool surface.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/anvilrun/anvil/internal/capability"
	"github.com/anvilrun/anvil/pkg/models"
)

// EchoArgs is reflected into a JSON Schema for the echo tool, the way the
// reference's internal/config/schema.go derives a schema from a typed
// struct instead of hand-writing one.
type EchoArgs struct {
	Text string `json:"text" jsonschema:"required,description=Text to echo back"`
}

// CurrentTimeArgs is the (empty) argument struct for the current_time tool.
type CurrentTimeArgs struct{}

func reflectSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	schema := r.Reflect(v)
	raw, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return raw
}

func echoHandler(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	return text, nil
}

func currentTimeHandler(ctx context.Context, call models.ToolCallRequest, args map[string]any) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

// Module is a capability.Module contributing the seed tool suite. It takes
// no configuration and needs nothing from ModuleContext.
type Module struct{}

func (Module) ID() string { return "seed-tools" }

func (Module) Create(ctx capability.ModuleContext) ([]capability.Contribution, error) {
	suite := models.ToolSuite{
		ID: "seed",
		Tools: []models.ToolDefinition{
			{
				Name:        "echo",
				Description: "Echo back the given text.",
				Parameters:  reflectSchema(&EchoArgs{}),
				Handler:     echoHandler,
			},
			{
				Name:        "current_time",
				Description: "Return the current UTC time in RFC 3339 format.",
				Parameters:  reflectSchema(&CurrentTimeArgs{}),
				Handler:     currentTimeHandler,
			},
		},
	}
	return []capability.Contribution{
		{
			ID:        "seed-tools",
			ToolSuite: &suite,
			Metadata:  map[string]any{"description": "Built-in example tools (echo, current_time)."},
		},
	}, nil
}

var _ capability.Module = Module{}
