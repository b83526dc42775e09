package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anvilrun/anvil/internal/agent"
)

// ToAnthropicTools converts provider-neutral tool specs to Anthropic tool
// definitions.
func ToAnthropicTools(tools []agent.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		param, err := ToAnthropicTool(tool)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

// ToAnthropicTool converts a single tool spec to an Anthropic tool
// definition.
func ToAnthropicTool(tool agent.ToolSpec) (anthropic.ToolUnionParam, error) {
	var schema anthropic.ToolInputSchemaParam
	params := tool.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	if err := json.Unmarshal(params, &schema); err != nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
	}

	toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
	if toolParam.OfTool == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
	}
	toolParam.OfTool.Description = anthropic.String(tool.Description)
	return toolParam, nil
}
