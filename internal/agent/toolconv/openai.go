package toolconv

import (
	"encoding/json"

	"github.com/anvilrun/anvil/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts provider-neutral tool specs to OpenAI function
// schema.
func ToOpenAITools(tools []agent.ToolSpec) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schemaMap map[string]any
		if len(tool.Parameters) == 0 {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		} else if err := json.Unmarshal(tool.Parameters, &schemaMap); err != nil {
			schemaMap = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schemaMap,
			},
		}
	}
	return result
}
