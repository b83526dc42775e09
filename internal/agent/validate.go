package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// normalizeArguments implements spec §4.2's argument normalization: a
// JSON object is used as-is; a JSON string is parsed as JSON (or treated
// as empty on failure); a flat key/value sequence is paired up;
// everything else normalizes to an empty argument set.
func normalizeArguments(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		return asMap, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(asString), &parsed); err == nil {
			return parsed, nil
		}
		return map[string]any{}, nil
	}

	var asSequence []any
	if err := json.Unmarshal(raw, &asSequence); err == nil {
		return kvSequenceToMap(asSequence), nil
	}

	return map[string]any{}, nil
}

func kvSequenceToMap(seq []any) map[string]any {
	out := make(map[string]any)
	for i := 0; i+1 < len(seq); i += 2 {
		key, ok := seq[i].(string)
		if !ok {
			continue
		}
		out[key] = seq[i+1]
	}
	return out
}

// restrictedSchema is the subset of draft-07 JSON Schema spec §6 permits
// for tool parameters: type=object at the root, with properties/required/
// items/enum/minLength/additionalProperties. No $ref, oneOf, anyOf,
// allOf.
type restrictedSchema struct {
	Type                 string                      `json:"type"`
	Properties           map[string]restrictedSchema `json:"properties"`
	Required             []string                    `json:"required"`
	Items                *restrictedSchema           `json:"items"`
	Enum                 []any                       `json:"enum"`
	MinLength            *int                        `json:"minLength"`
	AdditionalProperties *bool                        `json:"additionalProperties"`
}

// validateArguments validates args against a restricted JSON-Schema
// document, returning a single error whose message concatenates every
// issue found, matching spec §4.2's exact error-message contract.
func validateArguments(schemaDoc []byte, args map[string]any) error {
	var schema restrictedSchema
	if err := json.Unmarshal(schemaDoc, &schema); err != nil {
		return fmt.Errorf("invalid tool schema: %v", err)
	}

	var issues []string
	validateObject(schema, args, &issues)
	if len(issues) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(issues, "; "))
}

func validateObject(schema restrictedSchema, args map[string]any, issues *[]string) {
	for _, req := range schema.Required {
		v, present := args[req]
		if !present || v == nil {
			*issues = append(*issues, fmt.Sprintf("Missing required property %q.", req))
		}
	}

	if schema.AdditionalProperties != nil && !*schema.AdditionalProperties {
		for key := range args {
			if _, declared := schema.Properties[key]; !declared {
				*issues = append(*issues, fmt.Sprintf("Unexpected property %q.", key))
			}
		}
	}

	for name, propSchema := range schema.Properties {
		v, present := args[name]
		if !present || v == nil {
			continue
		}
		validateValue(name, propSchema, v, issues)
	}
}

func validateValue(name string, schema restrictedSchema, v any, issues *[]string) {
	if len(schema.Enum) > 0 && !enumContains(schema.Enum, v) {
		*issues = append(*issues, fmt.Sprintf("Property %q must be one of the allowed values.", name))
		return
	}

	switch schema.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			*issues = append(*issues, fmt.Sprintf("Property %q must be a string.", name))
			return
		}
		if schema.MinLength != nil && len(s) < *schema.MinLength {
			*issues = append(*issues, fmt.Sprintf("Property %q must be at least %d characters.", name, *schema.MinLength))
		}
	case "number":
		if _, ok := v.(float64); !ok {
			*issues = append(*issues, fmt.Sprintf("Property %q must be a number.", name))
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			*issues = append(*issues, fmt.Sprintf("Property %q must be a boolean.", name))
		}
	case "array":
		arr, ok := v.([]any)
		if !ok {
			*issues = append(*issues, fmt.Sprintf("Property %q must be an array.", name))
			return
		}
		if schema.Items != nil {
			for i, item := range arr {
				validateValue(fmt.Sprintf("%s[%d]", name, i), *schema.Items, item, issues)
			}
		}
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			*issues = append(*issues, fmt.Sprintf("Property %q must be an object.", name))
			return
		}
		validateObject(schema, obj, issues)
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
