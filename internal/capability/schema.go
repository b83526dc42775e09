package capability

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ConfigValidator is implemented by a Module whose own configuration (not
// a tool's arguments — C2 hand-validates those against its own restricted
// dialect) should be checked against a JSON Schema before the module is
// allowed to Create contributions.
type ConfigValidator interface {
	ConfigSchema() []byte
	Config() any
}

// ValidateModuleConfig compiles schemaJSON and validates config against it.
// A nil schema is treated as "no constraints".
func ValidateModuleConfig(schemaJSON []byte, config any) error {
	if len(schemaJSON) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("module-config.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("capability: compile module config schema: %w", err)
	}
	schema, err := compiler.Compile("module-config.json")
	if err != nil {
		return fmt.Errorf("capability: compile module config schema: %w", err)
	}

	// jsonschema validates decoded JSON values (map[string]any, []any,
	// string, float64, bool, nil), so round-trip typed config through
	// encoding/json rather than requiring callers to pre-decode it.
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("capability: marshal module config: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("capability: decode module config: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("capability: module config failed schema validation: %w", err)
	}
	return nil
}

// RegisterValidatedModule validates m's declared config against its schema
// (if m implements ConfigValidator) before registering it.
func (h *Host) RegisterValidatedModule(m Module) error {
	if cv, ok := m.(ConfigValidator); ok {
		if err := ValidateModuleConfig(cv.ConfigSchema(), cv.Config()); err != nil {
			return err
		}
	}
	return h.RegisterModule(m)
}
