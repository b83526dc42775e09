package capability

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// ValidateModuleConfig validates a capability module's declared
// configuration against a JSON-Schema document, caching compiled schemas
// by their source text.
func ValidateModuleConfig(schema []byte, config any) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := compileSchema(schema)
	if err != nil {
		return fmt.Errorf("compile capability module schema: %w", err)
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode capability module config: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode capability module config: %w", err)
	}

	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("capability module config invalid: %w", err)
	}
	return nil
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("capability-module.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
