package capability

import "testing"

const sampleSchema = `{
	"type": "object",
	"properties": {
		"enabled": {"type": "boolean"},
		"path": {"type": "string"}
	},
	"required": ["path"]
}`

func TestValidateModuleConfigAcceptsMatchingConfig(t *testing.T) {
	err := ValidateModuleConfig([]byte(sampleSchema), map[string]any{
		"enabled": true,
		"path":    "/tmp/data",
	})
	if err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestValidateModuleConfigRejectsMissingRequiredField(t *testing.T) {
	err := ValidateModuleConfig([]byte(sampleSchema), map[string]any{
		"enabled": true,
	})
	if err == nil {
		t.Fatalf("expected missing required field to fail validation")
	}
}

func TestValidateModuleConfigNoSchemaMeansNoValidation(t *testing.T) {
	err := ValidateModuleConfig(nil, map[string]any{"anything": 1})
	if err != nil {
		t.Fatalf("expected nil schema to skip validation, got %v", err)
	}
}

func TestValidateModuleConfigCachesCompiledSchema(t *testing.T) {
	for i := 0; i < 3; i++ {
		if err := ValidateModuleConfig([]byte(sampleSchema), map[string]any{"path": "x"}); err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
	}
}
