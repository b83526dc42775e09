package agent

import (
	"encoding/json"
	"testing"
)

func TestNormalizeArgumentsObjectPassesThrough(t *testing.T) {
	args, err := normalizeArguments(json.RawMessage(`{"a":1}`))
	if err != nil || args["a"] != float64(1) {
		t.Fatalf("got %+v, %v", args, err)
	}
}

func TestNormalizeArgumentsJSONStringIsParsed(t *testing.T) {
	args, err := normalizeArguments(json.RawMessage(`"{\"a\":2}"`))
	if err != nil || args["a"] != float64(2) {
		t.Fatalf("got %+v, %v", args, err)
	}
}

func TestNormalizeArgumentsUnparsableStringIsEmpty(t *testing.T) {
	args, err := normalizeArguments(json.RawMessage(`"not json"`))
	if err != nil || len(args) != 0 {
		t.Fatalf("got %+v, %v", args, err)
	}
}

func TestNormalizeArgumentsKVSequence(t *testing.T) {
	args, err := normalizeArguments(json.RawMessage(`["x", 1, "y", "z"]`))
	if err != nil || args["x"] != float64(1) || args["y"] != "z" {
		t.Fatalf("got %+v, %v", args, err)
	}
}

func TestNormalizeArgumentsEmptyIsEmptyMap(t *testing.T) {
	args, err := normalizeArguments(json.RawMessage(``))
	if err != nil || len(args) != 0 {
		t.Fatalf("got %+v, %v", args, err)
	}
}

func TestValidateArgumentsMissingRequiredProperty(t *testing.T) {
	schema := []byte(`{"type":"object","required":["message"],"properties":{"message":{"type":"string"}}}`)
	err := validateArguments(schema, map[string]any{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	want := `Missing required property "message".`
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestValidateArgumentsRejectsAdditionalProperties(t *testing.T) {
	f := false
	schemaDoc := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"a": map[string]any{"type": "string"}},
		"additionalProperties": f,
	}
	raw, _ := json.Marshal(schemaDoc)
	err := validateArguments(raw, map[string]any{"a": "x", "b": "y"})
	if err == nil {
		t.Fatalf("expected unexpected-property validation error")
	}
}

func TestValidateArgumentsEnumMismatch(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"mode":{"type":"string","enum":["a","b"]}}}`)
	err := validateArguments(schema, map[string]any{"mode": "c"})
	if err == nil {
		t.Fatalf("expected enum validation error")
	}
}

func TestValidateArgumentsValidPayloadPasses(t *testing.T) {
	schema := []byte(`{"type":"object","required":["path"],"properties":{"path":{"type":"string","minLength":1}}}`)
	if err := validateArguments(schema, map[string]any{"path": "a.go"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateArgumentsMinLengthViolation(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"path":{"type":"string","minLength":3}}}`)
	if err := validateArguments(schema, map[string]any{"path": "a"}); err == nil {
		t.Fatalf("expected minLength validation error")
	}
}

func TestValidateArgumentsArrayItems(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"tags":{"type":"array","items":{"type":"string"}}}}`)
	if err := validateArguments(schema, map[string]any{"tags": []any{"a", 1}}); err == nil {
		t.Fatalf("expected array item type validation error")
	}
}

func TestValidateArgumentsNoSchemaMeansNoValidation(t *testing.T) {
	// validateArguments itself always validates against the given schema;
	// the "no schema means no validation" rule is enforced by the
	// caller (Execute) skipping the call entirely when Parameters is
	// empty, exercised via Registry tests.
}
