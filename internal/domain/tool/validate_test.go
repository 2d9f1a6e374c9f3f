package tool

import "testing"

func TestValidateArguments_NilSchemaAlwaysPasses(t *testing.T) {
	if err := ValidateArguments(nil, map[string]interface{}{"anything": 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArguments_RequiredFieldMissing(t *testing.T) {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
	if err := ValidateArguments(schema, map[string]interface{}{}); err == nil {
		t.Fatal("expected a validation error for a missing required field")
	}
}

func TestValidateArguments_ValidArgumentsPass(t *testing.T) {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
		"required":   []string{"path"},
	}
	if err := ValidateArguments(schema, map[string]interface{}{"path": "/tmp/x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateArguments_WrongType(t *testing.T) {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"count": map[string]interface{}{"type": "integer"}},
	}
	if err := ValidateArguments(schema, map[string]interface{}{"count": "not-a-number"}); err == nil {
		t.Fatal("expected a validation error for a type mismatch")
	}
}
