package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks args against a tool's JSON Schema, returning
// a descriptive error if validation fails. Used by the turn engine
// before invoking a tool (§8: "Tool with arguments that fail schema
// validation: emits a synthetic tool-result(error) without invoking
// the tool").
func ValidateArguments(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	unmarshalled, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode schema: %w", err)
	}
	const resourceName = "argument-schema.json"
	if err := compiler.AddResource(resourceName, unmarshalled); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	argsRaw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	argsAny, err := jsonschema.UnmarshalJSON(bytes.NewReader(argsRaw))
	if err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return compiled.Validate(argsAny)
}
