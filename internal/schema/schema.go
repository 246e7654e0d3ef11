// Package schema validates Command Dispatcher argument payloads (spec.md
// §4.7) against a JSON Schema, the same schema type the teacher's MCP tool
// surface used for its own argument validation boundary — repurposed here
// for CNC command arguments instead of LLM tool-call arguments.
package schema

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema re-exports jsonschema.Schema so callers in internal/dispatch don't
// need a second import for the same type.
type Schema = jsonschema.Schema

// Object builds an object schema with the given properties, all required.
func Object(props map[string]*Schema) *Schema {
	required := make([]string, 0, len(props))
	for name := range props {
		required = append(required, name)
	}

	return &Schema{Type: "object", Properties: props, Required: required}
}

// String returns a string-typed schema.
func String() *Schema { return &Schema{Type: "string"} }

// Integer returns an integer-typed schema.
func Integer() *Schema { return &Schema{Type: "integer"} }

// Number returns a number-typed schema.
func Number() *Schema { return &Schema{Type: "number"} }

// StringArray returns an array-of-strings schema.
func StringArray() *Schema { return &Schema{Type: "array", Items: String()} }

// Validate checks args against schema's declared Type/Properties/Required,
// returning the first violation found. Nested schemas (object properties,
// array items) are checked recursively.
func Validate(s *Schema, value any) error {
	if s == nil {
		return nil
	}

	switch s.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", value)
		}

		for _, name := range s.Required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("missing required field %q", name)
			}
		}

		for name, propSchema := range s.Properties {
			v, present := obj[name]
			if !present {
				continue
			}

			if err := Validate(propSchema, v); err != nil {
				return fmt.Errorf("field %q: %w", name, err)
			}
		}

		return nil
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}

		for i, item := range items {
			if err := Validate(s.Items, item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}

		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string, got %T", value)
		}

		return nil
	case "integer":
		switch value.(type) {
		case int, int32, int64, float64:
			return nil
		default:
			return fmt.Errorf("expected integer, got %T", value)
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return nil
		default:
			return fmt.Errorf("expected number, got %T", value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}

		return nil
	default:
		return nil
	}
}
