package schema

import (
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"jsonrel/internal/jsonvalue"
)

// ErrValidationFailure is returned when a document does not conform to a schema.
var ErrValidationFailure = errors.New("schema: validation failure")

// ToJSONSchema renders n as a JSON Schema document.
func ToJSONSchema(n *Node) *jsonschema.Schema {
	if n == nil {
		return &jsonschema.Schema{}
	}
	s := &jsonschema.Schema{}
	switch len(n.Types) {
	case 0:
	case 1:
		s.Type = string(n.Types[0])
	default:
		for _, t := range n.Types {
			s.Types = append(s.Types, string(t))
		}
	}
	if len(n.Properties) > 0 {
		s.Properties = make(map[string]*jsonschema.Schema, len(n.Properties))
		for _, p := range n.Properties {
			s.Properties[p.Name] = ToJSONSchema(p.Schema)
		}
		s.Required = n.Required()
	}
	if n.Items != nil {
		s.Items = ToJSONSchema(n.Items)
	}
	return s
}

// Validate checks doc against n.
//
// Errors:
//   - ErrValidationFailure wraps the validator's message when doc does not conform.
//   - A resolve error (not ErrValidationFailure) means the schema itself is unusable.
func Validate(n *Node, doc jsonvalue.Value) error {
	resolved, err := ToJSONSchema(n).Resolve(nil)
	if err != nil {
		return fmt.Errorf("schema: resolve: %w", err)
	}
	if err := resolved.Validate(doc.Interface()); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailure, err)
	}
	return nil
}

// Report validates doc against n and returns a one-line human readable verdict
// together with the validation error, if any.
func Report(n *Node, doc jsonvalue.Value) (string, error) {
	if err := Validate(n, doc); err != nil {
		return "validation failed: " + err.Error(), err
	}
	return "validation passed", nil
}
