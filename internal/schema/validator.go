// Package schema wraps JSON-Schema compilation and record validation.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Violation describes one schema constraint a record failed.
type Violation struct {
	// Field is the dotted path of the offending property, "(root)" for
	// document-level violations.
	Field string
	// Description is the human-readable constraint description.
	Description string
}

// String renders the violation as "field: description".
func (v Violation) String() string {
	return v.Field + ": " + v.Description
}

// Format renders a violation list for diagnostics.
func Format(violations []Violation) string {
	parts := make([]string, len(violations))
	for i, v := range violations {
		parts[i] = v.String()
	}

	return strings.Join(parts, "; ")
}

// Validator holds one compiled schema for a stream.
type Validator struct {
	compiled *gojsonschema.Schema
}

// Compile parses and compiles a JSON-Schema document. Schemas without a
// $schema declaration are interpreted with Draft 4 semantics, matching the
// Singer protocol's convention.
func Compile(doc json.RawMessage) (*Validator, error) {
	loader := gojsonschema.NewSchemaLoader()
	loader.Draft = gojsonschema.Draft4
	loader.AutoDetect = true

	compiled, err := loader.Compile(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{compiled: compiled}, nil
}

// Validate checks one record payload against the compiled schema and
// returns the list of violations, empty when the record is valid. The
// error return covers validation machinery failures only, never a merely
// invalid record.
func (v *Validator) Validate(record json.RawMessage) ([]Violation, error) {
	result, err := v.compiled.Validate(gojsonschema.NewBytesLoader(record))
	if err != nil {
		return nil, fmt.Errorf("validate record: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	violations := make([]Violation, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		violations = append(violations, Violation{
			Field:       resultErr.Field(),
			Description: resultErr.Description(),
		})
	}

	return violations, nil
}
