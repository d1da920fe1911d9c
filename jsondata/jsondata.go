// Package jsondata compiles JSON Schemas once and validates arbitrary JSON
// payloads against them as many times as needed. The mothership package
// uses it to pin down the shape of the two response envelopes the core
// itself reasons about structurally (downloadSettings, endpointCommand).
package jsondata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidSchema holds one compiled JSON Schema, ready to validate payloads
// against.
type ValidSchema struct {
	schema *jsonschema.Schema
}

// New compiles the JSON Schema found at path.
func New(path string) (ValidSchema, error) {
	if path == "" {
		return ValidSchema{}, fmt.Errorf("jsondata: no filename for schema was provided")
	}
	compiler := jsonschema.NewCompiler()
	sch, err := compiler.Compile(path)
	if err != nil {
		return ValidSchema{}, fmt.Errorf("jsondata: compiling %s: %w", path, err)
	}
	return ValidSchema{schema: sch}, nil
}

// NewFromString compiles the JSON Schema in raw, registered under name
// (used only to make compiler error messages legible; it need not resolve
// to anything on disk).
func NewFromString(name, raw string) (ValidSchema, error) {
	if raw == "" {
		return ValidSchema{}, fmt.Errorf("jsondata: no schema content for %s was provided", name)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		return ValidSchema{}, fmt.Errorf("jsondata: adding resource %s: %w", name, err)
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		return ValidSchema{}, fmt.Errorf("jsondata: compiling %s: %w", name, err)
	}
	return ValidSchema{schema: sch}, nil
}

// ValidateDocument reports whether documentContent conforms to sch. A
// malformed schema (the zero ValidSchema) always reports false with no
// error, matching the teacher's "empty schema is a no-op, not a crash"
// convention.
func (sch *ValidSchema) ValidateDocument(documentContent []byte) (bool, error) {
	if sch.schema == nil {
		return false, nil
	}
	var unmarshalled any
	if err := json.Unmarshal(documentContent, &unmarshalled); err != nil {
		return false, fmt.Errorf("jsondata: unmarshaling document: %w", err)
	}
	if err := sch.schema.Validate(unmarshalled); err != nil {
		return false, fmt.Errorf("jsondata: document does not conform to schema: %w", err)
	}
	return true, nil
}
