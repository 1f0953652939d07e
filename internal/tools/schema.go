package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrValidation matches every argument validation failure.
	ErrValidation = errors.New("invalid tool arguments")
	// ErrUnknownTool is returned for names outside the catalog.
	ErrUnknownTool = errors.New("unknown tool")
)

// ValidationError lists the schema violations of one tool call.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid arguments: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(op Op, format string, args ...any) error {
	return &ValidationError{Tool: op.String(), Problems: []string{fmt.Sprintf(format, args...)}}
}

// validator holds one compiled schema per op.
type validator struct {
	schemas [opCount]*gojsonschema.Schema
}

func newValidator() (*validator, error) {
	v := &validator{}
	for _, op := range Ops() {
		s, ok := specs[op]
		if !ok {
			return nil, fmt.Errorf("tool %s has no schema", op)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(s.params))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", op, err)
		}
		v.schemas[op] = schema
	}
	return v, nil
}

// normalizeArgs maps empty arguments to an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

func (v *validator) validate(op Op, args json.RawMessage) error {
	if !json.Valid(args) {
		return invalid(op, "arguments are not valid JSON")
	}
	result, err := v.schemas[op].Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return invalid(op, "schema validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &ValidationError{Tool: op.String(), Problems: problems}
}
