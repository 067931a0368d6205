// Package validation checks configuration documents against the JSON schema
// generated from config.Config, before they are decoded.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/reglet-dev/memexchange/application/schema"
)

const resourceName = "memexchange-config.json"

// FieldError is one schema violation.
type FieldError struct {
	// Field is the JSON pointer of the offending value, "" for the document.
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of validating one document.
type Result struct {
	Errors []FieldError `json:"errors,omitempty"`
	Valid  bool         `json:"valid"`
}

// Err returns nil for a valid result and an error listing every violation
// otherwise.
func (r *Result) Err() error {
	if r.Valid {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, fe := range r.Errors {
		field := fe.Field
		if field == "" {
			field = "/"
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Message))
	}
	return fmt.Errorf("config does not match schema: %s", strings.Join(msgs, "; "))
}

// ConfigValidator validates YAML configuration documents.
type ConfigValidator struct {
	schema *jsonschema.Schema
}

// NewConfigValidator compiles the configuration schema.
func NewConfigValidator() (*ConfigValidator, error) {
	raw, err := schema.ConfigSchema()
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add config schema: %w", err)
	}
	sch, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("invalid config schema: %w", err)
	}
	return &ConfigValidator{schema: sch}, nil
}

// Validate checks a YAML document. It returns an error only when the
// document cannot be read at all; schema violations are reported in the
// Result.
func (v *ConfigValidator) Validate(data []byte) (*Result, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	// Round-trip through JSON so values have the types the validator expects.
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare validation object: %w", err)
	}
	var obj any
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, fmt.Errorf("failed to prepare validation object: %w", err)
	}

	result := &Result{Valid: true}
	if err := v.schema.Validate(obj); err != nil {
		result.Valid = false
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			result.Errors = append(result.Errors, FieldError{Message: err.Error()})
			return result, nil
		}
		collect(ve, &result.Errors)
	}
	return result, nil
}

// collect appends the leaves of a validation error tree.
func collect(ve *jsonschema.ValidationError, out *[]FieldError) {
	if len(ve.Causes) == 0 {
		*out = append(*out, FieldError{Field: ve.InstanceLocation, Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collect(c, out)
	}
}
