// Package schema generates JSON schemas for memexchange configuration.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/reglet-dev/memexchange/application/config"
)

// Option configures the reflector used by GenerateSchema.
type Option func(*jsonschema.Reflector)

// WithFieldNameTag names properties after the given struct tag instead of json.
func WithFieldNameTag(tag string) Option {
	return func(r *jsonschema.Reflector) {
		r.FieldNameTag = tag
	}
}

// WithAdditionalProperties controls whether unknown keys are allowed.
func WithAdditionalProperties(allow bool) Option {
	return func(r *jsonschema.Reflector) {
		r.AllowAdditionalProperties = allow
	}
}

// GenerateSchema creates a JSON schema from a Go struct.
// It uses the `invopop/jsonschema` library to reflect on the struct
// and generate a standard JSON Schema (Draft 2020-12).
func GenerateSchema(v any, opts ...Option) ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct: true, // Expand struct definitions inline
	}
	for _, opt := range opts {
		opt(&reflector)
	}
	schema := reflector.Reflect(v)

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}

	return jsonBytes, nil
}

// ConfigSchema returns the schema of the YAML configuration file. Every key
// is optional; unset keys take their defaults.
func ConfigSchema() ([]byte, error) {
	return GenerateSchema(config.Config{},
		WithFieldNameTag("yaml"),
		WithAdditionalProperties(false),
		func(r *jsonschema.Reflector) { r.RequiredFromJSONSchemaTags = true },
	)
}
