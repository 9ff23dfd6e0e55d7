package config

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaURL is an in-memory resource identifier; no network or filesystem
// access happens for it since the document is registered directly via
// AddResource rather than resolved from a real URL.
const schemaURL = "mem://qudi-config.schema.json"

// draft07Schema is qudi's config document shape, loose enough to accept any
// module-specific `options:` keys (validated instead by each module's
// Option descriptors at activation time) while still catching the
// structural mistakes spec §7 calls out: a hardware/logic/gui entry missing
// `module.Class`, or a top-level document that isn't a mapping at all.
var draft07Schema = map[string]any{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type":    "object",
	"properties": map[string]any{
		"global": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"startup_modules": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"default_data_dir": map[string]any{"type": "string"},
				"module_server":    map[string]any{"type": "boolean"},
				"remote_modules_server": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"enabled": map[string]any{"type": "boolean"},
						"host":    map[string]any{"type": "string"},
						"port":    map[string]any{"type": "integer"},
					},
				},
			},
		},
		"hardware": map[string]any{"type": "object", "additionalProperties": moduleEntrySchema()},
		"logic":    map[string]any{"type": "object", "additionalProperties": moduleEntrySchema()},
		"gui":      map[string]any{"type": "object", "additionalProperties": moduleEntrySchema()},
	},
}

func moduleEntrySchema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"module.Class"},
		"properties": map[string]any{
			"module.Class": map[string]any{"type": "string"},
			"allow_remote": map[string]any{"type": "boolean"},
			"connect":      map[string]any{"type": "object"},
			"options":      map[string]any{"type": "object"},
		},
	}
}

// Schema validates a decoded config document against the draft-07 shape
// above, wrapping santhosh-tekuri/jsonschema/v6 the same way the teacher's
// jsonschema module wraps it for its own service, but compiling from an
// in-memory literal instead of a file/URL source since the schema is fixed
// at build time rather than supplied by a caller.
type Schema struct {
	compiled *jsonschema.Schema
}

// NewSchema compiles draft07Schema once.
func NewSchema() (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, draft07Schema); err != nil {
		return nil, fmt.Errorf("register config schema: %w", err)
	}
	compiled, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate checks a decoded document (map[string]any, as produced by
// yaml.v3 unmarshalling into `any`) against the schema.
func (s *Schema) Validate(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("%w", err)
	}
	return nil
}
