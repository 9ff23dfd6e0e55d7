package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a loaded config file: the typed RootConfig view plus the raw
// yaml.v3 node tree it came from. Keeping the node tree is what lets Save
// round-trip keys RootConfig doesn't model (L1), since yaml.Node preserves
// comments, key order, and any section this package never parses into a
// typed field.
type Document struct {
	Root *RootConfig
	node yaml.Node
	path string
}

// Load reads, schema-validates, and parses the config file at path.
// Validation runs before the typed decode so a malformed document is
// rejected with a precise JSON-Schema error (spec §7's "fail fast, never
// silently") rather than a zero-valued RootConfig silently built from
// partial data.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	var decoded any
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	schema, err := NewSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(decoded); err != nil {
		return nil, fmt.Errorf("config %s failed schema validation: %w", path, err)
	}

	root := &RootConfig{Modules: make(map[string]ModuleConfig), raw: decoded}
	if err := yaml.Unmarshal(data, root); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	docMap, _ := decoded.(map[string]any)
	firstKind := make(map[string]string)
	for _, kind := range []string{"logic", "hardware", "gui"} {
		section, ok := docMap[kind].(map[string]any)
		if !ok {
			continue
		}
		for name := range section {
			if existing, dup := firstKind[name]; dup {
				return nil, fmt.Errorf("%s.%s: %q already defined under %q", kind, name, name, existing)
			}
			firstKind[name] = kind

			var mc ModuleConfig
			bs, _ := yaml.Marshal(section[name])
			if err := yaml.Unmarshal(bs, &mc); err != nil {
				return nil, fmt.Errorf("decode %s.%s: %w", kind, name, err)
			}
			mc.Name = name
			mc.Kind = kind
			root.Modules[name] = mc
		}
	}

	if root.Global.DataDir == "" {
		root.Global.DataDir = DefaultDataDir()
	}

	return &Document{Root: root, node: node, path: path}, nil
}

// Save writes the document's node tree back to its original path exactly
// as it was read. Changes made to Root after Load, including the
// auto-resolved global.default_data_dir, are not written back. This is the
// round-trip fidelity law from spec §4.1: unknown or additive keys survive
// a load/save cycle unchanged.
func (d *Document) Save() error {
	out, err := yaml.Marshal(&d.node)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(d.path, out, 0o644)
}
