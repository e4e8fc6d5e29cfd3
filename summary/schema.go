package summary

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teranos/recap/errors"
)

var schemaCache sync.Map // template name -> *jsonschema.Schema

// SchemaFor returns the JSON Schema provider output must satisfy for t
func SchemaFor(t *Template) map[string]any {
	block := map[string]any{
		"anyOf": []any{
			map[string]any{"type": "string"},
			map[string]any{
				"type":     "object",
				"required": []any{"content"},
				"properties": map[string]any{
					"id":      map[string]any{"type": "string"},
					"type":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
					"color":   map[string]any{"type": "string"},
				},
			},
		},
	}
	section := map[string]any{
		"type":     "object",
		"required": []any{"blocks"},
		"properties": map[string]any{
			"title":  map[string]any{"type": "string"},
			"blocks": map[string]any{"type": "array", "items": block},
		},
	}

	props := map[string]any{
		SectionOrderKey: map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	}
	anyOf := make([]any, 0, len(t.Sections))
	for _, s := range t.Sections {
		props[s.Key] = section
		anyOf = append(anyOf, map[string]any{"required": []any{s.Key}})
	}

	return map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": props,
		"anyOf":      anyOf, // at least one known section
	}
}

func compiledSchema(t *Template) (*jsonschema.Schema, error) {
	if s, ok := schemaCache.Load(t.Name); ok {
		return s.(*jsonschema.Schema), nil
	}

	b, err := json.Marshal(SchemaFor(t))
	if err != nil {
		return nil, errors.Wrap(err, "marshal schema")
	}
	url := "template-" + t.Name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, errors.Wrap(err, "add schema")
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, errors.Wrapf(err, "compile schema for template %s", t.Name)
	}
	schemaCache.Store(t.Name, schema)
	return schema, nil
}

// Validate checks a decoded JSON value against the template schema
func (t *Template) Validate(v any) error {
	schema, err := compiledSchema(t)
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return errors.Wrap(err, "output does not match template schema")
	}
	return nil
}
