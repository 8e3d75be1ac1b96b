// Package schemacheck compiles catalogue TypeDescriptors into JSON Schema
// and validates request bodies and response payloads against them, using
// kaptinlin/jsonschema to compile and run the checks.
package schemacheck

import (
	"encoding/json"
	"sync"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/kaptinlin/jsonschema"
)

// Checker compiles and caches JSON Schemas derived from a catalogue's
// named TypeDescriptors.
type Checker struct {
	cat      *catalog.Catalog
	compiler *jsonschema.Compiler

	mu     sync.Mutex
	cached map[string]*jsonschema.Schema
}

// New builds a Checker bound to cat. Compilation is lazy and cached per
// schema name.
func New(cat *catalog.Catalog) *Checker {
	return &Checker{
		cat:      cat,
		compiler: jsonschema.NewCompiler(),
		cached:   make(map[string]*jsonschema.Schema),
	}
}

// Validate checks value against the named schema, returning an
// UpstreamError describing every violation. A schema name that does not
// resolve in the catalogue, or an empty name, is a no-op: the caller only
// reaches here when a response_schema or schema_ref was actually set.
func (c *Checker) Validate(schemaName string, value any) error {
	if schemaName == "" {
		return nil
	}
	schema, err := c.compile(schemaName)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	result := schema.Validate(value)
	if result.Valid {
		return nil
	}
	return corerr.UpstreamError("response violates schema %q: %v", schemaName, result.Errors)
}

func (c *Checker) compile(name string) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cached[name]; ok {
		return s, nil
	}
	if _, ok := c.cat.Schema(name); !ok {
		return nil, nil
	}

	b := &schemaBuilder{cat: c.cat, defs: map[string]any{}, visited: map[string]bool{}}
	b.collectDef(name)
	doc := map[string]any{
		"$ref":  "#/$defs/" + name,
		"$defs": b.defs,
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, corerr.Internal("marshal schema %q: %v", name, err)
	}
	schema, err := c.compiler.Compile(raw)
	if err != nil {
		return nil, corerr.Internal("compile schema %q: %v", name, err)
	}
	c.cached[name] = schema
	return schema, nil
}

// schemaBuilder renders catalogue TypeDescriptors into a JSON Schema
// $defs map, one entry per named type. Named types are emitted once
// each (visited guards against re-entering a name already being built)
// and referenced by $ref rather than inlined, so a self-referential or
// mutually-recursive TypeDescriptor terminates instead of recursing
// through Go's call stack without bound.
type schemaBuilder struct {
	cat     *catalog.Catalog
	defs    map[string]any
	visited map[string]bool
}

// collectDef adds name's object schema to defs, recursively collecting
// every named type it transitively references.
func (b *schemaBuilder) collectDef(name string) {
	if b.visited[name] {
		return
	}
	b.visited[name] = true
	td, ok := b.cat.Schema(name)
	if !ok {
		return
	}
	b.defs[name] = b.toJSONSchema(td)
}

func (b *schemaBuilder) toJSONSchema(td catalog.TypeDescriptor) map[string]any {
	properties := make(map[string]any, len(td.Fields))
	var required []string
	for _, f := range td.Fields {
		properties[f.Name] = b.fieldTypeToJSONSchema(f.Type)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func (b *schemaBuilder) fieldTypeToJSONSchema(ft catalog.FieldType) map[string]any {
	switch ft.Kind {
	case catalog.FieldScalarString:
		out := map[string]any{"type": "string"}
		if ft.Format != "" {
			out["format"] = ft.Format
		}
		return out
	case catalog.FieldScalarInteger:
		return map[string]any{"type": "integer"}
	case catalog.FieldScalarNumber:
		return map[string]any{"type": "number"}
	case catalog.FieldScalarBoolean:
		return map[string]any{"type": "boolean"}
	case catalog.FieldArray:
		if ft.Of == nil {
			return map[string]any{"type": "array"}
		}
		return map[string]any{
			"type":  "array",
			"items": b.fieldTypeToJSONSchema(*ft.Of),
		}
	case catalog.FieldMap:
		if ft.Of == nil {
			return map[string]any{"type": "object"}
		}
		return map[string]any{
			"type":                 "object",
			"additionalProperties": b.fieldTypeToJSONSchema(*ft.Of),
		}
	case catalog.FieldRecord:
		properties := make(map[string]any, len(ft.Fields))
		var required []string
		for _, f := range ft.Fields {
			properties[f.Name] = b.fieldTypeToJSONSchema(f.Type)
			if f.Required {
				required = append(required, f.Name)
			}
		}
		out := map[string]any{"type": "object", "properties": properties}
		if len(required) > 0 {
			out["required"] = required
		}
		return out
	case catalog.FieldReference:
		if _, ok := b.cat.Schema(ft.RefName); ok {
			b.collectDef(ft.RefName)
			return map[string]any{"$ref": "#/$defs/" + ft.RefName}
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}
}
