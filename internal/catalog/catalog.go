// Package catalog implements the descriptor catalogue: the
// immutable, in-memory registry of callable functions, their parameter
// and schema metadata, and the MCP server tool inventory loaded once at
// startup from a manifest document.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/paramvalidate"
)

// AuthSchemeKind tags an ApiDescriptor's auth variant.
type AuthSchemeKind string

const (
	AuthBearer AuthSchemeKind = "bearer"
	AuthAPIKey AuthSchemeKind = "api_key"
	AuthBasic  AuthSchemeKind = "basic"
)

// AuthScheme describes how an API expects credentials to be attached.
type AuthScheme struct {
	Kind   AuthSchemeKind `json:"kind"`
	Header string         `json:"header,omitempty"` // Bearer/ApiKey header name
	Prefix string         `json:"prefix,omitempty"` // Bearer prefix, e.g. "Bearer "
}

// ApiDescriptor describes one upstream HTTP API.
type ApiDescriptor struct {
	Name       string      `json:"name"`
	BaseURL    string      `json:"base_url"`
	AuthScheme *AuthScheme `json:"auth_scheme,omitempty"`
}

// HTTPMethod enumerates the supported request methods.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodPatch  HTTPMethod = "PATCH"
	MethodDelete HTTPMethod = "DELETE"
)

// ParamLocation is where a parameter is attached to the request.
type ParamLocation string

const (
	LocationPath   ParamLocation = "path"
	LocationQuery  ParamLocation = "query"
	LocationHeader ParamLocation = "header"
)

// ParamKind is the VM-visible scalar type of a parameter.
type ParamKind string

const (
	KindString  ParamKind = "string"
	KindInteger ParamKind = "integer"
	KindNumber  ParamKind = "number"
	KindBoolean ParamKind = "boolean"
)

// ParamDescriptor describes one function parameter.
type ParamDescriptor struct {
	Name     string        `json:"name"`
	Location ParamLocation `json:"location"`
	Kind     ParamKind     `json:"kind"`
	Required bool          `json:"required"`
	Default  *string       `json:"default,omitempty"`
	Enum     []string      `json:"enum_values,omitempty"`
	Format   string        `json:"format,omitempty"`

	// FrozenValue, when set, hides the parameter from the VM surface and
	// is injected verbatim at call time, bypassing validation entirely.
	FrozenValue *string `json:"frozen_value,omitempty"`
}

// IsFrozen reports whether this parameter is server-injected.
func (p *ParamDescriptor) IsFrozen() bool { return p.FrozenValue != nil }

// RequestBodyDescriptor describes a function's optional request body.
type RequestBodyDescriptor struct {
	ContentType string `json:"content_type"`
	SchemaRef   string `json:"schema_ref,omitempty"`
	Required    bool   `json:"required"`
}

// FunctionDescriptor describes one callable HTTP-backed function.
type FunctionDescriptor struct {
	Name           string                 `json:"name"`
	API            string                 `json:"api"`
	Method         HTTPMethod             `json:"method"`
	PathTemplate   string                 `json:"path_template"`
	Parameters     []ParamDescriptor      `json:"parameters"`
	RequestBody    *RequestBodyDescriptor `json:"request_body,omitempty"`
	ResponseSchema string                 `json:"response_schema,omitempty"`

	// Supplemented from the original manifest shape (codegen/manifest.rs):
	// documentation metadata, not required by any runtime invariant.
	Tag         string `json:"tag,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Deprecated  bool   `json:"deprecated,omitempty"`
}

// VisibleParameters returns the parameters not bypassed via frozen_value,
// in declaration order — the set the binder must render into the VM
// calling convention.
func (f *FunctionDescriptor) VisibleParameters() []ParamDescriptor {
	out := make([]ParamDescriptor, 0, len(f.Parameters))
	for _, p := range f.Parameters {
		if !p.IsFrozen() {
			out = append(out, p)
		}
	}
	return out
}

// HasBody reports whether this function accepts a request body.
func (f *FunctionDescriptor) HasBody() bool { return f.RequestBody != nil }

// FieldTypeKind tags a TypeDescriptor field's shape.
type FieldTypeKind string

const (
	FieldScalarString  FieldTypeKind = "string"
	FieldScalarInteger FieldTypeKind = "integer"
	FieldScalarNumber  FieldTypeKind = "number"
	FieldScalarBoolean FieldTypeKind = "boolean"
	FieldArray         FieldTypeKind = "array"
	FieldReference     FieldTypeKind = "reference"
	FieldRecord        FieldTypeKind = "record"
	FieldMap           FieldTypeKind = "map"
)

// FieldType is the recursive type shape of a TypeDescriptor field.
type FieldType struct {
	Kind FieldTypeKind `json:"kind"`

	// FieldArray / FieldMap: element type.
	Of *FieldType `json:"of,omitempty"`

	// FieldReference: name of a TypeDescriptor in the same catalogue.
	RefName string `json:"ref_name,omitempty"`

	// FieldRecord: inline fields.
	Fields []TypeField `json:"fields,omitempty"`

	// Supplemented from the original: propagated OpenAPI format keyword.
	Format string `json:"format,omitempty"`
}

// TypeField is one named field of a TypeDescriptor.
type TypeField struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Nullable bool      `json:"nullable"`
	Enum     []string  `json:"enum,omitempty"`
	Format   string    `json:"format,omitempty"`
}

// TypeDescriptor describes a named, recursive schema type.
type TypeDescriptor struct {
	Name   string      `json:"name"`
	Fields []TypeField `json:"fields"`
}

// McpToolParam describes one parameter of an MCP tool, as surfaced in the
// catalogue's documentation metadata.
type McpToolParam struct {
	Name        string `json:"name"`
	LuauType    string `json:"luau_type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// McpTool describes one tool exposed by an MCP server.
type McpTool struct {
	Name          string           `json:"name"`
	Server        string           `json:"server"`
	Params        []McpToolParam   `json:"params"`
	Schemas       []TypeDescriptor `json:"schemas,omitempty"`
	OutputSchemas []TypeDescriptor `json:"output_schemas,omitempty"`
}

// McpServerDescriptor describes one configured upstream MCP server and
// the tools the catalogue knows about for it.
type McpServerDescriptor struct {
	Name  string    `json:"name"`
	Tools []McpTool `json:"tools"`
}

// Manifest is the on-disk document C1 loads at startup.
type Manifest struct {
	Apis       []ApiDescriptor       `json:"apis"`
	Functions  []FunctionDescriptor  `json:"functions"`
	Schemas    []TypeDescriptor      `json:"schemas"`
	McpServers []McpServerDescriptor `json:"mcp_servers,omitempty"`
}

// Catalog is the loaded, validated, immutable descriptor registry.
type Catalog struct {
	apisByName      map[string]ApiDescriptor
	functionsByName map[string]FunctionDescriptor
	schemasByName   map[string]TypeDescriptor
	mcpServers      map[string]McpServerDescriptor
}

// LoadManifest parses raw JSON and builds a validated Catalog.
func LoadManifest(raw []byte) (*Catalog, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, corerr.InvalidArgument("malformed manifest: %v", err)
	}
	return FromManifest(m)
}

// FromManifest validates a parsed Manifest and builds a Catalog.
func FromManifest(m Manifest) (*Catalog, error) {
	c := &Catalog{
		apisByName:      make(map[string]ApiDescriptor, len(m.Apis)),
		functionsByName: make(map[string]FunctionDescriptor, len(m.Functions)),
		schemasByName:   make(map[string]TypeDescriptor, len(m.Schemas)),
		mcpServers:      make(map[string]McpServerDescriptor, len(m.McpServers)),
	}
	for _, a := range m.Apis {
		if _, dup := c.apisByName[a.Name]; dup {
			return nil, corerr.InvalidArgument("duplicate api name %q", a.Name)
		}
		c.apisByName[a.Name] = a
	}
	for _, f := range m.Functions {
		if _, dup := c.functionsByName[f.Name]; dup {
			return nil, corerr.InvalidArgument("duplicate function name %q", f.Name)
		}
		if _, ok := c.apisByName[f.API]; !ok {
			return nil, corerr.InvalidArgument("function %q references unknown api %q", f.Name, f.API)
		}
		if err := validatePathPlaceholders(f); err != nil {
			return nil, err
		}
		if err := validateStaticParamValues(f); err != nil {
			return nil, err
		}
		c.functionsByName[f.Name] = f
	}
	for _, s := range m.Schemas {
		c.schemasByName[s.Name] = s
	}
	for _, s := range m.McpServers {
		c.mcpServers[s.Name] = s
	}
	return c, nil
}

func validatePathPlaceholders(f FunctionDescriptor) error {
	for _, p := range f.Parameters {
		if p.Location != LocationPath || p.IsFrozen() {
			continue
		}
		placeholder := fmt.Sprintf("{%s}", p.Name)
		if !strings.Contains(f.PathTemplate, placeholder) {
			return corerr.InvalidArgument(
				"function %q: path parameter %q has no matching {%s} placeholder in %q",
				f.Name, p.Name, p.Name, f.PathTemplate)
		}
	}
	return nil
}

// validateStaticParamValues rejects a manifest whose own default or
// frozen parameter values don't satisfy the format they declare, so a
// bad manifest fails fast at load time rather than on first call.
func validateStaticParamValues(f FunctionDescriptor) error {
	for _, p := range f.Parameters {
		if p.Default != nil {
			if err := paramvalidate.ValidateStatic(p.Name, p.Format, *p.Default); err != nil {
				return corerr.InvalidArgument("function %q: %v", f.Name, err)
			}
		}
		if p.FrozenValue != nil {
			if err := paramvalidate.ValidateStatic(p.Name, p.Format, *p.FrozenValue); err != nil {
				return corerr.InvalidArgument("function %q: %v", f.Name, err)
			}
		}
	}
	return nil
}

// Function looks up a function descriptor by name.
func (c *Catalog) Function(name string) (FunctionDescriptor, bool) {
	f, ok := c.functionsByName[name]
	return f, ok
}

// API looks up an API descriptor by name.
func (c *Catalog) API(name string) (ApiDescriptor, bool) {
	a, ok := c.apisByName[name]
	return a, ok
}

// Schema looks up a named type descriptor.
func (c *Catalog) Schema(name string) (TypeDescriptor, bool) {
	s, ok := c.schemasByName[name]
	return s, ok
}

// McpServer looks up an MCP server descriptor by name.
func (c *Catalog) McpServer(name string) (McpServerDescriptor, bool) {
	s, ok := c.mcpServers[name]
	return s, ok
}

// Functions returns every function descriptor, in no particular order.
func (c *Catalog) Functions() []FunctionDescriptor {
	out := make([]FunctionDescriptor, 0, len(c.functionsByName))
	for _, f := range c.functionsByName {
		out = append(out, f)
	}
	return out
}

// McpServers returns every configured MCP server descriptor.
func (c *Catalog) McpServers() []McpServerDescriptor {
	out := make([]McpServerDescriptor, 0, len(c.mcpServers))
	for _, s := range c.mcpServers {
		out = append(out, s)
	}
	return out
}

// Stats summarizes the catalogue's contents for operational visibility.
type Stats struct {
	Apis       int `json:"apis"`
	Functions  int `json:"functions"`
	Schemas    int `json:"schemas"`
	McpServers int `json:"mcp_servers"`
}

// Stats returns counts of every descriptor kind in the catalogue.
func (c *Catalog) Stats() Stats {
	return Stats{
		Apis:       len(c.apisByName),
		Functions:  len(c.functionsByName),
		Schemas:    len(c.schemasByName),
		McpServers: len(c.mcpServers),
	}
}
