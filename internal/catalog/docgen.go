package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// LuauSignature renders f's calling convention as Luau-style inline type
// annotation text: an `export type` params record (when f has visible
// parameters) plus a function signature line using `?` for optional
// fields and a union of string literals for an enum domain — the "type
// annotation syntax used for the generated surface" spec.md's VM Host
// section requires, generated here since the OpenAPI-to-manifest
// collaborator that would otherwise own this text is out of scope for
// the core. This is documentation only: gopher-lua has no type checker
// to enforce it at runtime.
func (f *FunctionDescriptor) LuauSignature() string {
	visible := f.VisibleParameters()
	hasBody := f.HasBody()

	var b strings.Builder
	typeName := paramsTypeName(f.Name)
	if len(visible) > 0 {
		b.WriteString(fmt.Sprintf("export type %s = {\n", typeName))
		for _, p := range visible {
			b.WriteString("  " + paramFieldLine(p) + "\n")
		}
		b.WriteString("}\n")
	}

	sig := "function sdk." + f.Name + "("
	switch {
	case len(visible) > 0 && hasBody:
		sig += "params: " + typeName + ", body: any"
	case len(visible) > 0:
		sig += "params: " + typeName
	case hasBody:
		sig += "body: any"
	}
	sig += "): any"
	b.WriteString(sig)
	return b.String()
}

func paramsTypeName(funcName string) string {
	parts := strings.Split(funcName, "_")
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	b.WriteString("Params")
	return b.String()
}

// paramFieldLine renders one record field: `name?: type,` with type
// narrowed to a union of string literals when the parameter declares an
// enum domain.
func paramFieldLine(p ParamDescriptor) string {
	typeExpr := luauTypeName(p.Kind)
	if len(p.Enum) > 0 {
		quoted := make([]string, len(p.Enum))
		for i, v := range p.Enum {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		typeExpr = strings.Join(quoted, " | ")
	}
	optional := ""
	if !p.Required {
		optional = "?"
	}
	return fmt.Sprintf("%s%s: %s,", p.Name, optional, typeExpr)
}

func luauTypeName(kind ParamKind) string {
	switch kind {
	case KindInteger, KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// Docs renders every function descriptor's LuauSignature, sorted by
// name, for a documentation collaborator (or an operator inspecting the
// running catalogue) to consume.
func (c *Catalog) Docs() []string {
	fns := c.Functions()
	names := make([]string, 0, len(fns))
	byName := make(map[string]FunctionDescriptor, len(fns))
	for _, f := range fns {
		names = append(names, f.Name)
		byName[f.Name] = f
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, n := range names {
		f := byName[n]
		out = append(out, f.LuauSignature())
	}
	return out
}
