// Package binder implements the function binder: it materializes
// catalogue descriptors as VM closures bound under sdk, driving
// parameter validation, then the HTTP or MCP gateway, then value
// coercion inside each closure body, under a call-count budget
// shared across HTTP and MCP effects.
package binder

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/coerce"
	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/credentials"
	"github.com/alennartz/toolscript/internal/httpgateway"
	"github.com/alennartz/toolscript/internal/mcpgateway"
	"github.com/alennartz/toolscript/internal/paramvalidate"
	"github.com/alennartz/toolscript/internal/schemacheck"
	"github.com/alennartz/toolscript/internal/vmhost"
	lua "github.com/yuin/gopher-lua"
)

// Counter is the single call-count budget shared by C3 and C4 within one
// execution, per the Design Notes' "shared-counter aliasing" guidance.
type Counter struct {
	count atomic.Int64
	max   int64
}

// NewCounter builds a Counter with the configured per-execution ceiling.
// A non-positive max means unlimited.
func NewCounter(max int) *Counter {
	return &Counter{max: int64(max)}
}

// Take increments the counter and errors if the ceiling was already
// reached, preventing the next dispatch.
func (c *Counter) Take() error {
	if c.max <= 0 {
		c.count.Add(1)
		return nil
	}
	if c.count.Load() >= c.max {
		return corerr.ResourceExhausted("call-count ceiling of %d exceeded", c.max)
	}
	c.count.Add(1)
	return nil
}

// Value reports the current call count, for accounting verification.
func (c *Counter) Value() int64 { return c.count.Load() }

// Binder wires a catalogue against the HTTP and MCP gateways under one
// shared call counter and a per-execution credential map.
type Binder struct {
	cat     *catalog.Catalog
	http    *httpgateway.Gateway
	mcp     *mcpgateway.Gateway
	creds   credentials.Map
	counter *Counter
	ctx     context.Context
	schemas *schemacheck.Checker
}

// New builds a Binder for one execution. schemas validates request
// bodies and response payloads against the catalogue's named schemas; it
// may be nil to skip schema validation entirely.
func New(ctx context.Context, cat *catalog.Catalog, http *httpgateway.Gateway, mcp *mcpgateway.Gateway, creds credentials.Map, counter *Counter, schemas *schemacheck.Checker) *Binder {
	return &Binder{cat: cat, http: http, mcp: mcp, creds: creds, counter: counter, ctx: ctx, schemas: schemas}
}

// RegisterAll installs every HTTP function descriptor and every MCP tool
// as a closure under the VM's sdk table. Must be called before
// host.Lockdown().
func (b *Binder) RegisterAll(host *vmhost.Host) error {
	sdkVal := host.L.GetGlobal("sdk")
	sdk, ok := sdkVal.(*lua.LTable)
	if !ok {
		return corerr.Internal("sdk global is not a table")
	}
	for _, fn := range b.cat.Functions() {
		fnCopy := fn
		sdk.RawSetString(fnCopy.Name, host.L.NewFunction(b.httpClosure(host, fnCopy)))
	}
	for _, server := range b.cat.McpServers() {
		serverTable := host.L.NewTable()
		sdk.RawSetString(server.Name, serverTable)
		for _, tool := range server.Tools {
			toolCopy := tool
			serverTable.RawSetString(toolCopy.Name, host.L.NewFunction(b.mcpClosure(host, toolCopy)))
		}
	}
	return nil
}

// httpClosure renders the Lua calling convention for one HTTP
// function descriptor.
func (b *Binder) httpClosure(host *vmhost.Host, fn catalog.FunctionDescriptor) lua.LGFunction {
	visible := fn.VisibleParameters()
	hasVisible := len(visible) > 0
	hasBody := fn.HasBody()

	return func(L *lua.LState) int {
		if err := b.counter.Take(); err != nil {
			vmhost.WrapError(L, err)
			return 0
		}

		var params *lua.LTable
		var bodyArg lua.LValue
		switch {
		case hasVisible && hasBody:
			params = optionalTable(L, 1, fn.Name)
			bodyArg = L.Get(2)
		case hasVisible && !hasBody:
			params = optionalTable(L, 1, fn.Name)
		case !hasVisible && hasBody:
			bodyArg = L.Get(1)
		default:
			params = L.NewTable()
		}
		if params == nil {
			params = L.NewTable()
		}

		pathParams := make(map[string]string)
		var query []httpgateway.KV
		var headers []httpgateway.KV

		for _, p := range fn.Parameters {
			strVal, present, err := resolveParam(L, fn.Name, p, params)
			if err != nil {
				vmhost.WrapError(L, err)
				return 0
			}
			if !present {
				continue
			}
			if !p.IsFrozen() {
				if err := paramvalidate.Validate(fn.Name, p.Name, p.Format, p.Enum, strVal); err != nil {
					vmhost.WrapError(L, err)
					return 0
				}
			}
			switch p.Location {
			case catalog.LocationPath:
				pathParams[p.Name] = strVal
			case catalog.LocationQuery:
				query = append(query, httpgateway.KV{Key: p.Name, Value: strVal})
			case catalog.LocationHeader:
				headers = append(headers, httpgateway.KV{Key: p.Name, Value: strVal})
			}
		}

		api, ok := b.cat.API(fn.API)
		if !ok {
			vmhost.WrapError(L, corerr.Internal("function %q references unknown api %q", fn.Name, fn.API))
			return 0
		}
		var cred *credentials.Credential
		if c, ok := b.creds[fn.API]; ok {
			cred = &c
		}

		var body any
		if hasBody && bodyArg != nil && bodyArg != lua.LNil {
			body = coerce.ToJSON(bodyArg)
			if b.schemas != nil && fn.RequestBody.SchemaRef != "" {
				if err := b.schemas.Validate(fn.RequestBody.SchemaRef, body); err != nil {
					vmhost.WrapError(L, err)
					return 0
				}
			}
		}

		result, err := b.http.Do(b.ctx, httpgateway.Request{
			FunctionName: fn.Name,
			Method:       fn.Method,
			BaseURL:      api.BaseURL,
			PathTemplate: fn.PathTemplate,
			PathParams:   pathParams,
			QueryParams:  query,
			HeaderParams: headers,
			Auth:         api.AuthScheme,
			Credential:   cred,
			Body:         body,
		})
		if err != nil {
			vmhost.WrapError(L, err)
			return 0
		}
		if b.schemas != nil && fn.ResponseSchema != "" {
			if err := b.schemas.Validate(fn.ResponseSchema, result); err != nil {
				vmhost.WrapError(L, err)
				return 0
			}
		}
		L.Push(coerce.FromJSON(L, result))
		return 1
	}
}

// mcpClosure renders the sdk.<server>.<tool>(body) calling convention for
// one MCP tool: MCP tools always take a single arguments table.
func (b *Binder) mcpClosure(host *vmhost.Host, tool catalog.McpTool) lua.LGFunction {
	return func(L *lua.LState) int {
		if err := b.counter.Take(); err != nil {
			vmhost.WrapError(L, err)
			return 0
		}
		argsTable := optionalTable(L, 1, tool.Name)
		if argsTable == nil {
			argsTable = L.NewTable()
		}
		for _, p := range tool.Params {
			if p.Required {
				if v := argsTable.RawGetString(p.Name); v == lua.LNil {
					vmhost.WrapError(L, corerr.InvalidArgument("%s: missing required argument %q", tool.Name, p.Name))
					return 0
				}
			}
		}

		argsJSON, err := json.Marshal(coerce.ToJSON(argsTable))
		if err != nil {
			vmhost.WrapError(L, corerr.Internal("marshal arguments: %v", err))
			return 0
		}

		result, err := b.mcp.CallTool(b.ctx, tool.Server, tool.Name, argsJSON)
		if err != nil {
			vmhost.WrapError(L, err)
			return 0
		}

		switch {
		case result.Array != nil:
			arr := make([]any, len(result.Array))
			copy(arr, result.Array)
			L.Push(coerce.FromJSON(L, arr))
		case result.JSON != nil:
			L.Push(coerce.FromJSON(L, result.JSON))
		default:
			L.Push(lua.LString(result.Text))
		}
		return 1
	}
}

// resolveParam applies the frozen bypass, required check, nil-skip, and
// coercion to canonical string for one parameter.
func resolveParam(L *lua.LState, fnName string, p catalog.ParamDescriptor, params *lua.LTable) (string, bool, error) {
	if p.IsFrozen() {
		return *p.FrozenValue, true, nil
	}
	v := params.RawGetString(p.Name)
	if v == lua.LNil {
		if p.Required {
			return "", false, corerr.InvalidArgument("%s: missing required parameter %q", fnName, p.Name)
		}
		if p.Default != nil {
			return *p.Default, true, nil
		}
		return "", false, nil
	}
	if p.Kind == catalog.KindInteger {
		if n, ok := coerce.RoundToInt64(v); ok {
			return int64ToString(n), true, nil
		}
	}
	return coerce.ToURLString(v), true, nil
}

func int64ToString(n int64) string {
	return coerce.ToURLString(lua.LNumber(float64(n)))
}

// optionalTable fetches position idx as a table, erroring with a clear
// message on wrong type, or returns nil if absent.
func optionalTable(L *lua.LState, idx int, fnName string) *lua.LTable {
	v := L.Get(idx)
	if v == lua.LNil {
		return nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		L.RaiseError("%s: expected a table argument at position %d, got %s", fnName, idx, v.Type().String())
		return nil
	}
	return t
}
