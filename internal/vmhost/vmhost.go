// Package vmhost implements the VM host: constructs a fresh
// gopher-lua VM per execution, caps its memory use, installs a captured
// print and a host-backed json table, exposes an empty sdk namespace,
// and — last, after every custom global is installed — guards the global
// table against new global names.
package vmhost

import (
	"context"
	"encoding/json"
	"runtime"
	"strings"
	"sync"

	"github.com/alennartz/toolscript/internal/coerce"
	"github.com/alennartz/toolscript/internal/corerr"
	lua "github.com/yuin/gopher-lua"
)

// Config controls one VM's resource limits.
type Config struct {
	MemoryLimitBytes int64
}

// Host wraps one execution's *lua.LState plus the bookkeeping C8 needs to
// harvest logs and enforce limits.
type Host struct {
	L      *lua.LState
	cfg    Config
	logsMu sync.Mutex
	logs   []string

	memExceeded bool
}

// New builds a fresh VM: opens only the safe standard libraries,
// installs captured print and the json table, exposes an empty sdk
// namespace, then returns the Host. Sandbox lockdown happens separately
// via Lockdown, after the caller (the binder) has finished registering
// sdk functions.
func New(cfg Config) *Host {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}

	h := &Host{L: L, cfg: cfg}

	stripDangerousGlobals(L)
	h.installPrint()
	h.installJSON()
	L.SetGlobal("sdk", L.NewTable())

	if cfg.MemoryLimitBytes > 0 {
		h.startMemoryWatch(cfg.MemoryLimitBytes)
	}
	return h
}

// stripDangerousGlobals removes dynamic code loading, process execution,
// and debug/bytecode facilities, even though SkipOpenLibs already keeps
// most of these unopened — this also nils any the base library itself
// defines (load, loadstring, dofile).
func stripDangerousGlobals(L *lua.LState) {
	for _, name := range []string{"load", "loadstring", "dofile", "loadfile", "require", "collectgarbage", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// installPrint replaces the global print with one that appends a
// tab-joined string to an internal buffer rather than writing to
// standard output.
func (h *Host) installPrint() {
	h.L.SetGlobal("print", h.L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = lua.LVAsString(L.Get(i))
		}
		h.logsMu.Lock()
		h.logs = append(h.logs, strings.Join(parts, "\t"))
		h.logsMu.Unlock()
		return 0
	}))
}

// installJSON installs json.encode/json.decode backed by encoding/json
// and the C9 coercion rules, so tables round-trip as objects or arrays
// exactly as the sdk-bound functions do.
func (h *Host) installJSON() {
	jsonTable := h.L.NewTable()
	jsonTable.RawSetString("encode", h.L.NewFunction(func(L *lua.LState) int {
		v := L.Get(1)
		data, err := json.Marshal(coerce.ToJSON(v))
		if err != nil {
			L.RaiseError("json.encode: %v", err)
			return 0
		}
		L.Push(lua.LString(data))
		return 1
	}))
	jsonTable.RawSetString("decode", h.L.NewFunction(func(L *lua.LState) int {
		s := L.CheckString(1)
		var decoded any
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			L.RaiseError("json.decode: %v", err)
			return 0
		}
		L.Push(coerce.FromJSON(L, decoded))
		return 1
	}))
	h.L.SetGlobal("json", jsonTable)
}

// startMemoryWatch approximates Luau's native allocator cap: gopher-lua
// has no per-VM allocation hook, so this samples the process heap delta
// since VM creation on a periodic Lua-level count hook and raises a VM
// error directly from the hook once the delta crosses the configured
// limit, unwinding the running script the same way the interrupt
// deadline check does.
func (h *Host) startMemoryWatch(limit int64) {
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	base := int64(baseline.HeapAlloc)

	h.L.SetHook(func(L *lua.LState, ar *lua.Debug) {
		if h.memExceeded {
			return
		}
		var cur runtime.MemStats
		runtime.ReadMemStats(&cur)
		if int64(cur.HeapAlloc)-base > limit {
			h.memExceeded = true
			L.RaiseError("memory limit of %d bytes exceeded", limit)
		}
	}, lua.MaskCount, 10000)
}

// MemoryExceeded reports whether the periodic sampler has observed the
// heap delta cross the configured cap.
func (h *Host) MemoryExceeded() bool { return h.memExceeded }

// Lockdown enters sandbox mode: a metatable guard on the global table
// rejects assignment to any global name not already present. Globals that
// already exist (print, json, sdk, the opened library tables) are not
// covered by the guard and can still be reassigned, and rawset bypasses
// it. Must be called only after all custom globals (sdk functions, fs
// namespace, etc.) have been installed.
func (h *Host) Lockdown() {
	mt := h.L.NewTable()
	mt.RawSetString("__newindex", h.L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("attempt to modify a read-only global table")
		return 0
	}))
	mt.RawSetString("__metatable", lua.LFalse)
	h.L.G.Global.Metatable = mt
}

// SetDeadlineContext installs ctx so dispatcher-checked operations can
// observe cancellation. gopher-lua's LState.SetContext is the closest
// analogue to Luau's set_interrupt: once a context is set, the VM's main
// loop checks it for cancellation before each instruction during
// Call/PCall.
func (h *Host) SetDeadlineContext(ctx context.Context) {
	h.L.SetContext(ctx)
}

// Logs returns the captured print() buffer, in call order.
func (h *Host) Logs() []string {
	h.logsMu.Lock()
	defer h.logsMu.Unlock()
	out := make([]string, len(h.logs))
	copy(out, h.logs)
	return out
}

// Close tears down the VM.
func (h *Host) Close() {
	h.L.Close()
}

// WrapError converts a core error into a gopher-lua-raisable error value.
func WrapError(L *lua.LState, err error) {
	if ce, ok := corerr.As(err); ok {
		L.RaiseError("%s: %s", ce.Code, ce.Message)
		return
	}
	L.RaiseError("%v", err)
}
