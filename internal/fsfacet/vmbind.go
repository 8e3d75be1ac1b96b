package fsfacet

import (
	"strconv"

	"github.com/alennartz/toolscript/internal/corerr"
	lua "github.com/yuin/gopher-lua"
)

const handleTypeName = "toolscript.filehandle"

// Register installs the io namespace (open/lines/list/type) and the
// os.remove function onto L's globals. Must be called before the VM
// host enters sandbox lockdown.
func Register(L *lua.LState, f *Facet) {
	registerHandleType(L)

	ioTable := L.NewTable()
	ioTable.RawSetString("open", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		modeStr := ModeRead
		if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
			modeStr = Mode(L.CheckString(2))
		}
		h, err := f.Open(path, modeStr)
		if err != nil {
			vmRaise(L, err)
			return 0
		}
		L.Push(wrapHandle(L, h))
		return 1
	}))
	ioTable.RawSetString("lines", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		h, err := f.Open(path, ModeRead)
		if err != nil {
			vmRaise(L, err)
			return 0
		}
		L.Push(L.NewFunction(func(L *lua.LState) int {
			line, ok, err := h.Lines()
			if err != nil {
				vmRaise(L, err)
				return 0
			}
			if !ok {
				_ = h.Close()
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(line))
			return 1
		}))
		return 1
	}))
	ioTable.RawSetString("list", L.NewFunction(func(L *lua.LState) int {
		path := ""
		if L.GetTop() >= 1 && L.Get(1) != lua.LNil {
			path = L.CheckString(1)
		}
		names, err := f.List(path)
		if err != nil {
			vmRaise(L, err)
			return 0
		}
		t := L.NewTable()
		for i, n := range names {
			t.RawSetInt(i+1, lua.LString(n))
		}
		L.Push(t)
		return 1
	}))
	ioTable.RawSetString("type", L.NewFunction(func(L *lua.LState) int {
		v := L.Get(1)
		if ud, ok := v.(*lua.LUserData); ok {
			if h, ok := ud.Value.(*Handle); ok {
				h.mu.Lock()
				closed := h.closed
				h.mu.Unlock()
				if closed {
					L.Push(lua.LString("closed file"))
				} else {
					L.Push(lua.LString("file"))
				}
				return 1
			}
		}
		L.Push(lua.LNil)
		return 1
	}))
	L.SetGlobal("io", ioTable)

	osTable, ok := L.GetGlobal("os").(*lua.LTable)
	if !ok {
		osTable = L.NewTable()
		L.SetGlobal("os", osTable)
	}
	osTable.RawSetString("remove", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		if err := f.Remove(path); err != nil {
			vmRaise(L, err)
			return 0
		}
		L.Push(lua.LTrue)
		return 1
	}))
}

func vmRaise(L *lua.LState, err error) {
	if ce, ok := corerr.As(err); ok {
		L.RaiseError("%s: %s", ce.Code, ce.Message)
		return
	}
	L.RaiseError("%v", err)
}

func registerHandleType(L *lua.LState) {
	mt := L.NewTypeMetatable(handleTypeName)
	methods := L.NewTable()
	methods.RawSetString("read", L.NewFunction(handleRead))
	methods.RawSetString("write", L.NewFunction(handleWrite))
	methods.RawSetString("lines", L.NewFunction(handleLinesMethod))
	methods.RawSetString("seek", L.NewFunction(handleSeek))
	methods.RawSetString("flush", L.NewFunction(handleFlush))
	methods.RawSetString("close", L.NewFunction(handleClose))
	L.SetField(mt, "__index", methods)
}

func wrapHandle(L *lua.LState, h *Handle) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = h
	ud.Metatable = L.GetTypeMetatable(handleTypeName)
	return ud
}

func checkHandle(L *lua.LState) *Handle {
	ud, ok := L.Get(1).(*lua.LUserData)
	if !ok {
		L.RaiseError("expected a file handle")
		return nil
	}
	h, ok := ud.Value.(*Handle)
	if !ok {
		L.RaiseError("expected a file handle")
		return nil
	}
	return h
}

func handleRead(L *lua.LState) int {
	h := checkHandle(L)
	format := ReadLine
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		switch L.CheckString(2) {
		case "*a", "all":
			format = ReadAll
		case "*n", "number":
			format = ReadNumber
		default:
			format = ReadLine
		}
	}
	data, ok, err := h.Read(format)
	if err != nil {
		vmRaise(L, err)
		return 0
	}
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	if format == ReadNumber {
		n, err := strconv.ParseFloat(data, 64)
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LNumber(n))
		return 1
	}
	L.Push(lua.LString(data))
	return 1
}

func handleWrite(L *lua.LState) int {
	h := checkHandle(L)
	for i := 2; i <= L.GetTop(); i++ {
		if err := h.Write(lua.LVAsString(L.Get(i))); err != nil {
			vmRaise(L, err)
			return 0
		}
	}
	L.Push(L.Get(1))
	return 1
}

func handleLinesMethod(L *lua.LState) int {
	h := checkHandle(L)
	L.Push(L.NewFunction(func(L *lua.LState) int {
		line, ok, err := h.Lines()
		if err != nil {
			vmRaise(L, err)
			return 0
		}
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(line))
		return 1
	}))
	return 1
}

func handleSeek(L *lua.LState) int {
	h := checkHandle(L)
	whence := WhenceCur
	var offset int64
	if L.GetTop() >= 2 && L.Get(2) != lua.LNil {
		whence = Whence(L.CheckString(2))
	}
	if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
		offset = int64(L.CheckNumber(3))
	}
	pos, err := h.Seek(whence, offset)
	if err != nil {
		vmRaise(L, err)
		return 0
	}
	L.Push(lua.LNumber(pos))
	return 1
}

func handleFlush(L *lua.LState) int {
	h := checkHandle(L)
	if err := h.Flush(); err != nil {
		vmRaise(L, err)
		return 0
	}
	L.Push(L.Get(1))
	return 1
}

func handleClose(L *lua.LState) int {
	h := checkHandle(L)
	if err := h.Close(); err != nil {
		vmRaise(L, err)
		return 0
	}
	L.Push(lua.LTrue)
	return 1
}
