// Package coerce implements the bidirectional conversion between VM
// values and a JSON-like tree, plus the string coercion rule used
// when a VM value must be flattened into a URL parameter.
package coerce

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// ToJSON converts a gopher-lua value into a plain Go value suitable for
// encoding/json, unifying the VM's single number type: a number becomes
// an integer when its magnitude is representable in signed 64-bit and
// has zero fractional part, otherwise a float.
func ToJSON(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return numberToJSON(float64(val))
	case *lua.LTable:
		return tableToJSON(val)
	default:
		return nil
	}
}

func numberToJSON(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}

func tableToJSON(t *lua.LTable) any {
	n := t.Len()
	if isConsecutiveArray(t, n) {
		arr := make([]any, n)
		for i := 1; i <= n; i++ {
			arr[i-1] = ToJSON(t.RawGetInt(i))
		}
		return arr
	}
	obj := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		obj[lua.LVAsString(k)] = ToJSON(v)
	})
	return obj
}

// isConsecutiveArray reports whether t's only keys are the integers 1..n.
// An empty table is NOT treated as an array here: per the documented
// resolution of the empty-table Open Question, empty tables serialize as
// JSON objects.
func isConsecutiveArray(t *lua.LTable, n int) bool {
	if n == 0 {
		return false
	}
	count := 0
	t.ForEach(func(k, _ lua.LValue) { count++ })
	return count == n
}

// FromJSON converts a decoded JSON value (as produced by encoding/json's
// default decoding: map[string]any, []any, string, bool, json.Number or
// float64, nil) into a gopher-lua value.
func FromJSON(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case json.Number:
		f, _ := val.Float64()
		return lua.LNumber(f)
	case float64:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(float64(val))
	case int:
		return lua.LNumber(float64(val))
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, FromJSON(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			t.RawSetString(k, FromJSON(L, val[k]))
		}
		return t
	default:
		return lua.LNil
	}
}

// ToURLString renders a VM value as the canonical string used for path,
// query, and header parameters: whole-valued numbers format without a
// decimal point, fractional numbers use Go's default float formatting,
// booleans format as "true"/"false", strings pass through.
func ToURLString(v lua.LValue) string {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LBool:
		if bool(val) {
			return "true"
		}
		return "false"
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return val.String()
	}
}

// RoundToInt64 applies the round()-then-cast coercion the binder uses for
// integer-typed parameters, tolerating float drift from arithmetic like
// division (e.g. a script computing a page offset).
func RoundToInt64(v lua.LValue) (int64, bool) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, false
	}
	return int64(math.Round(float64(n))), true
}
