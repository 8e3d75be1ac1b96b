package coerce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestRoundTripScalars(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	cases := []struct {
		name string
		json any
	}{
		{"integer", int64(42)},
		{"float", 3.5},
		{"string", "hello"},
		{"bool", true},
		{"null", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := FromJSON(L, tc.json)
			got := ToJSON(v)
			assert.Equal(t, tc.json, got)
		})
	}
}

func TestEmptyTableSerializesAsObject(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	t.Run("Should coerce an empty table to an object", func(t *testing.T) {
		t1 := L.NewTable()
		got := ToJSON(t1)
		_, ok := got.(map[string]any)
		assert.True(t, ok, "expected empty table to coerce to an object, got %T", got)
	})
}

func TestConsecutiveArrayDetection(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	t.Run("Should detect a consecutive-index table as an array", func(t *testing.T) {
		arr := L.NewTable()
		arr.RawSetInt(1, lua.LString("a"))
		arr.RawSetInt(2, lua.LString("b"))
		got := ToJSON(arr)
		list, ok := got.([]any)
		require.True(t, ok, "expected a slice, got %#v", got)
		assert.Len(t, list, 2)
	})
}

func TestIntegerVsFloatPolicy(t *testing.T) {
	t.Run("Should coerce a whole number to int64", func(t *testing.T) {
		whole := lua.LNumber(5.0)
		assert.Equal(t, int64(5), ToJSON(whole))
	})

	t.Run("Should keep a fractional number as float64", func(t *testing.T) {
		frac := lua.LNumber(5.5)
		assert.Equal(t, 5.5, ToJSON(frac))
	})
}

func TestToURLStringWholeNumberHasNoDecimal(t *testing.T) {
	t.Run("Should format a whole number without a decimal point", func(t *testing.T) {
		assert.Equal(t, "5", ToURLString(lua.LNumber(5.0)))
	})

	t.Run("Should format a bool as its literal word", func(t *testing.T) {
		assert.Equal(t, "true", ToURLString(lua.LBool(true)))
	})
}

func TestRoundToInt64TreatsFloatDrift(t *testing.T) {
	n, ok := RoundToInt64(lua.LNumber(2.9999999))
	require.True(t, ok)
	assert.Equal(t, int64(3), n)
}
