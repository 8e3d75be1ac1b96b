package fsfacet

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRemoveFilesTouchedDigest(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, DefaultMaxWriteBytes, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	h, err := f.Open("a.txt", ModeWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write("hello"))
	require.NoError(t, h.Close())

	h2, err := f.Open("b.txt", ModeWrite)
	require.NoError(t, err)
	require.NoError(t, h2.Write("temp"))
	require.NoError(t, h2.Close())

	require.NoError(t, f.Remove("b.txt"))

	touched := f.FilesTouched()
	require.Len(t, touched, 2)
	byName := map[string]TouchedEntry{}
	for _, e := range touched {
		byName[e.Name] = e
	}

	t.Run("Should report the write entry with its byte count", func(t *testing.T) {
		got := byName["a.txt"]
		assert.Equal(t, "write", got.Op)
		assert.Equal(t, int64(5), got.Bytes)
	})

	t.Run("Should report the remove entry with zero bytes", func(t *testing.T) {
		got := byName["b.txt"]
		assert.Equal(t, "remove", got.Op)
		assert.Equal(t, int64(0), got.Bytes)
	})
}

func TestPathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, DefaultMaxWriteBytes, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	cases := []string{"../escape.txt", "/etc/passwd", "a/../../b.txt"}
	for _, c := range cases {
		t.Run(c, func(t *testing.T) {
			_, err := f.Open(c, ModeWrite)
			assert.Error(t, err)
		})
	}
}

func TestHandleCap(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, DefaultMaxWriteBytes, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	var handles []*Handle
	for i := 0; i < MaxHandles; i++ {
		h, err := f.Open("f"+strconv.Itoa(i)+".txt", ModeWrite)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	_, err = f.Open("one_too_many.txt", ModeWrite)
	assert.Error(t, err, "expected handle cap to be enforced")

	for _, h := range handles {
		_ = h.Close()
	}
}

func TestWriteByteCap(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, 4, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	h, err := f.Open("a.txt", ModeWrite)
	require.NoError(t, err)
	defer h.Close()

	assert.Error(t, h.Write("hello"), "expected write exceeding the byte cap to fail")
}

func TestWriteAndReadAll(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, DefaultMaxWriteBytes, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	w, err := f.Open("a.txt", ModeWrite)
	require.NoError(t, err)
	require.NoError(t, w.Write("hello world"))
	require.NoError(t, w.Close())

	r, err := f.Open("a.txt", ModeRead)
	require.NoError(t, err)
	defer r.Close()

	data, ok, err := r.Read(ReadAll)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello world", data)
}

func TestReadLine(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, DefaultMaxWriteBytes, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	w, err := f.Open("lines.txt", ModeWrite)
	require.NoError(t, err)
	require.NoError(t, w.Write("one\ntwo\nthree"))
	require.NoError(t, w.Close())

	r, err := f.Open("lines.txt", ModeRead)
	require.NoError(t, err)
	defer r.Close()

	for _, want := range []string{"one", "two", "three"} {
		line, ok, err := r.Read(ReadLine)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, line)
	}

	_, ok, err := r.Read(ReadLine)
	require.NoError(t, err)
	assert.False(t, ok, "expected EOF after the last line")
}

func TestReadNumber(t *testing.T) {
	dir := t.TempDir()
	f, err := New(dir, DefaultMaxWriteBytes, MaxHandles)
	require.NoError(t, err)
	defer f.Close()

	w, err := f.Open("nums.txt", ModeWrite)
	require.NoError(t, err)
	require.NoError(t, w.Write("  42  3.14"))
	require.NoError(t, w.Close())

	r, err := f.Open("nums.txt", ModeRead)
	require.NoError(t, err)
	defer r.Close()

	t.Run("Should read the first number off an unterminated line", func(t *testing.T) {
		tok, ok, err := r.Read(ReadNumber)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "42", tok)
	})

	t.Run("Should read the second number off the same line on the next call", func(t *testing.T) {
		tok, ok, err := r.Read(ReadNumber)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "3.14", tok)
	})

	t.Run("Should report EOF once no more numbers remain", func(t *testing.T) {
		_, ok, err := r.Read(ReadNumber)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
