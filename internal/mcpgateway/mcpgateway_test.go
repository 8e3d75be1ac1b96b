package mcpgateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportMutualExclusion(t *testing.T) {
	t.Run("Should reject a config with both command and url", func(t *testing.T) {
		both := ServerConfig{Name: "x", Command: "run-server", URL: "http://x"}
		_, err := both.Transport()
		assert.Error(t, err)
	})

	t.Run("Should reject a config with neither command nor url", func(t *testing.T) {
		neither := ServerConfig{Name: "x"}
		_, err := neither.Transport()
		assert.Error(t, err)
	})

	t.Run("Should resolve a command-only config to stdio transport", func(t *testing.T) {
		stdio := ServerConfig{Name: "x", Command: "run-server"}
		kind, err := stdio.Transport()
		require.NoError(t, err)
		assert.Equal(t, TransportStdio, kind)
	})

	t.Run("Should resolve a url-only config to streamable http transport", func(t *testing.T) {
		http := ServerConfig{Name: "x", URL: "http://x"}
		kind, err := http.Transport()
		require.NoError(t, err)
		assert.Equal(t, TransportStreamHTTP, kind)
	})

	t.Run("Should resolve a url config with transport=sse to SSE", func(t *testing.T) {
		sse := ServerConfig{Name: "x", URL: "http://x", TransportHint: TransportSSE}
		kind, err := sse.Transport()
		require.NoError(t, err)
		assert.Equal(t, TransportSSE, kind)
	})

	t.Run("Should reject an unknown transport value", func(t *testing.T) {
		bad := ServerConfig{Name: "x", URL: "http://x", TransportHint: "carrier-pigeon"}
		_, err := bad.Transport()
		assert.Error(t, err)
	})

	t.Run("Should reject a transport value incompatible with a command", func(t *testing.T) {
		bad := ServerConfig{Name: "x", Command: "run-server", TransportHint: TransportSSE}
		_, err := bad.Transport()
		assert.Error(t, err)
	})
}

func TestConnectedReportsFalseWhenAbsent(t *testing.T) {
	g := New(0)
	assert.False(t, g.Connected("nope"), "expected Connected to report false for an unknown server")
}
