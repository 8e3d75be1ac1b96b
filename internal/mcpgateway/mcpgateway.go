// Package mcpgateway implements the MCP effect gateway: a
// process-wide map of live sessions to upstream tool servers, with
// reconnect-and-retry on transport failure.
package mcpgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/telemetry"
	"github.com/google/shlex"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/sync/errgroup"
)

// TransportKind tags which of the three transports a server config uses.
type TransportKind string

const (
	TransportStdio      TransportKind = "stdio"
	TransportSSE        TransportKind = "sse"
	TransportStreamHTTP TransportKind = "streamable_http"
)

// ServerConfig is one upstream MCP server's connection parameters,
// retained verbatim so a session can be rebuilt identically on
// reconnection (Design Notes: "route calls by name indirection").
type ServerConfig struct {
	Name string `json:"name"`

	// Stdio transport.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// SSE / streamable HTTP transport. TransportHint selects between the
	// two URL-based wire forms; it is ignored (and may be empty) for the
	// stdio transport. An empty TransportHint on a URL-based config
	// defaults to streamable HTTP.
	URL           string            `json:"url,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	TransportHint TransportKind     `json:"transport,omitempty"`
}

// Transport resolves which transport this config selects, enforcing the
// mutual exclusion between process-launching and URL-based fields.
func (c ServerConfig) Transport() (TransportKind, error) {
	hasCommand := c.Command != ""
	hasURL := c.URL != ""
	switch {
	case hasCommand && hasURL:
		return "", corerr.InvalidArgument("mcp server %q: command and url are mutually exclusive", c.Name)
	case hasCommand:
		if c.TransportHint != "" && c.TransportHint != TransportStdio {
			return "", corerr.InvalidArgument("mcp server %q: transport %q is incompatible with a command", c.Name, c.TransportHint)
		}
		return TransportStdio, nil
	case hasURL:
		switch c.TransportHint {
		case TransportSSE:
			return TransportSSE, nil
		case "", TransportStreamHTTP:
			return TransportStreamHTTP, nil
		default:
			return "", corerr.InvalidArgument("mcp server %q: unknown transport %q", c.Name, c.TransportHint)
		}
	default:
		return "", corerr.InvalidArgument("mcp server %q: neither command nor url configured", c.Name)
	}
}

// Tool is the catalogue-facing shape of one listed tool.
type Tool struct {
	Name         string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Description  string
}

// ToolResult is the mapped result of a call_tool invocation, already
// reduced from the MCP content list to a single value.
type ToolResult struct {
	// Exactly one of Text, JSON, or Array is set, per the mapping rule:
	// sole text -> string, sole structured -> JSON value, multiple -> array.
	Text  string
	JSON  any
	Array []any
	IsSet bool // distinguishes Text=="" from "no text content at all"
}

type session struct {
	mu     sync.Mutex
	client client.MCPClient
	config ServerConfig
}

// Gateway owns the process-wide session map.
type Gateway struct {
	mu       sync.RWMutex
	sessions map[string]*session
	timeout  time.Duration
	metrics  *telemetry.Instruments
}

// New builds an empty Gateway. ConnectAll must be called before use.
func New(timeout time.Duration) *Gateway {
	return &Gateway{
		sessions: make(map[string]*session),
		timeout:  timeout,
	}
}

// SetMetrics attaches an instrument set so every CallTool call records
// its duration. May be called with nil to disable recording again.
func (g *Gateway) SetMetrics(m *telemetry.Instruments) { g.metrics = m }

// ConnectAll dials every configured server concurrently, bounded to 8
// simultaneous dials, logging and continuing past individual failures so
// one misconfigured upstream does not block the rest of the catalogue
// from being usable.
func (g *Gateway) ConnectAll(ctx context.Context, configs []ServerConfig, onError func(name string, err error)) {
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(8)
	for _, cfg := range configs {
		cfg := cfg
		grp.Go(func() error {
			c, err := dial(grpCtx, cfg, g.timeout)
			if err != nil {
				if onError != nil {
					onError(cfg.Name, err)
				}
				return nil
			}
			g.mu.Lock()
			g.sessions[cfg.Name] = &session{client: c, config: cfg}
			g.mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait()
}

func dial(ctx context.Context, cfg ServerConfig, timeout time.Duration) (client.MCPClient, error) {
	kind, err := cfg.Transport()
	if err != nil {
		return nil, err
	}

	var c client.MCPClient
	switch kind {
	case TransportStdio:
		args := cfg.Args
		if len(args) == 0 && cfg.Command != "" {
			parts, err := shlex.Split(cfg.Command)
			if err != nil {
				return nil, corerr.InvalidArgument("mcp server %q: invalid command: %v", cfg.Name, err)
			}
			if len(parts) > 0 {
				args = parts[1:]
			}
		}
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		c, err = client.NewStdioMCPClient(cfg.Command, env, args...)
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL)
	case TransportStreamHTTP:
		c, err = client.NewStreamableHttpClient(cfg.URL)
	default:
		return nil, corerr.Internal("mcp server %q: unresolved transport", cfg.Name)
	}
	if err != nil {
		return nil, corerr.UpstreamError("mcp server %q: dial failed: %v", cfg.Name, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err = c.Initialize(initCtx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "toolscriptd",
				Version: "0.1.0",
			},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, corerr.UpstreamError("mcp server %q: initialize failed: %v", cfg.Name, err)
	}
	return c, nil
}

// ListTools lists the tools currently advertised by a connected server.
func (g *Gateway) ListTools(ctx context.Context, serverName string) ([]Tool, error) {
	s, err := g.sessionFor(serverName)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, corerr.UpstreamError("mcp server %q: list_tools failed: %v", serverName, err)
	}
	out := make([]Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		out = append(out, Tool{
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return out, nil
}

// CallTool dispatches one tool call, transparently reconnecting and
// retrying exactly once on transport failure.
func (g *Gateway) CallTool(ctx context.Context, serverName, toolName string, argumentsJSON []byte) (ToolResult, error) {
	start := time.Now()
	result, err := g.callToolOnceWithReconnect(ctx, serverName, toolName, argumentsJSON)
	if g.metrics != nil {
		g.metrics.RecordMCPCall(ctx, serverName, toolName, float64(time.Since(start).Microseconds())/1000.0, err == nil)
	}
	return result, err
}

func (g *Gateway) callToolOnceWithReconnect(ctx context.Context, serverName, toolName string, argumentsJSON []byte) (ToolResult, error) {
	s, err := g.sessionFor(serverName)
	if err != nil {
		return ToolResult{}, err
	}

	result, err := callOnce(ctx, s, toolName, argumentsJSON)
	if err == nil {
		return result, nil
	}
	// Tool-reported errors and malformed arguments are not transport
	// failures: surface them without reconnecting.
	if _, isCore := corerr.As(err); isCore {
		return ToolResult{}, err
	}

	reconnected, rerr := g.reconnect(ctx, serverName)
	if rerr != nil {
		return ToolResult{}, corerr.UpstreamError("mcp server %q: call_tool failed and reconnect failed: %v (original: %v)", serverName, rerr, err)
	}
	result, err = callOnce(ctx, reconnected, toolName, argumentsJSON)
	if err != nil {
		return ToolResult{}, corerr.UpstreamError("mcp server %q: call_tool failed after reconnect: %v", serverName, err)
	}
	return result, nil
}

func callOnce(ctx context.Context, s *session, toolName string, argumentsJSON []byte) (ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var args map[string]any
	if len(argumentsJSON) > 0 {
		if err := json.Unmarshal(argumentsJSON, &args); err != nil {
			return ToolResult{}, corerr.InvalidArgument("invalid tool arguments JSON: %v", err)
		}
	}

	resp, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return ToolResult{}, err
	}
	return mapResult(resp)
}

// mapResult reduces an MCP content list to a single text, JSON, or array value.
func mapResult(resp *mcp.CallToolResult) (ToolResult, error) {
	if resp.IsError {
		return ToolResult{}, corerr.UpstreamError("tool call returned an error: %s", contentText(resp.Content))
	}

	if len(resp.Content) == 1 {
		if txt, ok := asTextContent(resp.Content[0]); ok {
			return ToolResult{Text: txt, IsSet: true}, nil
		}
		if structured, ok := asStructuredContent(resp.Content[0]); ok {
			return ToolResult{JSON: structured, IsSet: true}, nil
		}
	}

	arr := make([]any, 0, len(resp.Content))
	for _, c := range resp.Content {
		if txt, ok := asTextContent(c); ok {
			arr = append(arr, txt)
			continue
		}
		if structured, ok := asStructuredContent(c); ok {
			arr = append(arr, structured)
			continue
		}
	}
	return ToolResult{Array: arr, IsSet: true}, nil
}

func asTextContent(c mcp.Content) (string, bool) {
	if tc, ok := c.(mcp.TextContent); ok {
		return tc.Text, true
	}
	return "", false
}

func asStructuredContent(c mcp.Content) (any, bool) {
	if ec, ok := c.(mcp.EmbeddedResource); ok {
		return ec.Resource, true
	}
	return nil, false
}

func contentText(content []mcp.Content) string {
	for _, c := range content {
		if txt, ok := asTextContent(c); ok {
			return txt
		}
	}
	return ""
}

func (g *Gateway) sessionFor(name string) (*session, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[name]
	if !ok {
		return nil, corerr.NotFound("mcp server %q is not connected", name)
	}
	return s, nil
}

// reconnect disposes the current session handle and dials a fresh one
// using the original config, replacing the map entry atomically under
// the gateway's lock.
func (g *Gateway) reconnect(ctx context.Context, name string) (*session, error) {
	g.mu.Lock()
	old, ok := g.sessions[name]
	g.mu.Unlock()
	if !ok {
		return nil, corerr.NotFound("mcp server %q is not connected", name)
	}

	old.mu.Lock()
	_ = old.client.Close()
	old.mu.Unlock()

	c, err := dial(ctx, old.config, g.timeout)
	if err != nil {
		return nil, err
	}
	fresh := &session{client: c, config: old.config}

	g.mu.Lock()
	g.sessions[name] = fresh
	g.mu.Unlock()
	return fresh, nil
}

// CloseAll gracefully terminates every session; for stdio transport this
// terminates the child subprocess. onError, if non-nil, is called for
// each session that fails to close cleanly.
func (g *Gateway) CloseAll(onError func(name string, err error)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for name, s := range g.sessions {
		s.mu.Lock()
		if err := s.client.Close(); err != nil && onError != nil {
			onError(name, err)
		}
		s.mu.Unlock()
	}
	g.sessions = make(map[string]*session)
}

// Connected reports whether a server currently has a live session.
func (g *Gateway) Connected(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.sessions[name]
	return ok
}
