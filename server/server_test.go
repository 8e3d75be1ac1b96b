package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/credentials"
	"github.com/alennartz/toolscript/internal/executor"
	"github.com/alennartz/toolscript/internal/httpgateway"
	"github.com/alennartz/toolscript/internal/mcpgateway"
	"github.com/alennartz/toolscript/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	m := catalog.Manifest{
		Apis: []catalog.ApiDescriptor{
			{
				Name:    "petstore",
				BaseURL: "https://petstore.example.com/v1",
				AuthScheme: &catalog.AuthScheme{
					Kind:   catalog.AuthBearer,
					Header: "Authorization",
					Prefix: "Bearer ",
				},
			},
		},
		Functions: []catalog.FunctionDescriptor{
			{Name: "list_pets", API: "petstore", Method: catalog.MethodGet, PathTemplate: "/pets"},
		},
	}
	cat, err := catalog.FromManifest(m)
	require.NoError(t, err)
	return cat
}

func newTestServer(t *testing.T, dispatch httpgateway.MockFunc, defaultAuth credentials.Map) *Server {
	t.Helper()
	cat := authCatalog(t)
	gw := httpgateway.NewWithDispatcher(&httpgateway.MockDispatcher{Fn: dispatch})
	mcp := mcpgateway.New(time.Second)
	exec := executor.New(cat, gw, mcp, executor.DefaultConfig(), nil)
	return New(exec, cat, logger.New(logger.Config{Level: "error"}), nil, defaultAuth)
}

func doExecute(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, func(method, url string, query []httpgateway.KV, body any) (any, error) {
		return nil, nil
	}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPerRequestAuthOverrideReachesTheGateway(t *testing.T) {
	var gotAuth string
	dispatch := func(method, url string, query []httpgateway.KV, body any) (any, error) {
		return []any{}, nil
	}
	// Capture the Authorization header by wrapping the gateway's dispatcher
	// with one that records headers, the same way httpgateway's own tests do.
	cat := authCatalog(t)
	gw := httpgateway.NewWithDispatcher(&headerCapturingDispatcher{fn: dispatch, out: &gotAuth})
	mcp := mcpgateway.New(time.Second)
	exec := executor.New(cat, gw, mcp, executor.DefaultConfig(), nil)
	s := New(exec, cat, logger.New(logger.Config{Level: "error"}), nil, credentials.Map{
		"petstore": credentials.Bearer("default-token"),
	})

	rec := doExecute(t, s, `{"script": "sdk.list_pets({})", "meta": {"auth": {"petstore": {"type": "bearer", "token": "override-token"}}}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer override-token", gotAuth)
}

func TestDefaultCredentialAppliesWhenRequestHasNoOverride(t *testing.T) {
	var gotAuth string
	dispatch := func(method, url string, query []httpgateway.KV, body any) (any, error) {
		return []any{}, nil
	}
	cat := authCatalog(t)
	gw := httpgateway.NewWithDispatcher(&headerCapturingDispatcher{fn: dispatch, out: &gotAuth})
	mcp := mcpgateway.New(time.Second)
	exec := executor.New(cat, gw, mcp, executor.DefaultConfig(), nil)
	s := New(exec, cat, logger.New(logger.Config{Level: "error"}), nil, credentials.Map{
		"petstore": credentials.Bearer("default-token"),
	})

	rec := doExecute(t, s, `{"script": "sdk.list_pets({})"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bearer default-token", gotAuth)
}

func TestHandleExecuteMapsErrorCodesToHTTPStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid argument", corerr.InvalidArgument("bad input"), http.StatusBadRequest},
		{"not found", corerr.NotFound("missing"), http.StatusNotFound},
		{"permission denied", corerr.PermissionDenied("nope"), http.StatusForbidden},
		{"resource exhausted", corerr.ResourceExhausted("too many calls"), http.StatusTooManyRequests},
		{"upstream error", corerr.UpstreamError("upstream broke"), http.StatusBadGateway},
		{"timeout", corerr.Timeout("too slow"), http.StatusGatewayTimeout},
		{"internal", corerr.Internal("oops"), http.StatusInternalServerError},
		{"untyped error", assertAnError{}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, statusForError(tc.err))
		})
	}
}

func TestHandleExecutePropagatesExecutorErrorStatus(t *testing.T) {
	dispatch := func(method, url string, query []httpgateway.KV, body any) (any, error) {
		return nil, corerr.UpstreamError("upstream is down")
	}
	s := newTestServer(t, dispatch, nil)

	rec := doExecute(t, s, `{"script": "sdk.list_pets({})"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleExecuteRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t, func(method, url string, query []httpgateway.KV, body any) (any, error) {
		return nil, nil
	}, nil)

	rec := doExecute(t, s, `not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type assertAnError struct{}

func (assertAnError) Error() string { return "boom" }

// headerCapturingDispatcher wraps a MockFunc and also records the
// Authorization header dispatch received, since httpgateway.MockDispatcher
// itself discards headers.
type headerCapturingDispatcher struct {
	fn  httpgateway.MockFunc
	out *string
}

func (d *headerCapturingDispatcher) Dispatch(_ context.Context, method, url string, query, headers []httpgateway.KV, body any) (any, error) {
	for _, kv := range headers {
		if kv.Key == "Authorization" {
			*d.out = kv.Value
		}
	}
	return d.fn(method, url, query, body)
}
