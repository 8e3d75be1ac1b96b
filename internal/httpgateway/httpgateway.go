// Package httpgateway implements the HTTP effect gateway: it turns
// a resolved descriptor call into an outbound HTTP request, injects
// credentials, and decodes the JSON response — or, under test, routes
// through an injected Dispatcher instead of real transport.
package httpgateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/credentials"
	"github.com/alennartz/toolscript/internal/telemetry"
	"github.com/go-resty/resty/v2"
)

// Request is the fully-resolved description of one outbound call.
type Request struct {
	FunctionName string // descriptor name, used only to label metrics
	Method       catalog.HTTPMethod
	BaseURL      string
	PathTemplate string
	PathParams   map[string]string
	QueryParams  []KV
	HeaderParams []KV
	Auth         *catalog.AuthScheme
	Credential   *credentials.Credential
	Body         any
}

// KV is an ordered key/value pair (query and header parameters are
// attached as a list of pairs; stable order is not required).
type KV struct {
	Key   string
	Value string
}

// Dispatcher is the injectable transport seam. Tests inject any
// Dispatcher implementation that doesn't touch the network.
type Dispatcher interface {
	Dispatch(ctx context.Context, method, url string, query []KV, headers []KV, body any) (any, error)
}

// Gateway builds requests from Request values and decodes JSON responses.
type Gateway struct {
	dispatcher Dispatcher
	metrics    *telemetry.Instruments
}

// New builds a Gateway over a real resty-backed Dispatcher.
func New(client *resty.Client) *Gateway {
	return &Gateway{dispatcher: &RestyDispatcher{client: client}}
}

// NewWithDispatcher builds a Gateway over an arbitrary Dispatcher —
// the seam tests use to inject a MockDispatcher.
func NewWithDispatcher(d Dispatcher) *Gateway {
	return &Gateway{dispatcher: d}
}

// SetMetrics attaches an instrument set so every Do call records its
// duration. May be called with nil to disable recording again.
func (g *Gateway) SetMetrics(m *telemetry.Instruments) { g.metrics = m }

// Do executes one request end to end: path substitution, query/header
// attachment, auth injection, dispatch, and JSON decode of the result.
func (g *Gateway) Do(ctx context.Context, req Request) (any, error) {
	path := substitutePath(req.PathTemplate, req.PathParams)
	fullURL := joinURL(req.BaseURL, path)

	headers := append([]KV{}, req.HeaderParams...)
	headers = injectAuth(headers, req.Auth, req.Credential)

	start := time.Now()
	result, err := g.dispatcher.Dispatch(ctx, string(req.Method), fullURL, req.QueryParams, headers, req.Body)
	if g.metrics != nil {
		g.metrics.RecordHTTPCall(ctx, req.FunctionName, float64(time.Since(start).Microseconds())/1000.0, err == nil)
	}
	if err != nil {
		return nil, corerr.UpstreamError("http request failed: %v", err)
	}
	return result, nil
}

func substitutePath(template string, params map[string]string) string {
	out := template
	for name, value := range params {
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(value))
	}
	return out
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// injectAuth applies one rule: a mismatch between auth scheme kind and
// credential kind results in no auth header at all.
func injectAuth(headers []KV, scheme *catalog.AuthScheme, cred *credentials.Credential) []KV {
	if scheme == nil || cred == nil {
		return headers
	}
	switch {
	case scheme.Kind == catalog.AuthBearer && cred.Kind == credentials.KindBearer:
		headerName := scheme.Header
		if headerName == "" {
			headerName = "Authorization"
		}
		return append(headers, KV{Key: headerName, Value: scheme.Prefix + cred.Token})
	case scheme.Kind == catalog.AuthAPIKey && cred.Kind == credentials.KindAPIKey:
		headerName := scheme.Header
		if headerName == "" {
			headerName = cred.HeaderName
		}
		return append(headers, KV{Key: headerName, Value: cred.KeyValue})
	case scheme.Kind == catalog.AuthBasic && cred.Kind == credentials.KindBasic:
		enc := base64.StdEncoding.EncodeToString([]byte(cred.Username + ":" + cred.Password))
		return append(headers, KV{Key: "Authorization", Value: "Basic " + enc})
	default:
		return headers
	}
}

// RestyDispatcher is the real-transport Dispatcher, backed by a
// resty.Client.
type RestyDispatcher struct {
	client *resty.Client
}

// NewRestyClient builds a resty.Client with sane defaults for the effect
// gateway: bounded timeout, no automatic retries (the core does not retry
// application-level failures).
func NewRestyClient(timeout time.Duration) *resty.Client {
	c := resty.New()
	c.SetTimeout(timeout)
	return c
}

func (d *RestyDispatcher) Dispatch(ctx context.Context, method, rawURL string, query, headers []KV, body any) (any, error) {
	req := d.client.R().SetContext(ctx)
	for _, kv := range query {
		req.SetQueryParam(kv.Key, kv.Value)
	}
	for _, kv := range headers {
		req.SetHeader(kv.Key, kv.Value)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(body)
	}

	resp, err := req.Execute(method, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, corerr.UpstreamError("status %d: %s", resp.StatusCode(), resp.String())
	}

	raw := resp.Body()
	if len(raw) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, corerr.UpstreamError("invalid JSON response: %v", err)
	}
	return decoded, nil
}

// MockFunc is the injected dispatcher function signature used in tests:
// (method, url, query, body) → (result, error).
type MockFunc func(method, url string, query []KV, body any) (any, error)

// MockDispatcher implements Dispatcher directly over a Go function, so
// tests can exercise Gateway.Do without touching the network.
type MockDispatcher struct {
	Fn MockFunc
}

func (m *MockDispatcher) Dispatch(_ context.Context, method, url string, query, _ []KV, body any) (any, error) {
	return m.Fn(method, url, query, body)
}
