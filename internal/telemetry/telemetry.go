// Package telemetry wires the OpenTelemetry meter provider and the
// instrument set shared by the executor and the two effect gateways,
// exported via Prometheus, covering every external-call boundary: HTTP
// descriptor calls, MCP tool calls, and VM execution.
package telemetry

import (
	"context"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Instruments is the shared set of metrics recorded across C3/C4/C7/C8.
type Instruments struct {
	registry *prom.Registry
	provider *sdkmetric.MeterProvider

	ExecutionDuration metric.Float64Histogram
	ExecutionOutcomes metric.Int64Counter
	HTTPCallDuration  metric.Float64Histogram
	MCPCallDuration   metric.Float64Histogram
	APICallsPerExec   metric.Int64Histogram
}

// New builds a MeterProvider backed by a Prometheus exporter bound to a
// dedicated registry, and registers the instrument set. Use
// ExporterHandler to expose /metrics.
func New() (*Instruments, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("toolscript.core")

	execDuration, err := meter.Float64Histogram("execution.duration_ms",
		metric.WithDescription("wall-clock duration of one script execution, in milliseconds"))
	if err != nil {
		return nil, err
	}
	execOutcomes, err := meter.Int64Counter("execution.outcomes",
		metric.WithDescription("count of script executions by outcome (ok, timeout, error)"))
	if err != nil {
		return nil, err
	}
	httpDuration, err := meter.Float64Histogram("http_gateway.call_duration_ms",
		metric.WithDescription("duration of one outbound HTTP effect call, in milliseconds"))
	if err != nil {
		return nil, err
	}
	mcpDuration, err := meter.Float64Histogram("mcp_gateway.call_duration_ms",
		metric.WithDescription("duration of one MCP tool call, in milliseconds"))
	if err != nil {
		return nil, err
	}
	apiCalls, err := meter.Int64Histogram("execution.api_calls",
		metric.WithDescription("number of HTTP/MCP calls made by one execution"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		registry:          registry,
		provider:          provider,
		ExecutionDuration: execDuration,
		ExecutionOutcomes: execOutcomes,
		HTTPCallDuration:  httpDuration,
		MCPCallDuration:   mcpDuration,
		APICallsPerExec:   apiCalls,
	}, nil
}

// ExporterHandler returns the http.Handler serving this instrument set's
// registry in the Prometheus text exposition format.
func (i *Instruments) ExporterHandler() http.Handler {
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and releases the underlying meter provider.
func (i *Instruments) Shutdown(ctx context.Context) error {
	return i.provider.Shutdown(ctx)
}

// Outcome labels a recorded execution outcome.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// RecordExecution records one completed execution's duration, outcome,
// and call count.
func (i *Instruments) RecordExecution(ctx context.Context, durationMS float64, outcome Outcome, apiCalls int64) {
	attrs := metric.WithAttributes(attribute.String("outcome", string(outcome)))
	i.ExecutionDuration.Record(ctx, durationMS, attrs)
	i.ExecutionOutcomes.Add(ctx, 1, attrs)
	i.APICallsPerExec.Record(ctx, apiCalls, attrs)
}

// RecordHTTPCall records one C3 dispatch's duration, tagged by function
// name and whether it succeeded.
func (i *Instruments) RecordHTTPCall(ctx context.Context, functionName string, durationMS float64, ok bool) {
	i.HTTPCallDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("function", functionName),
		attribute.Bool("ok", ok),
	))
}

// RecordMCPCall records one C4 tool call's duration, tagged by server
// and tool name and whether it succeeded.
func (i *Instruments) RecordMCPCall(ctx context.Context, server, tool string, durationMS float64, ok bool) {
	i.MCPCallDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("tool", tool),
		attribute.Bool("ok", ok),
	))
}
