// Package executor implements the executor: it orchestrates the VM
// host, function binder, and filesystem facet for exactly one execution,
// enforces the wall-clock deadline via the VM's interrupt mechanism, and
// harvests the result, captured logs, and files-touched digest. Each run
// follows a fixed sequence: sandbox creation, counter setup,
// registration, sandbox-enable, interrupt install, load+eval, harvest,
// teardown.
package executor

import (
	"context"
	"time"

	"github.com/alennartz/toolscript/internal/binder"
	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/coerce"
	"github.com/alennartz/toolscript/internal/corerr"
	"github.com/alennartz/toolscript/internal/credentials"
	"github.com/alennartz/toolscript/internal/fsfacet"
	"github.com/alennartz/toolscript/internal/httpgateway"
	"github.com/alennartz/toolscript/internal/mcpgateway"
	"github.com/alennartz/toolscript/internal/schemacheck"
	"github.com/alennartz/toolscript/internal/telemetry"
	"github.com/alennartz/toolscript/internal/vmhost"
)

// Config carries the default resource limits for every execution.
type Config struct {
	TimeoutMS   int64
	MemoryLimit int64
	MaxAPICalls int

	FilesystemEnabled bool
	FilesystemRoot    string
	MaxWriteBytes     int64
	MaxHandles        int
}

// DefaultConfig returns the default limits: 30s / 64MiB / 100 calls.
func DefaultConfig() Config {
	return Config{
		TimeoutMS:     30000,
		MemoryLimit:   64 * 1024 * 1024,
		MaxAPICalls:   100,
		MaxWriteBytes: fsfacet.DefaultMaxWriteBytes,
		MaxHandles:    fsfacet.MaxHandles,
	}
}

// Executor orchestrates one execution per call to Execute, against a
// shared, immutable catalogue and shared, long-lived effect gateways.
type Executor struct {
	catalog *catalog.Catalog
	http    *httpgateway.Gateway
	mcp     *mcpgateway.Gateway
	cfg     Config
	metrics *telemetry.Instruments
	schemas *schemacheck.Checker
}

// New builds an Executor. metrics may be nil to disable instrumentation.
// The schema checker is built once and its compiled-schema cache is
// shared across every execution against this catalogue.
func New(cat *catalog.Catalog, http *httpgateway.Gateway, mcp *mcpgateway.Gateway, cfg Config, metrics *telemetry.Instruments) *Executor {
	return &Executor{catalog: cat, http: http, mcp: mcp, cfg: cfg, metrics: metrics, schemas: schemacheck.New(cat)}
}

// Result is the shape returned to the caller of execute_script. Execution
// statistics (call count, duration) are deliberately NOT part of this
// response even though they are tracked internally for metrics.
type Result struct {
	Result       any                    `json:"result"`
	Logs         []string               `json:"logs"`
	FilesTouched []fsfacet.TouchedEntry `json:"files_touched"`
}

// Execute runs one script to completion or failure. timeoutOverrideMS,
// when non-zero, overrides cfg.TimeoutMS for this single execution.
func (e *Executor) Execute(ctx context.Context, script string, creds credentials.Map, timeoutOverrideMS int64) (Result, error) {
	start := time.Now()

	timeoutMS := e.cfg.TimeoutMS
	if timeoutOverrideMS > 0 {
		timeoutMS = timeoutOverrideMS
	}
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	host := vmhost.New(vmhost.Config{MemoryLimitBytes: e.cfg.MemoryLimit})
	defer host.Close()

	var facet *fsfacet.Facet
	if e.cfg.FilesystemEnabled {
		var err error
		facet, err = fsfacet.New(e.cfg.FilesystemRoot, e.cfg.MaxWriteBytes, e.cfg.MaxHandles)
		if err != nil {
			e.record(ctx, start, telemetry.OutcomeError, 0)
			return Result{}, err
		}
		defer facet.Close()
		fsfacet.Register(host.L, facet)
	}

	counter := binder.NewCounter(e.cfg.MaxAPICalls)
	b := binder.New(runCtx, e.catalog, e.http, e.mcp, creds, counter, e.schemas)
	if err := b.RegisterAll(host); err != nil {
		e.record(ctx, start, telemetry.OutcomeError, counter.Value())
		return Result{}, err
	}

	host.Lockdown()
	host.SetDeadlineContext(runCtx)

	fn, err := host.L.LoadString(script)
	if err != nil {
		e.record(ctx, start, telemetry.OutcomeError, counter.Value())
		return Result{}, corerr.InvalidArgument("script parse error: %v", err)
	}
	host.L.Push(fn)

	callErr := host.L.PCall(0, 1, nil)

	logs := host.Logs()
	var filesTouched []fsfacet.TouchedEntry
	if facet != nil {
		filesTouched = facet.FilesTouched()
	}

	if callErr != nil {
		outcome := telemetry.OutcomeError
		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			outcome = telemetry.OutcomeTimeout
			e.record(ctx, start, outcome, counter.Value())
			return Result{}, corerr.Timeout("script execution timed out: %v", callErr)
		case host.MemoryExceeded():
			outcome = telemetry.OutcomeError
			e.record(ctx, start, outcome, counter.Value())
			return Result{}, corerr.ResourceExhausted("script execution failed: %v", callErr)
		}
		e.record(ctx, start, outcome, counter.Value())
		return Result{}, corerr.Internal("script evaluation failed: %v", callErr)
	}

	ret := host.L.Get(-1)
	host.L.Pop(1)
	resultJSON := coerce.ToJSON(ret)

	e.record(ctx, start, telemetry.OutcomeOK, counter.Value())

	return Result{
		Result:       resultJSON,
		Logs:         logs,
		FilesTouched: filesTouched,
	}, nil
}

func (e *Executor) record(ctx context.Context, start time.Time, outcome telemetry.Outcome, apiCalls int64) {
	if e.metrics == nil {
		return
	}
	durationMS := float64(time.Since(start).Microseconds()) / 1000.0
	e.metrics.RecordExecution(ctx, durationMS, outcome, apiCalls)
}
