// Command toolscriptd is the process entrypoint: it loads the descriptor
// manifest, wires the effect gateways, and serves execute_script either
// over HTTP (serve) or once from stdin (run).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alennartz/toolscript/internal/catalog"
	"github.com/alennartz/toolscript/internal/executor"
	"github.com/alennartz/toolscript/internal/httpgateway"
	"github.com/alennartz/toolscript/internal/mcpgateway"
	"github.com/alennartz/toolscript/internal/telemetry"
	"github.com/alennartz/toolscript/pkg/config"
	"github.com/alennartz/toolscript/pkg/logger"
	"github.com/alennartz/toolscript/server"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	var manifestPath string
	var mcpConfigPath string

	root := &cobra.Command{
		Use:   "toolscriptd",
		Short: "Run the script execution core as an HTTP server or a one-shot CLI",
	}
	root.PersistentFlags().StringVar(&manifestPath, "manifest", "manifest.json", "path to the descriptor manifest")
	root.PersistentFlags().StringVar(&mcpConfigPath, "mcp-config", "", "path to the MCP server connection config (optional)")

	root.AddCommand(newServeCommand(&manifestPath, &mcpConfigPath))
	root.AddCommand(newRunCommand(&manifestPath, &mcpConfigPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func newServeCommand(manifestPath, mcpConfigPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve execute_script over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := buildExecutor(ctx, *manifestPath, *mcpConfigPath, cfg, log)
			if err != nil {
				return err
			}
			defer deps.mcp.CloseAll(func(name string, err error) {
				log.Warn("mcp server close failed", "server", name, "error", err.Error())
			})

			defaultAuth, err := cfg.DefaultCredentials()
			if err != nil {
				return fmt.Errorf("resolve default credentials: %w", err)
			}

			srv := server.New(deps.exec, deps.cat, log, deps.metrics, defaultAuth)
			httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

			errCh := make(chan error, 1)
			go func() {
				log.Info("listening", "addr", cfg.Server.Addr)
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}
}

func newRunCommand(manifestPath, mcpConfigPath *string) *cobra.Command {
	var timeoutMS int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one script read from stdin, printing the JSON result to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Filesystem.Enabled = true // direct-local invocation defaults to filesystem enabled
			log := logger.New(logger.Config{Level: cfg.Log.Level, JSON: cfg.Log.JSON})

			deps, err := buildExecutor(cmd.Context(), *manifestPath, *mcpConfigPath, cfg, log)
			if err != nil {
				return err
			}
			defer deps.mcp.CloseAll(func(name string, err error) {
				log.Warn("mcp server close failed", "server", name, "error", err.Error())
			})

			script, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read script from stdin: %w", err)
			}

			defaultAuth, err := cfg.DefaultCredentials()
			if err != nil {
				return fmt.Errorf("resolve default credentials: %w", err)
			}

			result, err := deps.exec.Execute(cmd.Context(), string(script), defaultAuth, timeoutMS)
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(result)
		},
	}
	cmd.Flags().Int64Var(&timeoutMS, "timeout-ms", 0, "override the execution timeout in milliseconds")
	return cmd
}

// serverDeps bundles the long-lived pieces buildExecutor wires together,
// so the caller can also reach the MCP gateway (for shutdown) and the
// metrics instrument set (for the /metrics route).
type serverDeps struct {
	exec    *executor.Executor
	cat     *catalog.Catalog
	mcp     *mcpgateway.Gateway
	metrics *telemetry.Instruments
}

func buildExecutor(ctx context.Context, manifestPath, mcpConfigPath string, cfg config.Config, log logger.Logger) (*serverDeps, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	cat, err := catalog.LoadManifest(raw)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	metrics, err := telemetry.New()
	if err != nil {
		log.Warn("telemetry disabled", "error", err.Error())
		metrics = nil
	}

	restyClient := httpgateway.NewRestyClient(30 * time.Second)
	httpGW := httpgateway.New(restyClient)
	httpGW.SetMetrics(metrics)

	mcpGW := mcpgateway.New(10 * time.Second)
	mcpGW.SetMetrics(metrics)
	if mcpConfigPath != "" {
		configs, err := loadMcpConfigs(mcpConfigPath)
		if err != nil {
			return nil, err
		}
		mcpGW.ConnectAll(ctx, configs, func(name string, err error) {
			log.Warn("mcp server connect failed", "server", name, "error", err.Error())
		})
	}

	execCfg := executor.Config{
		TimeoutMS:         cfg.Executor.TimeoutMS,
		MemoryLimit:       cfg.Executor.MemoryLimit,
		MaxAPICalls:       cfg.Executor.MaxAPICalls,
		FilesystemEnabled: cfg.Filesystem.Enabled,
		FilesystemRoot:    cfg.Filesystem.RootDir,
		MaxWriteBytes:     cfg.Filesystem.MaxWriteBytes,
		MaxHandles:        cfg.Filesystem.MaxHandles,
	}
	return &serverDeps{
		exec:    executor.New(cat, httpGW, mcpGW, execCfg, metrics),
		cat:     cat,
		mcp:     mcpGW,
		metrics: metrics,
	}, nil
}

func loadMcpConfigs(path string) ([]mcpgateway.ServerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var configs []mcpgateway.ServerConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	return configs, nil
}
