// Execd generates, vets, and executes machine-produced code against
// control-system resources, keeping a human in the loop for risky
// operations.
//
// The daemon exposes an HTTP API: POST /api/v1/executions runs the pipeline
// for a request, answering either a completed outcome or 202 with a resume
// key when approval is required; POST /api/v1/executions/{key}/resume
// applies the reviewer's decision.
//
// Configuration is loaded from ~/.config/execd/config.yaml and overridden
// by EXECD_* environment variables. See internal/config for the surface.
//
// Usage:
//
//	# Start the daemon with defaults
//	execd
//
//	# Custom config file
//	execd -config /etc/execd/config.yaml
//
//	# Configure via environment
//	EXECD_SERVER_PORT=9001 EXECD_EXECUTION_METHOD=local execd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/analyzer"
	"github.com/fyrsmithlabs/execd/internal/approval"
	"github.com/fyrsmithlabs/execd/internal/checkpoint"
	"github.com/fyrsmithlabs/execd/internal/config"
	"github.com/fyrsmithlabs/execd/internal/executor"
	"github.com/fyrsmithlabs/execd/internal/generator"
	"github.com/fyrsmithlabs/execd/internal/httpapi"
	"github.com/fyrsmithlabs/execd/internal/logging"
	"github.com/fyrsmithlabs/execd/internal/pipeline"
	"github.com/fyrsmithlabs/execd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/execd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  execd           Start the execd daemon\n")
			fmt.Fprintf(os.Stderr, "  execd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("execd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the pipeline and serves HTTP until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info("Starting execd",
		zap.Int("port", cfg.Server.Port),
		zap.String("execution_method", cfg.Execution.Method),
		zap.String("generator", cfg.Generator.Name),
		zap.String("approval_mode", string(cfg.Approval.GlobalMode)))

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Observability.EnableTelemetry,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	svc, store, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := httpapi.NewServer(svc, logger, &httpapi.Config{
		Host: "0.0.0.0",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildPipeline assembles the generator, analyzer, gate, engine, and
// checkpoint store into the pipeline service.
func buildPipeline(cfg *config.Config, logger *zap.Logger) (pipeline.Service, checkpoint.Store, error) {
	gen, err := generator.DefaultRegistry().Resolve(
		cfg.Generator.Name,
		cfg.Generator.Generators[cfg.Generator.Name],
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build generator: %w", err)
	}

	groups, err := cfg.PatternGroups()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve pattern groups: %w", err)
	}
	an, err := analyzer.New(groups)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build analyzer: %w", err)
	}

	gate, err := approval.New(cfg.ApprovalConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build approval gate: %w", err)
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build execution engine: %w", err)
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build checkpoint store: %w", err)
	}

	svc, err := pipeline.New(pipeline.Config{
		MaxGenerationRetries: cfg.Execution.MaxGenerationRetries,
		MaxExecutionRetries:  cfg.Execution.MaxExecutionRetries,
	}, gen, an, gate, engine, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return svc, store, nil
}

func buildEngine(cfg *config.Config, logger *zap.Logger) (executor.Engine, error) {
	timeout := time.Duration(cfg.Execution.TimeoutSeconds) * time.Second

	mode, err := executor.ParseMode(cfg.Execution.Method)
	if err != nil {
		return nil, err
	}
	switch mode {
	case executor.ModeLocal:
		return executor.NewLocalEngine(executor.LocalConfig{
			PythonEnvPath: cfg.Execution.Local.PythonEnvPath,
			WorkDir:       cfg.Execution.Local.WorkDir,
			Timeout:       timeout,
		}, logger)
	default:
		return executor.NewContainerEngine(executor.ContainerConfig{
			JupyterHost: cfg.Execution.Container.JupyterHost,
			JupyterPort: cfg.Execution.Container.JupyterPort,
			MaxKernels:  cfg.Execution.Container.MaxKernels,
			KernelName:  cfg.Execution.Container.KernelName,
			Timeout:     timeout,
		}, logger)
	}
}

func buildStore(cfg *config.Config, logger *zap.Logger) (checkpoint.Store, error) {
	if cfg.Checkpoint.Backend == "memory" {
		return checkpoint.NewMemoryStore(logger), nil
	}
	return checkpoint.NewFileStore(cfg.Checkpoint.Dir, logger)
}
