// Package cli builds the falconq command tree: executor (the dispatch
// engine), http (the collaborator API), and migrate (schema management).
// Signal handling follows the usual SIGINT/SIGTERM graceful-shutdown
// pattern.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/falconq/falconq/internal/config"
	"github.com/falconq/falconq/internal/engine"
	"github.com/falconq/falconq/internal/executor"
	"github.com/falconq/falconq/internal/httpapi"
	"github.com/falconq/falconq/internal/metrics"
	"github.com/falconq/falconq/internal/store"
)

var configFile string

// BuildCLI assembles the falconq root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "falconq",
		Short: "falconq: an exactly-once, timestamp-scheduled task dispatcher",
		Long: `falconq dispatches tasks at a scheduled execution_time with
exactly-once semantics, backed entirely by Postgres row locking — no
distributed coordinator, no leader election.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/falconq.yaml", "config file path")

	rootCmd.AddCommand(buildExecutorCommand())
	rootCmd.AddCommand(buildHTTPCommand())
	rootCmd.AddCommand(buildMigrateCommand())

	return rootCmd
}

func buildExecutorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "executor",
		Short: "Run the dispatch engine: subscriber, poller, and claim-and-execute workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecutor(cmd.Context())
		},
	}
}

func runExecutor(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.Default().With("service", "falconq-executor")

	gw, err := store.NewPgGateway(ctx, store.PgConfig{
		ConnString:     cfg.Database.ConnString,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer gw.Close()

	collector := metrics.NewCollector()
	go func() {
		logger.Info("starting metrics server", "addr", cfg.Metrics.Addr)
		if err := metrics.StartServer(ctx, cfg.Metrics.Addr); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()

	eng := engine.New(engine.Config{
		QueueCapacity:          cfg.Engine.QueueCapacity,
		MaxConcurrentExecuting: cfg.Engine.MaxConcurrentExecuting,
		MaxSecondsToSleep:      cfg.Engine.MaxSecondsToSleep,
		PollInterval:           cfg.Engine.PollInterval,
		PollPageSize:           cfg.Engine.PollPageSize,
		ShutdownGrace:          cfg.Engine.ShutdownGrace,
		WorkerID:               cfg.Engine.WorkerID,
	}, gw, executor.NewRegistry(), cfg.Database.ConnString, logger)
	eng.SetRecorder(collector)

	eng.Start()
	logger.Info("executor started")

	waitForSignal()
	logger.Info("received shutdown signal, stopping gracefully")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownGrace+10*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Warn("engine did not stop cleanly within the deadline", "error", err)
	}

	logger.Info("executor stopped")
	return nil
}

func buildHTTPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "http",
		Short: "Run the HTTP create/get/list/delete API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(cmd.Context())
		},
	}
}

func runHTTP(ctx context.Context) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.Default().With("service", "falconq-http")

	gw, err := store.NewPgGateway(ctx, store.PgConfig{
		ConnString:     cfg.Database.ConnString,
		MaxConns:       cfg.Database.MaxConns,
		ConnectTimeout: cfg.Database.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer gw.Close()

	collector := metrics.NewCollector()
	go func() {
		logger.Info("starting metrics server", "addr", cfg.Metrics.Addr)
		if err := metrics.StartServer(ctx, cfg.Metrics.Addr); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()

	srv := httpapi.New(gw, logger)
	srv.SetRecorder(collector)
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: srv.Router()}

	go func() {
		logger.Info("starting HTTP API server", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	waitForSignal()
	logger.Info("received shutdown signal, stopping gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildMigrateCommand() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back) the task schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), down)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll back the schema instead of applying it")
	return cmd
}

func runMigrate(ctx context.Context, down bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.Default().With("service", "falconq-migrate")

	if down {
		logger.Info("rolling back schema")
		return store.MigrateDown(cfg.Database.ConnString)
	}

	logger.Info("applying schema")
	return store.MigrateUp(cfg.Database.ConnString)
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
}
