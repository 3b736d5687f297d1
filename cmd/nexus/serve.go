package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexuscore/agentruntime/internal/config"
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the runtime: the
// bus, session store, agent loop, scheduler, subagent manager, and every
// configured channel adapter.
//
// Grounded on cmd/nexus/commands_serve.go's buildServeCmd (Use/Short/Long/
// Example doc strings, --config/--debug flags, RunE delegating to a runServe
// helper) and handlers_serve.go's runServe body (load config, stand up the
// runtime, install a signal.NotifyContext, wait for shutdown, stop within a
// bounded grace period).
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Nexus agent runtime",
		Long: `Start the Nexus agent runtime with all configured channels and providers.

The runtime will:
1. Load configuration from the specified file
2. Open the session store (in-memory or SQL, per database.url)
3. Start every enabled channel adapter (Telegram, Discord, Slack) plus terminal
4. Start the agent loop, scheduler, and subagent manager
5. Serve health, metrics, and schedule/subagent listings over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		Example: `  nexus serve --config nexus.yaml
  nexus serve --config nexus.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "nexus.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("nexus: load config: %w", err)
	}

	logger.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"llm_provider", cfg.LLM.DefaultProvider,
	)

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("nexus: build runtime: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rt.Start(ctx); err != nil {
		return err
	}

	statusAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	status, err := startStatusServer(rt, statusAddr)
	if err != nil {
		return err
	}

	logger.Info("nexus runtime started", "status_addr", statusAddr)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := status.Stop(shutdownCtx); err != nil {
		logger.Warn("status server shutdown error", "error", err)
	}
	if err := rt.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("nexus: shutdown: %w", err)
	}

	logger.Info("nexus runtime stopped")
	return nil
}
