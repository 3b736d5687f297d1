// Package main provides the CLI entry point for the Nexus agent runtime.
//
// Nexus bridges messaging channels (Telegram, Discord, Slack, and a local
// terminal) to LLM providers (Anthropic, OpenAI, Bedrock, Gemini), dispatching
// each inbound message through an agent loop with tool execution, session
// memory, scheduled tasks, and background subagents.
//
// # Basic Usage
//
// Start the runtime:
//
//	nexus serve --config nexus.yaml
//
// List a session's scheduled tasks or running subagents against a running
// server:
//
//	nexus schedule list --session s1 --server http://localhost:8080
//	nexus subagent list --session s1 --server http://localhost:8080
//
// # Environment Variables
//
// The configuration file path comes only from --config (default:
// nexus.yaml). Environment variables are read through $VAR / ${VAR}
// references inside that file, for example:
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials
//   - TELEGRAM_BOT_TOKEN, DISCORD_BOT_TOKEN, SLACK_BOT_TOKEN, SLACK_APP_TOKEN
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus",
		Short: "Nexus - multi-channel LLM agent runtime",
		Long: `Nexus connects messaging channels to LLM providers with tool execution,
session memory, scheduled tasks, and background subagents.

Supported channels: Telegram, Discord, Slack, terminal
Supported providers: Anthropic, OpenAI, Bedrock, Gemini`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildScheduleCmd(),
		buildSubagentCmd(),
	)

	return rootCmd
}
