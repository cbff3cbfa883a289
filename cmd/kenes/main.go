// Package main provides the CLI entry point for the Kenes agent
// orchestration runtime.
//
// Kenes routes inbound messages from messaging channels to a catalog of
// specialist agents (finance, calendar, tasks, contacts, knowledge) with
// schema-validated tool dispatch, per-run execution traces, at-most-once
// inbound processing and a proactive reminder scheduler.
//
// # Basic Usage
//
// Start the server:
//
//	kenes serve --config kenes.yaml
//
// Inspect a run trace:
//
//	kenes trace get <trace-id> --tenant <tenant-id> --config kenes.yaml
//	kenes trace list --tenant <tenant-id> --status failed
//
// # Environment Variables
//
//   - KENES_CONFIG: path to the configuration file (default: kenes.yaml)
//   - OPENAI_API_KEY: OpenAI API key for the openai planner backend
//   - ANTHROPIC_API_KEY: Anthropic API key for the anthropic backend
//   - TELEGRAM_BOT_TOKEN: Telegram bot token
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A local .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kenes",
		Short: "Kenes - agent orchestration runtime for a business assistant",
		Long: `Kenes routes inbound messages to specialist agents with bounded,
traceable execution: classification, tool dispatch with schema
validation, at-most-once inbound processing, and proactive reminders.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTraceCmd(),
	)
	return rootCmd
}

func configPathFromFlag(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("KENES_CONFIG"); env != "" {
		return env
	}
	return "kenes.yaml"
}
