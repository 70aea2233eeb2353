// Package main provides the CLI entry point for the agentcore runtime.
//
// agentcore connects messaging platforms (Telegram, Discord, Slack) to LLM
// providers (Anthropic, OpenAI) through a single agent loop with tool
// execution, background subagents, and a persistent cron scheduler.
//
// # Basic Usage
//
// Start the runtime:
//
//	agentcore run --config agentcore.yaml
//
// Talk to the agent from the terminal:
//
//	agentcore chat
//
// Manage scheduled jobs:
//
//	agentcore cron list
//	agentcore cron add --name standup --cron "0 9 * * 1-5" --message "Post the standup reminder"
//	agentcore cron rm <id>
//
// # Environment Variables
//
//   - AGENTCORE_CONFIG: Path to configuration file (default: agentcore.yaml)
//   - AGENTCORE_OTLP_ENDPOINT: OTLP collector endpoint for tracing (optional)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: referenced from the config file
//     via ${VAR} expansion
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	// Registers the sqlite driver used by the optional SQL-backed
	// session store (sessions.NewSQLiteStore).
	_ "modernc.org/sqlite"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:          "agentcore",
		Short:        "Multi-channel AI agent runtime",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to configuration file")

	root.AddCommand(
		newRunCommand(),
		newChatCommand(),
		newCronCommand(),
		newDoctorCommand(),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if path := os.Getenv("AGENTCORE_CONFIG"); path != "" {
		return path
	}
	return "agentcore.yaml"
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("agentcore %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
