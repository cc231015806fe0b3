// Package main provides the CLI entry point for the Operant agent runtime.
//
// Operant drives large-language-model agents through a plan/act/reflect
// loop with sandboxed command execution, safety review of every mutating
// action, and an HTTP/WebSocket server for asynchronous jobs.
//
// # Basic Usage
//
// Start the server:
//
//	operant serve --config ~/.operant/config.yml
//
// Run a one-shot task in the terminal:
//
//	operant run "summarize the files in this directory"
//
// Manage agents and credentials:
//
//	operant agents list
//	operant credentials set ANTHROPIC_API_KEY
//
// # Environment Variables
//
//   - OPERANT_HOME: state directory (default: ~/.operant)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY,
//     GOOGLE_API_KEY: provider credentials, consulted when the
//     credential store has no entry
//   - SERP_API_KEY, TAVILY_API_KEY: web search providers
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "operant",
		Short: "Operant - autonomous agent execution runtime",
		Long: `Operant accepts natural-language tasks, drives an LLM through a
multi-step reasoning loop, and executes the model's proposed actions in a
sandboxed local environment with safety review.

Supported hostings: Anthropic (Claude), OpenAI (GPT), OpenRouter, Ollama, Google (Gemini)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRunCmd(),
		buildAgentsCmd(),
		buildJobsCmd(),
		buildCredentialsCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
