// Package main provides the CLI entry point for the Vriksha agent runtime.
//
// Vriksha runs a supervised tree of LLM agents over a pool of providers
// (Anthropic, OpenAI-compatible endpoints, local Ollama) with complexity-aware
// model routing, tool execution, and persistent session history.
//
// # Basic Usage
//
// Chat interactively:
//
//	vriksha chat
//
// Ask a one-shot question:
//
//	vriksha chat "summarize the sprint notes"
//
// Inspect stored conversations:
//
//	vriksha sessions list
//	vriksha sessions search "deploy"
//
// # Environment Variables
//
// Provider credentials are read from the environment:
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GROQ_API_KEY, CEREBRAS_API_KEY, MISTRAL_API_KEY, DEEPSEEK_API_KEY,
//     XAI_API_KEY, OPENROUTER_API_KEY, TOGETHER_API_KEY: OpenAI-compatible
//     providers, registered when the key is present
//   - OLLAMA_HOST: local Ollama server (default: http://localhost:11434)
//   - VRIKSHA_CONFIG: path to the configuration file
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath  string
	profileFlag string
	logLevel    string
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vriksha",
		Short: "Vriksha - hierarchical multi-agent LLM runtime",
		Long: `Vriksha runs a supervised tree of LLM agents with model routing.

A root agent classifies each request by task type and complexity, binds it to
the cheapest capable model in the active profile, and escalates through the
provider chain on failure. Agents can delegate to sub-agents, execute tools,
and persist their conversations for later search.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (or set VRIKSHA_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "routing profile: local, cloud, hybrid (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	rootCmd.AddCommand(
		buildChatCmd(),
		buildSessionsCmd(),
		buildProvidersCmd(),
		buildRouteCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("VRIKSHA_CONFIG")
}
