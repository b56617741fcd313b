package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/chatrelay/pkg/cli"
)

// Global flags
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chatrelay",
	Short: "Chatrelay - session-authenticated streaming relay for chat widgets",
	Long: `Chatrelay sits between browser chat widgets and a text-generation
webhook. It provides:
  - Origin-bound sessions with signed client tokens
  - Browser fingerprint checks on every request
  - Sliding window rate limits per IP, session and domain
  - A circuit breaker in front of the webhook
  - Streaming relay of the webhook output as SSE or NDJSON`,
	Version:      Version,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
}
