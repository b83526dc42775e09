// Package main provides the CLI entry point for the Anvil agent
// orchestration runtime: a headless driver that wires a provider, tool
// registry, and agent loop together and speaks a line-delimited JSON
// protocol over stdin/stdout.
package main

import (
	"log/slog"
	"os"
)

// Build information, populated by ldflags during build.
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

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
