// Package main provides the CLI entry point for breadcrumbd, the runner
// process that hosts the Selector Matcher, Event Bridge, Record Client,
// SSE Dispatcher, Context Assembler, Universal Executor, Subscription
// Registry and Bootstrap Loader described by the breadcrumb runtime spec.
//
// # Basic Usage
//
// Start the dispatcher:
//
//	breadcrumbd serve --config breadcrumbd.yaml
//
// Seed a fresh environment:
//
//	breadcrumbd bootstrap --config breadcrumbd.yaml
//
// Check configuration and connectivity:
//
//	breadcrumbd status --config breadcrumbd.yaml
//
// # Environment Variables
//
//   - RCRT_BASE_URL: record store base URL
//   - OWNER_ID, AGENT_ID, WORKSPACE: this runner's identity
//   - DEPLOYMENT_MODE: local|docker|desktop
//   - LOCAL_KEK_BASE64: local key-encryption-key for the dev token issuer
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
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "breadcrumbd",
		Short: "breadcrumbd - reactive dispatch fabric for breadcrumb-typed events",
		Long: `breadcrumbd routes a record store's breadcrumb event stream to
declaratively-subscribed agents, tools, workflows and context builders,
assembling per-consumer rolling context and enforcing at-most-one
concurrent invocation per trigger.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildBootstrapCmd(),
		buildStatusCmd(),
	)

	return rootCmd
}

func newLogger(cfgLevel, cfgFormat string) *slog.Logger {
	level := slog.LevelInfo
	switch cfgLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfgFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
