// cmd/synctl/main.go
package main

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var server string
	var logLevel string
	var logFormat string
	var timeout time.Duration

	rootCmd := &cobra.Command{
		Use:   "synctl",
		Short: "Operate the GitHub to Jira sync service",
		Long: `synctl talks to the sync service's operator API to inspect backfill
progress and restart syncs of individual or failed subscriptions.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(logLevel, logFormat)
		},
	}
	rootCmd.SetOut(out)

	// Add global flags
	rootCmd.PersistentFlags().StringVarP(&server, "server", "s", "http://localhost:8080", "Sync service base URL")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&logFormat, "log-format", "f", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")

	newClient := func() *client {
		return newOperatorClient(server, timeout)
	}
	rootCmd.AddCommand(newCountsCmd(newClient))
	rootCmd.AddCommand(newStalledCmd(newClient))
	rootCmd.AddCommand(newResyncCmd(newClient))
	rootCmd.AddCommand(newResyncFailedCmd(newClient))
	rootCmd.AddCommand(newProjectKeysCmd(newClient))

	return rootCmd
}

func setupLogger(level, format string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	}

	slog.SetDefault(slog.New(handler))
}
