// Package cmd implements the nutria command-line interface.
package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nutria0/nutria/internal/log"
)

var (
	logLevelFlag string
	logJSONFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "nutria",
	Short: "Nutria - nutrition and fitness assistant backend",
	Long: `Nutria is a chat-first nutrition and fitness assistant.

It serves an HTTP API with a streaming chat endpoint backed by an LLM
agent that logs meals and water, remembers user preferences long-term,
and a REST surface for manual intake tracking.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", false, "emit logs as JSON")
}

// newLogger builds the process logger from the persistent flags.
func newLogger() (log.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevelFlag) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", logLevelFlag)
	}
	return log.New(log.Config{Level: level, JSON: logJSONFlag}), nil
}
