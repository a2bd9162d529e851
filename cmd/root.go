package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel  string
	logger    *slog.Logger
	dataDir   string
	storeKind string
)

var rootCmd = &cobra.Command{
	Use:   "esbench",
	Short: "Benchmark evolution strategies on black-box test functions",
	Long: `esbench runs batches of independent (mu+lambda) evolution strategy runs
on instances of a BBOB-style test suite, stores per-run results and optional
evaluation traces, and serves running experiments over HTTP.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stdout, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for results and traces")
	rootCmd.PersistentFlags().StringVar(&storeKind, "store", "fs", "Result store backend (fs, sqlite)")
}
