// Package main provides the CLI entry point for iobench, a benchmark of
// how fast tables can be written and read back in different file formats.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "iobench",
		Short: "Data I/O benchmarking and chunked ingestion",
		Long: `iobench times how long tables take to write and read back through
delimited text, a native binary encoding, Arrow IPC and Parquet, and
reports every format relative to the fastest one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return level.UnmarshalText([]byte(logLevel))
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(logger),
		newGenerateCmd(logger),
		newInferCmd(logger),
		newChunksCmd(logger),
	)

	return root
}
