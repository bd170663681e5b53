package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/weiihann/iobench/workload"
)

func newGenerateCmd(logger *slog.Logger) *cobra.Command {
	var (
		cfg    workload.Config
		output string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a deterministic synthetic dataset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Rows == 0 {
				cfg.Rows = workload.DefaultRows(cfg.Kind)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}

			summary, err := workload.NewGenerator(cfg).Generate(f)
			if err != nil {
				f.Close()

				return fmt.Errorf("generate: %w", err)
			}

			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", output, err)
			}

			logger.InfoContext(cmd.Context(), "dataset generated",
				slog.String("path", output),
				slog.String("kind", cfg.Kind),
				slog.Int("rows", summary.Rows),
				slog.Int("columns", summary.Columns),
				slog.Int64("bytes", summary.Bytes),
				slog.Int("anomalies", summary.Anomalies),
			)

			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "",
		"Output path")
	flags.StringVar(&cfg.Kind, "kind", workload.CO2,
		"Dataset kind: "+strings.Join(workload.Kinds(), ", "))
	flags.IntVar(&cfg.Rows, "rows", 0,
		"Distinct rows (default: natural size of the kind)")
	flags.IntVar(&cfg.Duplicate, "duplicate", 1,
		"Repeat the rows this many times")
	flags.IntVar(&cfg.AnomalyRow, "anomaly-row", 0,
		"Housing row with a textual built value (0 = last, -1 = none)")
	flags.StringVar(&cfg.Distribution, "distribution", "power-law",
		"Housing price distribution: power-law, uniform, exponential")
	flags.Int64Var(&cfg.Seed, "seed", 1,
		"Random seed")
	flags.StringVar(&cfg.NullToken, "null-token", "NA",
		"Token written for missing values")

	_ = cmd.MarkFlagRequired("output")

	return cmd
}
