package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/iobench/config"
	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/harness"
	"github.com/weiihann/iobench/report"
	"github.com/weiihann/iobench/workload"
)

type runConfig struct {
	planPath       string
	datasets       []string
	sourceFormat   string
	inference      string
	adapters       []string
	trials         int
	scales         []int
	concurrency    int
	workDir        string
	keepFiles      bool
	timeout        time.Duration
	chunkThreshold int64
	chunkSize      int64
	jsonPath       string
	sqlitePath     string
	kind           string
	rows           int
	seed           int64
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var cfg runConfig

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Benchmark format adapters on one or more datasets",
		Long: `Load each dataset, then time repeated writes and reads through every
adapter and print a summary table. Without --plan or --dataset a
synthetic dataset is generated first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd.Context(), logger, cmd.OutOrStdout(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.planPath, "plan", "",
		"YAML benchmark plan (other run flags are ignored)")
	flags.StringSliceVar(&cfg.datasets, "dataset", nil,
		"Source files as path or name=path")
	flags.StringVar(&cfg.sourceFormat, "format", "",
		"Format of the source files (default: from suffix)")
	flags.StringVar(&cfg.inference, "inference", "strict",
		"Type inference for delimited sources: strict, sampling, fast")
	flags.StringSliceVar(&cfg.adapters, "adapters", nil,
		"Adapters to benchmark (default: all)")
	flags.IntVar(&cfg.trials, "trials", config.DefaultTrials,
		"Timed trials per adapter and operation")
	flags.IntSliceVar(&cfg.scales, "scales", nil,
		"Replication factors for the scaling scenario (e.g. 1,10,100)")
	flags.IntVar(&cfg.concurrency, "concurrency", 0,
		"Also run the concurrent scenario with this many workers")
	flags.StringVar(&cfg.workDir, "work-dir", "",
		"Directory for trial output files")
	flags.BoolVar(&cfg.keepFiles, "keep-files", false,
		"Keep trial output files")
	flags.DurationVar(&cfg.timeout, "timeout", 0,
		"Abort a dataset's run after this long (0 = no limit)")
	flags.Int64Var(&cfg.chunkThreshold, "chunk-threshold", config.DefaultChunkThreshold,
		"Load delimited sources larger than this many bytes in chunks")
	flags.Int64Var(&cfg.chunkSize, "chunk-size", harness.DefaultChunkSize,
		"Chunk size in bytes for chunked loading")
	flags.StringVar(&cfg.jsonPath, "json", "",
		"Write raw records as JSON to this file (- for stdout instead of the table)")
	flags.StringVar(&cfg.sqlitePath, "sqlite", "",
		"Append raw records to this SQLite database")
	flags.StringVar(&cfg.kind, "kind", workload.CO2,
		"Synthetic dataset kind when no dataset is given")
	flags.IntVar(&cfg.rows, "rows", 0,
		"Synthetic dataset rows (default: natural size of the kind)")
	flags.Int64Var(&cfg.seed, "seed", 0,
		"Random seed for the synthetic dataset (0 = use current time)")

	return cmd
}

func runBenchmark(
	ctx context.Context,
	logger *slog.Logger,
	out io.Writer,
	cfg runConfig,
) error {
	plan, cleanup, err := buildPlan(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	reg, descs, err := plan.Registry()
	if err != nil {
		return err
	}

	adapters, err := harness.BuildAdapters(plan.Adapters, logger)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.Any("datasets", reg.Names()),
		slog.Int("adapters", len(adapters)),
		slog.Int("trials", plan.Trials),
		slog.Any("scales", plan.Scales),
		slog.Int("concurrency", plan.Concurrency),
	)

	var records []harness.Record

	for i, desc := range descs {
		runner := harness.NewRunner(reg, plan.RunConfig(plan.Datasets[i]), logger)

		var recs []harness.Record
		if len(plan.Scales) > 0 {
			recs, err = runner.RunScaled(ctx, desc, adapters, plan.Trials, plan.Scales)
		} else {
			recs, err = runner.Run(ctx, desc, adapters, plan.Trials)
		}
		if err != nil {
			return fmt.Errorf("run %s: %w", desc.Name, err)
		}
		records = append(records, recs...)

		if plan.Concurrency > 0 {
			recs, err = runner.RunConcurrent(ctx, desc, adapters, plan.Trials, plan.Concurrency)
			if err != nil {
				return fmt.Errorf("run %s concurrently: %w", desc.Name, err)
			}
			records = append(records, recs...)
		}
	}

	if err := writeResults(ctx, out, plan.Output, records); err != nil {
		return err
	}

	logger.InfoContext(ctx, "benchmark complete", slog.Int("records", len(records)))

	return nil
}

func writeResults(ctx context.Context, out io.Writer, o config.Output, records []harness.Record) error {
	switch o.JSON {
	case "-":
		if err := report.JSON(out, records); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	default:
		summary, err := report.Summarize(records)
		if err != nil {
			return err
		}

		if err := report.Markdown(out, summary); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}

		if o.JSON != "" {
			if err := writeJSONFile(o.JSON, records); err != nil {
				return err
			}
		}
	}

	if o.SQLite != "" {
		if err := report.ExportSQLite(ctx, o.SQLite, records); err != nil {
			return fmt.Errorf("export sqlite: %w", err)
		}
	}

	return nil
}

func writeJSONFile(path string, records []harness.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create JSON report: %w", err)
	}

	if err := report.JSON(f, records); err != nil {
		f.Close()

		return fmt.Errorf("generate JSON report: %w", err)
	}

	return f.Close()
}

// buildPlan loads the plan file or assembles a plan from flags. The
// returned cleanup removes a generated dataset.
func buildPlan(ctx context.Context, logger *slog.Logger, cfg runConfig) (*config.Plan, func(), error) {
	noop := func() {}

	if cfg.planPath != "" {
		plan, err := config.Load(cfg.planPath)
		if err != nil {
			return nil, noop, err
		}

		return plan, noop, nil
	}

	inference, err := format.ParseInferenceMode(cfg.inference)
	if err != nil {
		return nil, noop, err
	}

	plan := &config.Plan{
		Trials:      cfg.trials,
		Scales:      cfg.scales,
		Concurrency: cfg.concurrency,
		WorkDir:     cfg.workDir,
		KeepFiles:   cfg.keepFiles,
		Timeout:     cfg.timeout,
		Chunk:       config.Chunk{Threshold: cfg.chunkThreshold, Size: cfg.chunkSize},
		Output:      config.Output{JSON: cfg.jsonPath, SQLite: cfg.sqlitePath},
	}

	if plan.Adapters, err = selectAdapters(cfg.adapters); err != nil {
		return nil, noop, err
	}

	cleanup := noop
	datasets := cfg.datasets

	if len(datasets) == 0 {
		path, err := generateDataset(ctx, logger, cfg)
		if err != nil {
			return nil, noop, fmt.Errorf("generate dataset: %w", err)
		}

		cleanup = func() { os.Remove(path) }
		datasets = []string{cfg.kind + "=" + path}
	}

	for _, d := range datasets {
		name, path, ok := strings.Cut(d, "=")
		if !ok {
			path = name
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}

		plan.Datasets = append(plan.Datasets, config.Dataset{
			Name:      name,
			Path:      path,
			Format:    format.Format(cfg.sourceFormat),
			Inference: inference,
		})
	}

	plan.ApplyDefaults()

	if err := plan.Validate(); err != nil {
		cleanup()

		return nil, noop, err
	}

	return plan, cleanup, nil
}

func selectAdapters(names []string) ([]harness.AdapterConfig, error) {
	if len(names) == 0 {
		return harness.KnownAdapters(), nil
	}

	known := make(map[string]harness.AdapterConfig)
	for _, a := range harness.KnownAdapters() {
		known[a.Name] = a
	}

	selected := make([]harness.AdapterConfig, 0, len(names))
	for _, n := range names {
		a, ok := known[n]
		if !ok {
			return nil, fmt.Errorf("unknown adapter %q", n)
		}
		selected = append(selected, a)
	}

	return selected, nil
}

func generateDataset(
	ctx context.Context,
	logger *slog.Logger,
	cfg runConfig,
) (string, error) {
	seed := cfg.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	rows := cfg.rows
	if rows == 0 {
		rows = workload.DefaultRows(cfg.kind)
	}

	gen := workload.NewGenerator(workload.Config{
		Kind: cfg.kind,
		Rows: rows,
		Seed: seed,
	})

	tmpFile, err := os.CreateTemp("", "iobench-"+cfg.kind+"-*.csv")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	summary, err := gen.Generate(tmpFile)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())

		return "", fmt.Errorf("generate: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("close dataset file: %w", err)
	}

	logger.InfoContext(ctx, "dataset generated",
		slog.String("path", tmpFile.Name()),
		slog.String("kind", cfg.kind),
		slog.Int("rows", summary.Rows),
		slog.Int64("bytes", summary.Bytes),
	)

	return tmpFile.Name(), nil
}
