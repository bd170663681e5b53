package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weiihann/iobench/chunk"
	"github.com/weiihann/iobench/dataset"
	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/table"
)

// DefaultChunkSize is the chunk size used to load large delimited
// sources when RunConfig.ChunkSize is unset.
const DefaultChunkSize = 4 << 20

// RunConfig holds parameters shared by every run of a Runner.
type RunConfig struct {
	// WorkDir receives the files written by the trials.
	WorkDir string
	// ChunkThreshold is the source size above which a delimited source
	// is loaded through the chunked reader. Zero disables chunking.
	ChunkThreshold int64
	ChunkSize      int64
	// Source configures the adapter that loads the source file.
	Source    format.Options
	KeepFiles bool
	Timeout   time.Duration
}

// Runner times format adapters against registered datasets.
type Runner struct {
	Registry *dataset.Registry
	Config   RunConfig
	Logger   *slog.Logger

	newID func() string
}

// NewRunner creates a Runner. Write targets are checked against reg so
// that no trial overwrites a registered source.
func NewRunner(reg *dataset.Registry, cfg RunConfig, logger *slog.Logger) *Runner {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Runner{
		Registry: reg,
		Config:   cfg,
		Logger:   logger,
		newID:    uuid.NewString,
	}
}

// pass is one labeled batch of trials over a loaded table.
type pass struct {
	runID    string
	runDir   string
	dataset  string
	scenario string
	scale    int
	workers  int
	src      *table.Table
}

// Run loads desc and times trials writes followed by trials reads for
// each adapter, in order. It returns trials*2*len(adapters) records;
// adapter failures are recorded, not returned.
func (r *Runner) Run(
	ctx context.Context,
	desc dataset.Descriptor,
	adapters []format.Adapter,
	trials int,
) ([]Record, error) {
	return r.run(ctx, desc, adapters, trials, Sequential, []int{1}, 1)
}

// RunScaled repeats Run over the source replicated factor-fold for each
// of factors. Records carry the factor as their Scale.
func (r *Runner) RunScaled(
	ctx context.Context,
	desc dataset.Descriptor,
	adapters []format.Adapter,
	trials int,
	factors []int,
) ([]Record, error) {
	if len(factors) == 0 {
		return nil, errors.New("no scale factors")
	}

	for _, k := range factors {
		if k < 1 {
			return nil, fmt.Errorf("scale factor must be at least 1, got %d", k)
		}
	}

	return r.run(ctx, desc, adapters, trials, Sequential, factors, 1)
}

// RunConcurrent runs the trials of each operation on up to workers
// goroutines. Records are labeled with the Concurrent scenario.
func (r *Runner) RunConcurrent(
	ctx context.Context,
	desc dataset.Descriptor,
	adapters []format.Adapter,
	trials int,
	workers int,
) ([]Record, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", workers)
	}

	return r.run(ctx, desc, adapters, trials, Concurrent, []int{1}, workers)
}

func (r *Runner) run(
	ctx context.Context,
	desc dataset.Descriptor,
	adapters []format.Adapter,
	trials int,
	scenario string,
	factors []int,
	workers int,
) ([]Record, error) {
	if trials < 1 {
		return nil, &InvalidTrialCountError{Trials: trials}
	}

	if err := checkAdapters(adapters); err != nil {
		return nil, err
	}

	if r.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Config.Timeout)
		defer cancel()
	}

	src, err := r.load(ctx, desc)
	if err != nil {
		return nil, err
	}

	runID := r.newID()
	runDir := filepath.Join(r.Config.WorkDir, runID)
	logger := r.Logger.With(
		slog.String("run_id", runID),
		slog.String("dataset", desc.Name),
		slog.String("scenario", scenario),
	)

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir %s: %w", runDir, err)
	}

	if !r.Config.KeepFiles {
		defer func() {
			if err := os.RemoveAll(runDir); err != nil {
				logger.Warn("failed to remove work files",
					slog.String("dir", runDir),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	logger.InfoContext(ctx, "starting run",
		slog.Int("rows", src.NumRows()),
		slog.Int("adapters", len(adapters)),
		slog.Int("trials", trials),
		slog.String("work_dir", runDir),
	)

	wallStart := time.Now()
	records := make([]Record, 0, len(factors)*len(adapters)*trials*2)

	for _, k := range factors {
		p := pass{
			runID:    runID,
			runDir:   runDir,
			dataset:  desc.Name,
			scenario: scenario,
			scale:    k,
			workers:  workers,
			src:      src,
		}
		if k > 1 {
			p.src = src.Repeat(k)
		}

		for _, a := range adapters {
			recs, err := r.bench(ctx, logger, p, a, trials)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
	}

	written, err := dirSize(runDir)
	if err != nil {
		logger.Warn("failed to measure work files",
			slog.String("error", err.Error()),
		)
	}

	logger.InfoContext(ctx, "run finished",
		slog.Duration("wall_time", time.Since(wallStart)),
		slog.Int("records", len(records)),
		slog.Uint64("work_bytes", written),
	)

	return records, nil
}

func checkAdapters(adapters []format.Adapter) error {
	if len(adapters) == 0 {
		return errors.New("no adapters to benchmark")
	}

	seen := make(map[string]bool, len(adapters))
	for _, a := range adapters {
		if seen[a.Name()] {
			return fmt.Errorf("duplicate adapter name %q", a.Name())
		}
		seen[a.Name()] = true
	}

	return nil
}

// load reads the source untimed. Large delimited sources go through the
// chunked reader.
func (r *Runner) load(ctx context.Context, desc dataset.Descriptor) (*table.Table, error) {
	f := desc.Format
	if f == "" {
		var err error
		if f, err = format.FromSuffix(desc.SourcePath); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", desc.Name, err)
		}
	}

	opts := r.Config.Source
	opts.Name = "source"
	opts.Logger = r.Logger
	if len(desc.Schema) > 0 {
		opts.Schema = desc.Schema
	}

	if f == format.Delimited && r.Config.ChunkThreshold > 0 && desc.SizeBytes > r.Config.ChunkThreshold {
		r.Logger.InfoContext(ctx, "loading source in chunks",
			slog.String("dataset", desc.Name),
			slog.Int64("size_bytes", desc.SizeBytes),
			slog.Int64("chunk_size", r.Config.ChunkSize),
		)

		t, err := chunk.Collect(ctx, desc.SourcePath, r.Config.ChunkSize, format.NewDelimited(opts))
		if err != nil {
			return nil, fmt.Errorf("load dataset %s: %w", desc.Name, err)
		}

		return t, nil
	}

	a, err := format.New(f, opts)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", desc.Name, err)
	}

	t, err := a.Read(ctx, desc.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", desc.Name, err)
	}

	return t, nil
}

// bench times the write trials of a, then the read trials of the files
// they produced.
func (r *Runner) bench(
	ctx context.Context,
	logger *slog.Logger,
	p pass,
	a format.Adapter,
	trials int,
) ([]Record, error) {
	dir := filepath.Join(p.runDir, fmt.Sprintf("%s-x%d", p.scenario, p.scale), a.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir %s: %w", dir, err)
	}

	targets := make([]string, trials)
	for i := range targets {
		targets[i] = filepath.Join(dir, fmt.Sprintf("trial-%d%s", i, a.Format().Ext()))

		if r.Registry != nil {
			if err := r.Registry.CheckWritable(targets[i]); err != nil {
				return nil, err
			}
		}
	}

	logger = logger.With(
		slog.String("adapter", a.Name()),
		slog.Int("scale", p.scale),
	)

	records := make([]Record, 0, trials*2)

	for _, op := range []Operation{Write, Read} {
		recs := make([]Record, trials)

		p.forEach(trials, func(i int) {
			recs[i] = timeTrial(ctx, p, a, op, i, targets[i])
		})

		failures := 0
		for _, rec := range recs {
			if rec.Failed() {
				failures++
				logger.WarnContext(ctx, "trial failed",
					slog.String("operation", string(op)),
					slog.Int("trial", rec.Trial),
					slog.String("error", rec.Err),
				)
			}
		}

		logger.InfoContext(ctx, "trials finished",
			slog.String("operation", string(op)),
			slog.Int("trials", trials),
			slog.Int("failures", failures),
		)

		records = append(records, recs...)
	}

	return records, nil
}

// forEach calls fn for every trial index, one at a time unless the pass
// has more than one worker.
func (p pass) forEach(n int, fn func(i int)) {
	if p.workers <= 1 {
		for i := range n {
			fn(i)
		}

		return
	}

	var g errgroup.Group
	g.SetLimit(p.workers)

	for i := range n {
		g.Go(func() error {
			fn(i)

			return nil
		})
	}

	_ = g.Wait()
}

// timeTrial runs one adapter call. Only the call itself is timed. A
// panicking adapter fails the trial like a returned error does.
func timeTrial(
	ctx context.Context,
	p pass,
	a format.Adapter,
	op Operation,
	trial int,
	path string,
) (rec Record) {
	defer func() {
		if v := recover(); v != nil {
			rec.ElapsedMs = math.NaN()
			rec.OutputSizeBytes = nil
			rec.Rows = 0
			rec.Err = fmt.Sprint("panic: ", v)
		}
	}()

	rec = Record{
		RunID:     p.runID,
		Dataset:   p.dataset,
		Scenario:  p.scenario,
		Scale:     p.scale,
		Adapter:   a.Name(),
		Operation: op,
		Trial:     trial,
	}

	var err error

	switch op {
	case Write:
		var size int64

		start := time.Now()
		size, err = a.Write(ctx, p.src, path)
		elapsed := time.Since(start)

		if err == nil {
			rec.ElapsedMs = ms(elapsed)
			rec.OutputSizeBytes = &size
			rec.Rows = p.src.NumRows()
		}

	case Read:
		var t *table.Table

		start := time.Now()
		t, err = a.Read(ctx, path)
		elapsed := time.Since(start)

		if err == nil {
			rec.ElapsedMs = ms(elapsed)
			rec.Rows = t.NumRows()
		}
	}

	if err != nil {
		rec.ElapsedMs = math.NaN()
		rec.Err = err.Error()
	}

	return rec
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func dirSize(path string) (uint64, error) {
	var size uint64

	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += uint64(info.Size())
		}

		return nil
	})

	return size, err
}
