package harness

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/weiihann/iobench/format"
)

// AdapterConfig describes one adapter of a benchmark plan.
type AdapterConfig struct {
	Name        string               `yaml:"name"`
	Format      format.Format        `yaml:"format"`
	Inference   format.InferenceMode `yaml:"inference"`
	SampleRows  int                  `yaml:"sample_rows"`
	Delimiter   string               `yaml:"delimiter"`
	NullToken   string               `yaml:"null_token"`
	Compression format.Compression   `yaml:"compression"`
	BatchRows   int                  `yaml:"batch_rows"`
}

// KnownAdapters returns the adapters benchmarked when none are
// configured: one per format plus the alternative native codecs.
func KnownAdapters() []AdapterConfig {
	return []AdapterConfig{
		{Name: "delimited", Format: format.Delimited},
		{Name: "native", Format: format.Native, Compression: format.Zstd},
		{Name: "native-snappy", Format: format.Native, Compression: format.Snappy},
		{Name: "native-raw", Format: format.Native, Compression: format.NoCompression},
		{Name: "columnar", Format: format.Columnar},
		{Name: "parquet", Format: format.Parquet},
	}
}

// BuildAdapter constructs the adapter described by cfg.
func BuildAdapter(cfg AdapterConfig, logger *slog.Logger) (format.Adapter, error) {
	f, err := format.Parse(string(cfg.Format))
	if err != nil {
		return nil, fmt.Errorf("adapter %q: %w", cfg.Name, err)
	}

	opts := format.Options{
		Name:        cfg.Name,
		Inference:   cfg.Inference,
		SampleRows:  cfg.SampleRows,
		NullToken:   cfg.NullToken,
		Compression: cfg.Compression,
		BatchRows:   cfg.BatchRows,
		Logger:      logger,
	}

	if cfg.Delimiter != "" {
		d, size := utf8.DecodeRuneInString(cfg.Delimiter)
		if size != len(cfg.Delimiter) || d == '"' || d == '\n' || d == '\r' {
			return nil, fmt.Errorf("adapter %q: invalid delimiter %q", cfg.Name, cfg.Delimiter)
		}
		opts.Delimiter = d
	}

	return format.New(f, opts)
}

// BuildAdapters constructs every adapter in cfgs, in order.
func BuildAdapters(cfgs []AdapterConfig, logger *slog.Logger) ([]format.Adapter, error) {
	adapters := make([]format.Adapter, 0, len(cfgs))

	for _, cfg := range cfgs {
		a, err := BuildAdapter(cfg, logger)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}

	if err := checkAdapters(adapters); err != nil {
		return nil, err
	}

	return adapters, nil
}
