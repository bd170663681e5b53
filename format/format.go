// Package format provides pluggable read/write adapters over the
// serialization formats compared by the benchmark: delimited text, a
// native binary encoding, Arrow IPC, and Parquet.
package format

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/weiihann/iobench/table"
)

// Format is the tag of a physical serialization format.
type Format string

// Supported formats.
const (
	Delimited Format = "delimited"
	Native    Format = "native"
	Columnar  Format = "columnar"
	Parquet   Format = "parquet"
)

// Known returns the supported format tags.
func Known() []Format {
	return []Format{Delimited, Native, Columnar, Parquet}
}

// Parse validates an explicit format tag.
func Parse(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range Known() {
		if f == k {
			return f, nil
		}
	}

	return "", fmt.Errorf("unknown format %q", s)
}

// FromSuffix infers the format from a file name suffix. An explicit
// tag always takes precedence over this.
func FromSuffix(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return Delimited, nil
	case ".gob", ".rbn":
		return Native, nil
	case ".arrow", ".feather", ".ipc":
		return Columnar, nil
	case ".parquet":
		return Parquet, nil
	default:
		return "", fmt.Errorf("cannot infer format from %q", path)
	}
}

// Ext returns the file extension used when writing f.
func (f Format) Ext() string {
	switch f {
	case Delimited:
		return ".csv"
	case Native:
		return ".rbn"
	case Columnar:
		return ".arrow"
	case Parquet:
		return ".parquet"
	default:
		return ""
	}
}

// Adapter reads and writes tables in one format.
type Adapter interface {
	// Name identifies the adapter in measurement records.
	Name() string
	Format() Format
	// Read loads the file at path. When columns are given only those
	// columns are materialized, in file order.
	Read(ctx context.Context, path string, columns ...string) (*table.Table, error)
	// Write creates or replaces path and returns the file size.
	Write(ctx context.Context, t *table.Table, path string) (int64, error)
}

// Options configure an adapter. Fields that do not apply to a format
// are ignored.
type Options struct {
	Name        string
	Inference   InferenceMode
	SampleRows  int
	Delimiter   rune
	NullToken   string
	Schema      table.Schema
	Compression Compression
	BatchRows   int
	Logger      *slog.Logger
}

func (o Options) withDefaults(f Format) Options {
	if o.Name == "" {
		o.Name = string(f)
	}
	if o.SampleRows <= 0 {
		o.SampleRows = DefaultSampleRows
	}
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.NullToken == "" {
		o.NullToken = "NA"
	}
	if o.BatchRows <= 0 {
		o.BatchRows = 64 * 1024
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	o.Logger = o.Logger.With(slog.String("adapter", o.Name))

	return o
}

// New constructs the adapter for f.
func New(f Format, opts Options) (Adapter, error) {
	switch f {
	case Delimited:
		return NewDelimited(opts), nil
	case Native:
		return NewNative(opts), nil
	case Columnar:
		return NewColumnar(opts), nil
	case Parquet:
		return NewParquet(opts), nil
	default:
		return nil, fmt.Errorf("unknown format %q", f)
	}
}

// selectColumns maps requested column names onto positions in names.
// No request selects every column.
func selectColumns(names, columns []string) ([]int, error) {
	if len(columns) == 0 {
		sel := make([]int, len(names))
		for i := range names {
			sel[i] = i
		}

		return sel, nil
	}

	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}

	sel := make([]int, 0, len(columns))
	for i, n := range names {
		if want[n] {
			sel = append(sel, i)
			delete(want, n)
		}
	}

	for _, c := range columns {
		if want[c] {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}

	return sel, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

func logDiagnostics(ctx context.Context, logger *slog.Logger, path string, t *table.Table) {
	if len(t.Diagnostics) == 0 {
		return
	}

	first := t.Diagnostics[0]
	logger.WarnContext(ctx, "type inference diagnostics",
		slog.String("path", path),
		slog.Int("count", len(t.Diagnostics)),
		slog.Int("first_row", first.Row),
		slog.String("first_column", first.Column),
		slog.String("first_message", first.Message),
	)
}
