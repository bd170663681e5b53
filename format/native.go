package format

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/weiihann/iobench/table"
)

var nativeMagic = []byte("IOBN\x01")

// Compression selects the stream compression of the native format.
type Compression uint8

// Compression codecs.
const (
	Zstd Compression = iota
	Snappy
	NoCompression
)

func (c Compression) String() string {
	switch c {
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	case NoCompression:
		return "none"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a codec name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "zstd":
		return Zstd, nil
	case "snappy":
		return Snappy, nil
	case "none", "off":
		return NoCompression, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(b []byte) error {
	parsed, err := ParseCompression(string(b))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// nativeColumn is the gob wire form of a column.
type nativeColumn struct {
	Name    string
	Type    uint8
	Bools   []bool
	Ints    []int64
	Floats  []float64
	Strings []string
	Codes   []int32
	Levels  []string
	Nulls   []bool
}

// NativeAdapter stores tables as a compressed gob stream: a magic
// header and codec byte, then a column count followed by one
// nativeColumn value per column.
type NativeAdapter struct {
	opts Options
}

// NewNative returns a native binary adapter.
func NewNative(opts Options) *NativeAdapter {
	return &NativeAdapter{opts: opts.withDefaults(Native)}
}

func (a *NativeAdapter) Name() string   { return a.opts.Name }
func (a *NativeAdapter) Format() Format { return Native }

// Write encodes t and returns the size of the file written.
func (a *NativeAdapter) Write(ctx context.Context, t *table.Table, path string) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	if err := a.encode(ctx, f, t); err != nil {
		f.Close()

		return 0, unwritable(a.Name(), path, err)
	}

	if err := f.Close(); err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	size, err := fileSize(path)
	if err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	return size, nil
}

func (a *NativeAdapter) encode(ctx context.Context, w io.Writer, t *table.Table) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(nativeMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(byte(a.opts.Compression)); err != nil {
		return err
	}

	cw, err := compressWriter(bw, a.opts.Compression)
	if err != nil {
		return err
	}

	enc := gob.NewEncoder(cw)
	if err := enc.Encode(t.NumCols()); err != nil {
		return fmt.Errorf("encode column count: %w", err)
	}

	for _, c := range t.Columns {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := enc.Encode(nativeColumn{
			Name:    c.Name,
			Type:    uint8(c.Type),
			Bools:   c.Bools,
			Ints:    c.Ints,
			Floats:  c.Floats,
			Strings: c.Strings,
			Codes:   c.Codes,
			Levels:  c.Levels,
			Nulls:   c.Nulls,
		}); err != nil {
			return fmt.Errorf("encode column %q: %w", c.Name, err)
		}
	}

	if err := cw.Close(); err != nil {
		return fmt.Errorf("close %s stream: %w", a.opts.Compression, err)
	}

	return bw.Flush()
}

// Read decodes a native file. Content that does not match the framing
// or describes an inconsistent column is unreadable.
func (a *NativeAdapter) Read(ctx context.Context, path string, columns ...string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}
	defer f.Close()

	t, err := a.decode(ctx, bufio.NewReader(f), columns)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}

	return t, nil
}

func (a *NativeAdapter) decode(ctx context.Context, r io.Reader, columns []string) (*table.Table, error) {
	head := make([]byte, len(nativeMagic)+1)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(head[:len(nativeMagic)], nativeMagic) {
		return nil, errors.New("not a native binary file")
	}

	cr, err := decompressReader(r, Compression(head[len(nativeMagic)]))
	if err != nil {
		return nil, err
	}
	defer cr.Close()

	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}

	dec := gob.NewDecoder(cr)

	var n int
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("decode column count: %w", err)
	}
	if n < 0 {
		return nil, fmt.Errorf("negative column count %d", n)
	}

	var cols []*table.Column
	names := make([]string, 0, min(n, 1024))
	rows := -1

	for range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var nc nativeColumn
		if err := dec.Decode(&nc); err != nil {
			return nil, fmt.Errorf("decode column %d: %w", len(names), err)
		}
		names = append(names, nc.Name)

		col := &table.Column{
			Name:    nc.Name,
			Type:    table.Type(nc.Type),
			Bools:   nc.Bools,
			Ints:    nc.Ints,
			Floats:  nc.Floats,
			Strings: nc.Strings,
			Codes:   nc.Codes,
			Levels:  nc.Levels,
			Nulls:   nc.Nulls,
		}
		if err := col.Validate(); err != nil {
			return nil, err
		}
		if rows >= 0 && col.Len() != rows {
			return nil, fmt.Errorf("column %q has %d rows, expected %d", col.Name, col.Len(), rows)
		}
		rows = col.Len()

		if len(columns) > 0 && !want[nc.Name] {
			continue
		}

		cols = append(cols, col)
	}

	if _, err := selectColumns(names, columns); err != nil {
		return nil, err
	}

	return table.New(cols...)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case Zstd:
		return zstd.NewWriter(w)
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case NoCompression:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()

	return nil
}

func decompressReader(r io.Reader, c Compression) (io.ReadCloser, error) {
	switch c {
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}

		return zstdReadCloser{dec}, nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case NoCompression:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unknown compression %d", uint8(c))
	}
}
