package format

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/weiihann/iobench/table"
)

// sniffLen is how much of a delimited source is checked for binary
// content before parsing.
const sniffLen = 512

// DelimitedAdapter reads and writes header-first delimited text.
type DelimitedAdapter struct {
	opts  Options
	typer typer
}

// NewDelimited returns a delimited text adapter.
func NewDelimited(opts Options) *DelimitedAdapter {
	opts = opts.withDefaults(Delimited)

	return &DelimitedAdapter{
		opts: opts,
		typer: typer{
			mode:       opts.Inference,
			sampleRows: opts.SampleRows,
			nullToken:  opts.NullToken,
		},
	}
}

func (a *DelimitedAdapter) Name() string   { return a.opts.Name }
func (a *DelimitedAdapter) Format() Format { return Delimited }

// Inference returns the adapter's inference mode.
func (a *DelimitedAdapter) Inference() InferenceMode { return a.opts.Inference }

// Schema returns the declared schema, if any.
func (a *DelimitedAdapter) Schema() table.Schema { return a.opts.Schema }

func (a *DelimitedAdapter) newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = a.opts.Delimiter
	cr.ReuseRecord = true

	return cr
}

// Read parses a delimited file and types its columns with the
// adapter's inference mode. Diagnostics are logged and kept on the
// table.
func (a *DelimitedAdapter) Read(ctx context.Context, path string, columns ...string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, unreadable(a.Name(), path, err)
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, unreadable(a.Name(), path, errors.New("binary content is not delimited text"))
	}

	cr := a.newReader(br)

	header, err := readHeader(cr)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}

	t, err := a.decode(ctx, cr, header, 1, a.opts.Schema, columns)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}

	logDiagnostics(ctx, a.opts.Logger, path, t)

	return t, nil
}

// ParseHeader decodes a header record.
func (a *DelimitedAdapter) ParseHeader(b []byte) ([]string, error) {
	return readHeader(a.newReader(bytes.NewReader(b)))
}

// ParseChunk decodes complete records that follow the header. firstRow
// is the 1-based data row number of the first record in data. types,
// when non-nil, are the settled types of the whole file; without them
// the records are typed on their own.
func (a *DelimitedAdapter) ParseChunk(
	ctx context.Context,
	header []string,
	data []byte,
	firstRow int,
	types *ColumnTypes,
) (*table.Table, error) {
	cr := a.newReader(bytes.NewReader(data))
	if types == nil {
		return a.decode(ctx, cr, header, firstRow, a.opts.Schema, nil)
	}

	if len(types.types) != len(header) {
		return nil, fmt.Errorf("%d column types for %d columns", len(types.types), len(header))
	}

	raws, err := a.readRaws(ctx, cr, header, firstRow, allColumns(len(header)))
	if err != nil {
		return nil, err
	}

	t := &table.Table{Columns: make([]*table.Column, len(raws))}
	for i, raw := range raws {
		col, diags := a.typer.fill(raw, firstRow, types.types[i], types.declared[i],
			max(0, a.typer.sampleRows-(firstRow-1)), types.bumps[i])
		t.Columns[i] = col
		t.Diagnostics = append(t.Diagnostics, diags...)
	}

	return t, nil
}

// ColumnTypes are the settled types of every column of a delimited
// file, as produced by an Inferrer.
type ColumnTypes struct {
	names    []string
	types    []table.Type
	declared []bool
	bumps    [][]table.Diagnostic
}

// Schema returns the settled types as a schema.
func (ct *ColumnTypes) Schema() table.Schema {
	s := make(table.Schema, len(ct.names))
	for i, n := range ct.names {
		s[i] = table.Field{Name: n, Type: ct.types[i]}
	}

	return s
}

// Inferrer settles column types from record-aligned pieces of a
// delimited file fed in file order. Pieces typed with the result match
// a whole-file read however the file was split.
type Inferrer struct {
	typer  typer
	reader func(io.Reader) *csv.Reader
	header []string
	pinned []*table.Type
	cols   []inference
	rows   int
}

// NewInferrer starts inference for a file with the given header.
// Columns named in the declared schema keep their declared type.
func (a *DelimitedAdapter) NewInferrer(header []string) *Inferrer {
	in := &Inferrer{
		typer:  a.typer,
		reader: a.newReader,
		header: header,
		pinned: make([]*table.Type, len(header)),
		cols:   make([]inference, len(header)),
	}

	for i, name := range header {
		if j := a.opts.Schema.Index(name); j >= 0 {
			in.pinned[i] = &a.opts.Schema[j].Type
		}
	}

	return in
}

// Observe folds the complete records in data into the column types.
func (in *Inferrer) Observe(ctx context.Context, data []byte) error {
	cr := in.reader(bytes.NewReader(data))
	cr.FieldsPerRecord = len(in.header)

	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("row %d: %w", in.rows+1, err)
		}

		in.rows++
		for i, f := range rec {
			if in.pinned[i] == nil {
				in.typer.observe(&in.cols[i], in.header[i], f, in.rows)
			}
		}
	}
}

// Settled reports whether further records can no longer change any
// column type. Only sampling inference settles before the end of the
// file.
func (in *Inferrer) Settled() bool {
	for i := range in.cols {
		if in.pinned[i] != nil {
			continue
		}
		if in.typer.mode != Sampling || in.rows < in.typer.sampleRows {
			return false
		}
	}

	return true
}

// Types returns the column types observed so far.
func (in *Inferrer) Types() *ColumnTypes {
	ct := &ColumnTypes{
		names:    in.header,
		types:    make([]table.Type, len(in.header)),
		declared: make([]bool, len(in.header)),
		bumps:    make([][]table.Diagnostic, len(in.header)),
	}

	for i := range in.header {
		if in.pinned[i] != nil {
			ct.types[i], ct.declared[i] = *in.pinned[i], true

			continue
		}

		ct.types[i] = in.typer.resolve(&in.cols[i])
		ct.bumps[i] = in.cols[i].bumps
	}

	return ct
}

func allColumns(n int) []int {
	sel := make([]int, n)
	for i := range sel {
		sel[i] = i
	}

	return sel
}

func readHeader(cr *csv.Reader) ([]string, error) {
	rec, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header record")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	header := make([]string, len(rec))
	copy(header, rec)

	return header, nil
}

func (a *DelimitedAdapter) decode(
	ctx context.Context,
	cr *csv.Reader,
	header []string,
	firstRow int,
	schema table.Schema,
	columns []string,
) (*table.Table, error) {
	sel, err := selectColumns(header, columns)
	if err != nil {
		return nil, err
	}

	raws, err := a.readRaws(ctx, cr, header, firstRow, sel)
	if err != nil {
		return nil, err
	}

	return a.typer.typeColumns(raws, firstRow, schema), nil
}

// readRaws collects the text fields of the selected columns.
func (a *DelimitedAdapter) readRaws(
	ctx context.Context,
	cr *csv.Reader,
	header []string,
	firstRow int,
	sel []int,
) ([]rawColumn, error) {
	cr.FieldsPerRecord = len(header)

	raws := make([]rawColumn, len(sel))
	for i, j := range sel {
		raws[i].name = header[j]
	}

	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", firstRow+n, err)
		}

		for i, j := range sel {
			raws[i].fields = append(raws[i].fields, rec[j])
		}
	}

	return raws, nil
}

// Write renders t as delimited text. Nulls are written as the null
// token, so string values equal to it or empty read back as null.
func (a *DelimitedAdapter) Write(ctx context.Context, t *table.Table, path string) (int64, error) {
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

func (a *DelimitedAdapter) encode(ctx context.Context, w io.Writer, t *table.Table) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	cw := csv.NewWriter(bw)
	cw.Comma = a.opts.Delimiter

	if err := cw.Write(t.Schema().Names()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	rec := make([]string, t.NumCols())
	for r := range t.NumRows() {
		if r%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		for i, c := range t.Columns {
			rec[i] = a.formatField(c, r)
		}

		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	return bw.Flush()
}

func (a *DelimitedAdapter) formatField(c *table.Column, r int) string {
	if c.IsNull(r) {
		return a.opts.NullToken
	}

	switch c.Type {
	case table.Bool:
		if c.Bools[r] {
			return "TRUE"
		}

		return "FALSE"
	case table.Int:
		return strconv.FormatInt(c.Ints[r], 10)
	case table.Float:
		return formatFloat(c.Floats[r])
	case table.Categorical:
		return c.Levels[c.Codes[r]]
	default:
		return c.Strings[r]
	}
}

// formatFloat renders v so that it reads back as a float, not an int.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) || strings.ContainsAny(s, ".e") {
		return s
	}

	return s + ".0"
}
