package format

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weiihann/iobench/table"
)

// DefaultSampleRows is the number of leading rows the sampling and fast
// inference modes inspect.
const DefaultSampleRows = 1000

// InferenceMode selects how a text column's type is determined.
type InferenceMode uint8

const (
	// Strict inspects every row. Columns that are not entirely
	// bool/int/float become categorical.
	Strict InferenceMode = iota
	// Sampling guesses from the leading rows. Later values that do not
	// parse as the guessed type become null.
	Sampling
	// Fast guesses from the leading rows. A later value that does not
	// parse bumps the whole column to a type that holds it.
	Fast
)

var inferenceNames = [...]string{
	Strict:   "strict",
	Sampling: "sampling",
	Fast:     "fast",
}

func (m InferenceMode) String() string {
	if int(m) < len(inferenceNames) {
		return inferenceNames[m]
	}

	return fmt.Sprintf("inference(%d)", uint8(m))
}

// ParseInferenceMode maps a mode name to an InferenceMode.
func ParseInferenceMode(s string) (InferenceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "sampling", "sample":
		return Sampling, nil
	case "fast":
		return Fast, nil
	default:
		return 0, fmt.Errorf("unknown inference mode %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m InferenceMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *InferenceMode) UnmarshalText(b []byte) error {
	parsed, err := ParseInferenceMode(string(b))
	if err != nil {
		return err
	}

	*m = parsed

	return nil
}

// rawColumn is one column of text fields as read from the source.
type rawColumn struct {
	name   string
	fields []string
}

// typer turns raw text columns into typed table columns.
type typer struct {
	mode       InferenceMode
	sampleRows int
	nullToken  string
}

func (ty typer) isNull(s string) bool {
	return s == "" || s == ty.nullToken
}

// classify returns the narrowest type that holds s.
func classify(s string) table.Type {
	if _, ok := parseBool(s); ok {
		return table.Bool
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return table.Int
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return table.Float
	}

	return table.String
}

// join is the least type holding values of both a and b.
func join(a, b table.Type) table.Type {
	switch {
	case a == b:
		return a
	case (a == table.Int || a == table.Float) && (b == table.Int || b == table.Float):
		return table.Float
	default:
		return table.String
	}
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "TRUE", "true", "True":
		return true, true
	case "FALSE", "false", "False":
		return false, true
	default:
		return false, false
	}
}

// fits reports whether s parses as typ.
func fits(s string, typ table.Type) bool {
	switch typ {
	case table.Bool:
		_, ok := parseBool(s)
		return ok
	case table.Int:
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	case table.Float:
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	default:
		return true
	}
}

// inference folds the fields of one column, in file order, into its
// type. It carries over from one record-aligned piece of a file to the
// next, so the result does not depend on how the file was split.
type inference struct {
	typ  table.Type
	seen bool
	// rows counts observed fields, nulls included.
	rows int
	// bumps are the fast-mode widenings, one diagnostic per step.
	bumps []table.Diagnostic
}

func (in *inference) current() table.Type {
	if !in.seen {
		return table.String
	}

	return in.typ
}

// observe adds field f of data row row (1-based) of column name.
func (ty typer) observe(in *inference, name, f string, row int) {
	i := in.rows
	in.rows++

	if ty.isNull(f) {
		return
	}

	if ty.mode == Strict || i < ty.sampleRows {
		c := classify(f)
		if !in.seen {
			in.typ, in.seen = c, true

			return
		}

		in.typ = join(in.typ, c)

		return
	}

	if ty.mode != Fast {
		return
	}

	typ := in.current()
	if fits(f, typ) {
		return
	}

	bumped := join(typ, classify(f))
	in.bumps = append(in.bumps, table.Diagnostic{
		Row:     row,
		Column:  name,
		Value:   f,
		Message: fmt.Sprintf("bumped column from %s to %s", typ, bumped),
	})
	in.typ, in.seen = bumped, true
}

// resolve returns the column type once every field has been observed.
// All-null input is a string column.
func (ty typer) resolve(in *inference) table.Type {
	typ := in.current()
	if ty.mode == Strict && typ == table.String {
		return table.Categorical
	}

	return typ
}

// build types raw. firstRow is the 1-based data row number of
// fields[0]; pinned, when non-nil, skips inference.
func (ty typer) build(raw rawColumn, firstRow int, pinned *table.Type) (*table.Column, []table.Diagnostic) {
	if pinned != nil {
		return ty.fill(raw, firstRow, *pinned, true, 0, nil)
	}

	var in inference
	for i, f := range raw.fields {
		ty.observe(&in, raw.name, f, firstRow+i)
	}

	return ty.fill(raw, firstRow, ty.resolve(&in), false, ty.sampleRows, in.bumps)
}

// fill builds the column for raw once its type is settled. raw may be
// any record-aligned slice of the column; firstRow places it in the
// file. sampled is how many leading fields of raw were part of the
// inference sample. bumps are the fast-mode diagnostics for the whole
// column; only those that fall inside raw are returned.
func (ty typer) fill(
	raw rawColumn,
	firstRow int,
	typ table.Type,
	declared bool,
	sampled int,
	bumps []table.Diagnostic,
) (*table.Column, []table.Diagnostic) {
	var diags []table.Diagnostic

	switch {
	case declared:
		diags = ty.nullUnfit(raw, firstRow, typ, 0,
			fmt.Sprintf("does not parse as declared type %s; replaced with null", typ))

	case ty.mode == Sampling:
		diags = ty.nullUnfit(raw, firstRow, typ, sampled,
			fmt.Sprintf("does not parse as %s guessed from the first %d rows; replaced with null",
				typ, ty.sampleRows))

	case ty.mode == Fast:
		last := firstRow + len(raw.fields)
		for _, d := range bumps {
			if d.Row >= firstRow && d.Row < last {
				diags = append(diags, d)
			}
		}
	}

	col := table.NewColumn(raw.name, typ)
	for _, f := range raw.fields {
		appendField(col, f, ty.isNull(f))
	}

	return col, diags
}

// nullUnfit reports fields from index from onwards that do not parse as
// typ. appendField turns them into nulls.
func (ty typer) nullUnfit(raw rawColumn, firstRow int, typ table.Type, from int, msg string) []table.Diagnostic {
	var diags []table.Diagnostic

	for i := from; i < len(raw.fields); i++ {
		f := raw.fields[i]
		if ty.isNull(f) || fits(f, typ) {
			continue
		}

		diags = append(diags, table.Diagnostic{
			Row:     firstRow + i,
			Column:  raw.name,
			Value:   f,
			Message: msg,
		})
	}

	return diags
}

func appendField(col *table.Column, f string, null bool) {
	if null {
		col.AppendNull()

		return
	}

	switch col.Type {
	case table.Bool:
		v, ok := parseBool(f)
		if !ok {
			col.AppendNull()

			return
		}
		col.AppendBool(v)
	case table.Int:
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			col.AppendNull()

			return
		}
		col.AppendInt(v)
	case table.Float:
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			col.AppendNull()

			return
		}
		col.AppendFloat(v)
	default:
		col.AppendString(f)
	}
}

// typeColumns builds a table from raw columns. schema, when non-empty,
// pins the type of every column it names.
func (ty typer) typeColumns(raws []rawColumn, firstRow int, schema table.Schema) *table.Table {
	t := &table.Table{Columns: make([]*table.Column, len(raws))}

	for i, raw := range raws {
		var pinned *table.Type
		if j := schema.Index(raw.name); j >= 0 {
			pinned = &schema[j].Type
		}

		col, diags := ty.build(raw, firstRow, pinned)
		t.Columns[i] = col
		t.Diagnostics = append(t.Diagnostics, diags...)
	}

	return t
}
