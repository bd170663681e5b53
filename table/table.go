// Package table holds the in-memory columnar result of reading a dataset.
package table

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Type is the logical type of a column.
type Type uint8

// Column types, ordered so that the numeric lattice bool < int < float
// < string can be compared directly.
const (
	Bool Type = iota
	Int
	Float
	String
	Categorical
)

var typeNames = [...]string{
	Bool:        "bool",
	Int:         "int",
	Float:       "float",
	String:      "string",
	Categorical: "categorical",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}

	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a type name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean", "logical":
		return Bool, nil
	case "int", "integer", "int64":
		return Int, nil
	case "float", "double", "float64", "numeric":
		return Float, nil
	case "string", "text", "character":
		return String, nil
	case "categorical", "factor":
		return Categorical, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}

	*t = parsed

	return nil
}

// Field is one (name, type) pair of a schema.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Schema is the ordered list of fields of a table.
type Schema []Field

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}

	return names
}

// Index returns the position of the named field, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}

	return -1
}

// Diagnostic describes a value that did not fit the type chosen for
// its column while reading.
type Diagnostic struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("row %d, column %q (value %q): %s",
		d.Row, d.Column, d.Value, d.Message)
}

// Table is an ordered set of equally long named columns.
type Table struct {
	Columns     []*Column
	Diagnostics []Diagnostic
}

// New builds a table from columns. All columns must have the same length.
func New(cols ...*Column) (*Table, error) {
	for _, c := range cols[min(1, len(cols)):] {
		if c.Len() != cols[0].Len() {
			return nil, fmt.Errorf(
				"column %q has %d rows, column %q has %d",
				c.Name, c.Len(), cols[0].Name, cols[0].Len(),
			)
		}
	}

	return &Table{Columns: cols}, nil
}

// Empty returns a table with no rows and the given schema.
func Empty(schema Schema) *Table {
	cols := make([]*Column, len(schema))
	for i, f := range schema {
		cols[i] = NewColumn(f.Name, f.Type)
	}

	return &Table{Columns: cols}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}

	return t.Columns[0].Len()
}

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.Columns) }

// Schema returns the table schema.
func (t *Table) Schema() Schema {
	s := make(Schema, len(t.Columns))
	for i, c := range t.Columns {
		s[i] = c.Field()
	}

	return s
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}

	return nil, false
}

// Row returns the values of row i. Nulls are nil.
func (t *Table) Row(i int) []any {
	row := make([]any, len(t.Columns))
	for j, c := range t.Columns {
		row[j] = c.Value(i)
	}

	return row
}

// Project returns a table restricted to the named columns, in the
// table's own column order. Columns are shared, not copied.
func (t *Table) Project(names ...string) (*Table, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := t.Column(n); !ok {
			return nil, fmt.Errorf("unknown column %q", n)
		}
		want[n] = true
	}

	out := &Table{}
	for _, c := range t.Columns {
		if want[c.Name] {
			out.Columns = append(out.Columns, c)
		}
	}

	for _, d := range t.Diagnostics {
		if want[d.Column] {
			out.Diagnostics = append(out.Diagnostics, d)
		}
	}

	return out, nil
}

// Append adds the rows of other to t. Both tables must have the same
// column names and types.
func (t *Table) Append(other *Table) error {
	if len(t.Columns) != len(other.Columns) {
		return fmt.Errorf("append: %d columns, other has %d",
			len(t.Columns), len(other.Columns))
	}

	for i, c := range t.Columns {
		o := other.Columns[i]
		if c.Name != o.Name || c.Type != o.Type {
			return fmt.Errorf("append: column %d is %s %s, other is %s %s",
				i, c.Name, c.Type, o.Name, o.Type)
		}
	}

	for i, c := range t.Columns {
		o := other.Columns[i]
		for r := range o.Len() {
			c.appendFrom(o, r)
		}
	}

	t.Diagnostics = append(t.Diagnostics, other.Diagnostics...)

	return nil
}

// Repeat returns a new table holding k consecutive copies of t's rows.
func (t *Table) Repeat(k int) *Table {
	out := Empty(t.Schema())
	for i, c := range out.Columns {
		c.grow(t.NumRows() * k)
		c.Levels = slices.Clone(t.Columns[i].Levels)
	}

	for range k {
		for i, c := range out.Columns {
			src := t.Columns[i]
			for r := range src.Len() {
				c.appendFrom(src, r)
			}
		}
	}

	return out
}

// Equal reports whether a and b have the same schema and values.
// Categorical and string columns are compared by their string values
// only when their types match.
func Equal(a, b *Table) bool {
	if a.NumCols() != b.NumCols() || a.NumRows() != b.NumRows() {
		return false
	}

	for i, ac := range a.Columns {
		bc := b.Columns[i]
		if ac.Name != bc.Name || ac.Type != bc.Type {
			return false
		}

		for r := range ac.Len() {
			if !valuesEqual(ac.Value(r), bc.Value(r)) {
				return false
			}
		}
	}

	return true
}

func valuesEqual(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok && math.IsNaN(af) && math.IsNaN(bf) {
		return true
	}

	return a == b
}
