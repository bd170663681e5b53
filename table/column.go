package table

import "fmt"

// Column is a named typed sequence of values. Only the slice matching
// Type is populated; categorical columns store level codes. Nulls is
// either nil (no nulls) or as long as the column.
type Column struct {
	Name    string
	Type    Type
	Bools   []bool
	Ints    []int64
	Floats  []float64
	Strings []string
	Codes   []int32
	Levels  []string
	Nulls   []bool

	levelIndex map[string]int32
}

// NewColumn returns an empty column.
func NewColumn(name string, typ Type) *Column {
	return &Column{Name: name, Type: typ}
}

// BoolColumn builds a bool column.
func BoolColumn(name string, vals ...bool) *Column {
	return &Column{Name: name, Type: Bool, Bools: vals}
}

// IntColumn builds an int column.
func IntColumn(name string, vals ...int64) *Column {
	return &Column{Name: name, Type: Int, Ints: vals}
}

// FloatColumn builds a float column.
func FloatColumn(name string, vals ...float64) *Column {
	return &Column{Name: name, Type: Float, Floats: vals}
}

// StringColumn builds a string column.
func StringColumn(name string, vals ...string) *Column {
	return &Column{Name: name, Type: String, Strings: vals}
}

// CategoricalColumn builds a categorical column whose levels are the
// distinct values in first-seen order.
func CategoricalColumn(name string, vals ...string) *Column {
	c := NewColumn(name, Categorical)
	for _, v := range vals {
		c.AppendString(v)
	}

	return c
}

// Field returns the column's schema field.
func (c *Column) Field() Field { return Field{Name: c.Name, Type: c.Type} }

// Len returns the number of values.
func (c *Column) Len() int {
	switch c.Type {
	case Bool:
		return len(c.Bools)
	case Int:
		return len(c.Ints)
	case Float:
		return len(c.Floats)
	case String:
		return len(c.Strings)
	case Categorical:
		return len(c.Codes)
	default:
		return 0
	}
}

// Validate checks that c is internally consistent: a known type, only
// the value slice of that type populated, a null mask as long as the
// column, and categorical codes that index into Levels.
func (c *Column) Validate() error {
	if c.Type > Categorical {
		return fmt.Errorf("column %q: unknown type %d", c.Name, uint8(c.Type))
	}

	n := c.Len()

	populated := map[Type]int{
		Bool:        len(c.Bools),
		Int:         len(c.Ints),
		Float:       len(c.Floats),
		String:      len(c.Strings),
		Categorical: len(c.Codes),
	}
	for typ, l := range populated {
		if typ != c.Type && l > 0 {
			return fmt.Errorf("column %q: %s column holds %d %s values", c.Name, c.Type, l, typ)
		}
	}

	if c.Nulls != nil && len(c.Nulls) != n {
		return fmt.Errorf("column %q: null mask has %d entries for %d values", c.Name, len(c.Nulls), n)
	}

	if c.Type != Categorical {
		if len(c.Levels) > 0 {
			return fmt.Errorf("column %q: %s column has levels", c.Name, c.Type)
		}

		return nil
	}

	for i, code := range c.Codes {
		if c.IsNull(i) {
			continue
		}
		if code < 0 || int(code) >= len(c.Levels) {
			return fmt.Errorf("column %q: row %d has code %d with %d levels", c.Name, i, code, len(c.Levels))
		}
	}

	return nil
}

// IsNull reports whether value i is null.
func (c *Column) IsNull(i int) bool {
	return c.Nulls != nil && c.Nulls[i]
}

// NullCount returns the number of null values.
func (c *Column) NullCount() int {
	n := 0
	for _, null := range c.Nulls {
		if null {
			n++
		}
	}

	return n
}

// SetNull marks value i as null.
func (c *Column) SetNull(i int) {
	if c.Nulls == nil {
		c.Nulls = make([]bool, c.Len())
	}
	c.Nulls[i] = true
}

// Value returns value i as bool, int64, float64 or string, or nil when
// the value is null. Categorical values are returned as their level.
func (c *Column) Value(i int) any {
	if c.IsNull(i) {
		return nil
	}

	switch c.Type {
	case Bool:
		return c.Bools[i]
	case Int:
		return c.Ints[i]
	case Float:
		return c.Floats[i]
	case String:
		return c.Strings[i]
	case Categorical:
		return c.Levels[c.Codes[i]]
	default:
		return nil
	}
}

// Text returns value i as a string, with null rendered as nullToken.
func (c *Column) Text(i int, nullToken string) string {
	v := c.Value(i)
	if v == nil {
		return nullToken
	}

	return fmt.Sprint(v)
}

// AppendNull appends a null value.
func (c *Column) AppendNull() {
	n := c.Len()
	if c.Nulls == nil {
		c.Nulls = make([]bool, n, n+1)
	}

	switch c.Type {
	case Bool:
		c.Bools = append(c.Bools, false)
	case Int:
		c.Ints = append(c.Ints, 0)
	case Float:
		c.Floats = append(c.Floats, 0)
	case String:
		c.Strings = append(c.Strings, "")
	case Categorical:
		c.Codes = append(c.Codes, 0)
	}

	c.Nulls = append(c.Nulls, true)
}

func (c *Column) markValid() {
	if c.Nulls != nil {
		c.Nulls = append(c.Nulls, false)
	}
}

// AppendBool appends to a bool column.
func (c *Column) AppendBool(v bool) {
	c.Bools = append(c.Bools, v)
	c.markValid()
}

// AppendInt appends to an int column.
func (c *Column) AppendInt(v int64) {
	c.Ints = append(c.Ints, v)
	c.markValid()
}

// AppendFloat appends to a float column.
func (c *Column) AppendFloat(v float64) {
	c.Floats = append(c.Floats, v)
	c.markValid()
}

// AppendString appends to a string or categorical column. New
// categorical values become new levels.
func (c *Column) AppendString(v string) {
	if c.Type == Categorical {
		c.Codes = append(c.Codes, c.level(v))
	} else {
		c.Strings = append(c.Strings, v)
	}
	c.markValid()
}

func (c *Column) level(v string) int32 {
	if c.levelIndex == nil {
		c.levelIndex = make(map[string]int32, len(c.Levels))
		for i, l := range c.Levels {
			if _, ok := c.levelIndex[l]; !ok {
				c.levelIndex[l] = int32(i)
			}
		}
	}

	if code, ok := c.levelIndex[v]; ok {
		return code
	}

	code := int32(len(c.Levels))
	c.Levels = append(c.Levels, v)
	c.levelIndex[v] = code

	return code
}

// appendFrom copies value i of src, which has the same type as c.
func (c *Column) appendFrom(src *Column, i int) {
	if src.IsNull(i) {
		c.AppendNull()

		return
	}

	switch c.Type {
	case Bool:
		c.AppendBool(src.Bools[i])
	case Int:
		c.AppendInt(src.Ints[i])
	case Float:
		c.AppendFloat(src.Floats[i])
	case String:
		c.AppendString(src.Strings[i])
	case Categorical:
		c.AppendString(src.Levels[src.Codes[i]])
	}
}

func (c *Column) grow(n int) {
	switch c.Type {
	case Bool:
		c.Bools = make([]bool, 0, n)
	case Int:
		c.Ints = make([]int64, 0, n)
	case Float:
		c.Floats = make([]float64, 0, n)
	case String:
		c.Strings = make([]string, 0, n)
	case Categorical:
		c.Codes = make([]int32, 0, n)
	}
}
