package format

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/weiihann/iobench/table"
)

// Field metadata keys used to carry categorical columns through Arrow,
// which stores them as plain strings.
const (
	metaType   = "iobench.type"
	metaLevels = "iobench.levels"
)

// ColumnarAdapter stores tables in the Arrow IPC file format (Feather
// v2), one record batch per BatchRows rows.
type ColumnarAdapter struct {
	opts Options
	mem  memory.Allocator
}

// NewColumnar returns an Arrow IPC adapter.
func NewColumnar(opts Options) *ColumnarAdapter {
	return &ColumnarAdapter{
		opts: opts.withDefaults(Columnar),
		mem:  memory.NewGoAllocator(),
	}
}

func (a *ColumnarAdapter) Name() string   { return a.opts.Name }
func (a *ColumnarAdapter) Format() Format { return Columnar }

func arrowSchema(t *table.Table) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(t.Columns))

	for i, c := range t.Columns {
		f := arrow.Field{Name: c.Name, Nullable: true}

		switch c.Type {
		case table.Bool:
			f.Type = arrow.FixedWidthTypes.Boolean
		case table.Int:
			f.Type = arrow.PrimitiveTypes.Int64
		case table.Float:
			f.Type = arrow.PrimitiveTypes.Float64
		case table.String:
			f.Type = arrow.BinaryTypes.String
		case table.Categorical:
			levels, err := json.Marshal(c.Levels)
			if err != nil {
				return nil, fmt.Errorf("encode levels of %q: %w", c.Name, err)
			}
			f.Type = arrow.BinaryTypes.String
			f.Metadata = arrow.NewMetadata(
				[]string{metaType, metaLevels},
				[]string{table.Categorical.String(), string(levels)},
			)
		default:
			return nil, fmt.Errorf("column %q: unsupported type %s", c.Name, c.Type)
		}

		fields[i] = f
	}

	return arrow.NewSchema(fields, nil), nil
}

// Write stores t as an Arrow IPC file in batches of BatchRows rows and
// returns the file size.
func (a *ColumnarAdapter) Write(ctx context.Context, t *table.Table, path string) (int64, error) {
	schema, err := arrowSchema(t)
	if err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	if err := a.encode(ctx, f, schema, t); err != nil {
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

func (a *ColumnarAdapter) encode(ctx context.Context, f *os.File, schema *arrow.Schema, t *table.Table) error {
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(a.mem))
	if err != nil {
		return fmt.Errorf("open ipc writer: %w", err)
	}

	b := array.NewRecordBuilder(a.mem, schema)
	defer b.Release()

	for start := 0; start < t.NumRows(); start += a.opts.BatchRows {
		if err := ctx.Err(); err != nil {
			w.Close()

			return err
		}

		end := min(start+a.opts.BatchRows, t.NumRows())
		for i, c := range t.Columns {
			appendArrow(b.Field(i), c, start, end)
		}

		rec := b.NewRecord()
		err := w.Write(rec)
		rec.Release()

		if err != nil {
			w.Close()

			return fmt.Errorf("write batch at row %d: %w", start, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close ipc writer: %w", err)
	}

	return nil
}

func appendArrow(b array.Builder, c *table.Column, start, end int) {
	b.Reserve(end - start)

	for r := start; r < end; r++ {
		if c.IsNull(r) {
			b.AppendNull()

			continue
		}

		switch bb := b.(type) {
		case *array.BooleanBuilder:
			bb.Append(c.Bools[r])
		case *array.Int64Builder:
			bb.Append(c.Ints[r])
		case *array.Float64Builder:
			bb.Append(c.Floats[r])
		case *array.StringBuilder:
			if c.Type == table.Categorical {
				bb.Append(c.Levels[c.Codes[r]])
			} else {
				bb.Append(c.Strings[r])
			}
		}
	}
}

// Read loads an Arrow IPC file, optionally only the named columns.
func (a *ColumnarAdapter) Read(ctx context.Context, path string, columns ...string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(a.mem))
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}
	defer r.Close()

	t, err := a.decode(ctx, r, columns)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}

	return t, nil
}

func (a *ColumnarAdapter) decode(ctx context.Context, r *ipc.FileReader, columns []string) (*table.Table, error) {
	schema := r.Schema()

	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}

	sel, err := selectColumns(names, columns)
	if err != nil {
		return nil, err
	}

	t := &table.Table{Columns: make([]*table.Column, len(sel))}
	for i, j := range sel {
		col, err := columnFor(schema.Field(j))
		if err != nil {
			return nil, err
		}
		t.Columns[i] = col
	}

	for b := 0; b < r.NumRecords(); b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := r.Record(b)
		if err != nil {
			return nil, fmt.Errorf("read batch %d: %w", b, err)
		}

		for i, j := range sel {
			if err := appendFromArrow(t.Columns[i], rec.Column(j)); err != nil {
				return nil, err
			}
		}
	}

	return t, nil
}

func columnFor(f arrow.Field) (*table.Column, error) {
	var typ table.Type

	switch f.Type.ID() {
	case arrow.BOOL:
		typ = table.Bool
	case arrow.INT32, arrow.INT64:
		typ = table.Int
	case arrow.FLOAT32, arrow.FLOAT64:
		typ = table.Float
	case arrow.STRING, arrow.LARGE_STRING:
		typ = table.String
	default:
		return nil, fmt.Errorf("column %q: unsupported arrow type %s", f.Name, f.Type)
	}

	col := table.NewColumn(f.Name, typ)

	if i := f.Metadata.FindKey(metaType); i >= 0 && f.Metadata.Values()[i] == table.Categorical.String() {
		col.Type = table.Categorical
		if j := f.Metadata.FindKey(metaLevels); j >= 0 {
			if err := json.Unmarshal([]byte(f.Metadata.Values()[j]), &col.Levels); err != nil {
				return nil, fmt.Errorf("column %q: decode levels: %w", f.Name, err)
			}
		}
	}

	return col, nil
}

func appendFromArrow(col *table.Column, arr arrow.Array) error {
	for k := 0; k < arr.Len(); k++ {
		if arr.IsNull(k) {
			col.AppendNull()

			continue
		}

		switch v := arr.(type) {
		case *array.Boolean:
			col.AppendBool(v.Value(k))
		case *array.Int32:
			col.AppendInt(int64(v.Value(k)))
		case *array.Int64:
			col.AppendInt(v.Value(k))
		case *array.Float32:
			col.AppendFloat(float64(v.Value(k)))
		case *array.Float64:
			col.AppendFloat(v.Value(k))
		case *array.String:
			col.AppendString(v.Value(k))
		case *array.LargeString:
			col.AppendString(v.Value(k))
		default:
			return fmt.Errorf("column %q: unsupported arrow array %T", col.Name, arr)
		}
	}

	return nil
}
