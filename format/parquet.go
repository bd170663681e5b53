package format

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"github.com/weiihann/iobench/table"
)

// ParquetAdapter writes and reads Parquet files through an in-memory
// DuckDB instance. Categorical columns are stored as strings and read
// back as string columns.
type ParquetAdapter struct {
	opts Options
}

// NewParquet returns a Parquet adapter.
func NewParquet(opts Options) *ParquetAdapter {
	return &ParquetAdapter{opts: opts.withDefaults(Parquet)}
}

func (a *ParquetAdapter) Name() string   { return a.opts.Name }
func (a *ParquetAdapter) Format() Format { return Parquet }

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return `'` + strings.ReplaceAll(s, `'`, `''`) + `'`
}

func duckType(t table.Type) string {
	switch t {
	case table.Bool:
		return "BOOLEAN"
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

func openDuck(ctx context.Context) (*sql.DB, *sql.Conn, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, nil, fmt.Errorf("open duckdb: %w", err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()

		return nil, nil, fmt.Errorf("open duckdb conn: %w", err)
	}

	return db, conn, nil
}

// Write copies t into DuckDB and exports it with COPY ... TO.
func (a *ParquetAdapter) Write(ctx context.Context, t *table.Table, path string) (int64, error) {
	// DuckDB reports an unwritable COPY target with a generic IO error;
	// probe the target first so the failure is attributed correctly.
	probe, err := os.Create(path)
	if err != nil {
		return 0, unwritable(a.Name(), path, err)
	}
	probe.Close()

	if err := a.copyOut(ctx, t, path); err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	size, err := fileSize(path)
	if err != nil {
		return 0, unwritable(a.Name(), path, err)
	}

	return size, nil
}

func (a *ParquetAdapter) copyOut(ctx context.Context, t *table.Table, path string) error {
	db, conn, err := openDuck(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	defer conn.Close()

	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c.Name) + " " + duckType(c.Type)
	}

	if _, err := conn.ExecContext(ctx,
		"CREATE TABLE t ("+strings.Join(cols, ", ")+")"); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	err = conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}

		appender, err := duckdb.NewAppenderFromConn(driverConn, "", "t")
		if err != nil {
			return fmt.Errorf("create appender: %w", err)
		}
		defer func() { _ = appender.Close() }()

		row := make([]driver.Value, len(t.Columns))
		for r := range t.NumRows() {
			for i, c := range t.Columns {
				row[i] = c.Value(r)
			}

			if err := appender.AppendRow(row...); err != nil {
				return fmt.Errorf("append row %d: %w", r+1, err)
			}
		}

		return appender.Flush()
	})
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx,
		"COPY t TO "+quoteLiteral(path)+" (FORMAT PARQUET)"); err != nil {
		return fmt.Errorf("copy to parquet: %w", err)
	}

	return nil
}

// Read loads a Parquet file through read_parquet.
func (a *ParquetAdapter) Read(ctx context.Context, path string, columns ...string) (*table.Table, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, unreadable(a.Name(), path, err)
	}

	t, err := a.scan(ctx, path, columns)
	if err != nil {
		return nil, unreadable(a.Name(), path, err)
	}

	return t, nil
}

func (a *ParquetAdapter) scan(ctx context.Context, path string, columns []string) (*table.Table, error) {
	db, conn, err := openDuck(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	defer conn.Close()

	projection := "*"
	if len(columns) > 0 {
		names, err := a.columnNames(ctx, conn, path)
		if err != nil {
			return nil, err
		}

		sel, err := selectColumns(names, columns)
		if err != nil {
			return nil, err
		}

		quoted := make([]string, len(sel))
		for i, j := range sel {
			quoted[i] = quoteIdent(names[j])
		}
		projection = strings.Join(quoted, ", ")
	}

	rows, err := conn.QueryContext(ctx,
		"SELECT "+projection+" FROM read_parquet("+quoteLiteral(path)+")")
	if err != nil {
		return nil, fmt.Errorf("query parquet: %w", err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("column types: %w", err)
	}

	t := &table.Table{Columns: make([]*table.Column, len(types))}
	dest := make([]any, len(types))

	for i, ct := range types {
		typ, err := tableType(ct.DatabaseTypeName())
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", ct.Name(), err)
		}

		t.Columns[i] = table.NewColumn(ct.Name(), typ)

		switch typ {
		case table.Bool:
			dest[i] = new(sql.NullBool)
		case table.Int:
			dest[i] = new(sql.NullInt64)
		case table.Float:
			dest[i] = new(sql.NullFloat64)
		default:
			dest[i] = new(sql.NullString)
		}
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", t.NumRows()+1, err)
		}

		for i, d := range dest {
			appendScanned(t.Columns[i], d)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return t, nil
}

func (a *ParquetAdapter) columnNames(ctx context.Context, conn *sql.Conn, path string) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT * FROM read_parquet("+quoteLiteral(path)+") LIMIT 0")
	if err != nil {
		return nil, fmt.Errorf("query parquet schema: %w", err)
	}
	defer rows.Close()

	return rows.Columns()
}

func tableType(name string) (table.Type, error) {
	switch strings.ToUpper(name) {
	case "BOOLEAN":
		return table.Bool, nil
	case "BIGINT", "INTEGER", "SMALLINT", "TINYINT":
		return table.Int, nil
	case "DOUBLE", "FLOAT":
		return table.Float, nil
	case "VARCHAR":
		return table.String, nil
	default:
		return 0, errors.New("unsupported parquet column type " + name)
	}
}

func appendScanned(col *table.Column, d any) {
	switch v := d.(type) {
	case *sql.NullBool:
		if !v.Valid {
			col.AppendNull()

			return
		}
		col.AppendBool(v.Bool)
	case *sql.NullInt64:
		if !v.Valid {
			col.AppendNull()

			return
		}
		col.AppendInt(v.Int64)
	case *sql.NullFloat64:
		if !v.Valid {
			col.AppendNull()

			return
		}
		col.AppendFloat(v.Float64)
	case *sql.NullString:
		if !v.Valid {
			col.AppendNull()

			return
		}
		col.AppendString(v.String)
	}
}
