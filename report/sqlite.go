package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/weiihann/iobench/harness"
)

const createMeasurements = `CREATE TABLE IF NOT EXISTS measurements (
	run_id TEXT NOT NULL,
	dataset TEXT NOT NULL,
	scenario TEXT NOT NULL,
	scale INTEGER NOT NULL,
	adapter TEXT NOT NULL,
	operation TEXT NOT NULL,
	trial INTEGER NOT NULL,
	elapsed_ms REAL,
	output_size_bytes INTEGER,
	rows INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const insertMeasurement = `INSERT INTO measurements (
	run_id, dataset, scenario, scale, adapter, operation, trial,
	elapsed_ms, output_size_bytes, rows, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// ExportSQLite appends records to the measurements table of the SQLite
// database at path, creating both if needed. Failed trials are stored
// with a NULL elapsed_ms.
func ExportSQLite(ctx context.Context, path string, records []harness.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, createMeasurements); err != nil {
		return fmt.Errorf("create measurements table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertMeasurement)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		var elapsed sql.NullFloat64
		if !r.Failed() {
			elapsed = sql.NullFloat64{Float64: r.ElapsedMs, Valid: true}
		}

		var size sql.NullInt64
		if r.OutputSizeBytes != nil {
			size = sql.NullInt64{Int64: *r.OutputSizeBytes, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			r.RunID, r.Dataset, r.Scenario, r.Scale, r.Adapter, string(r.Operation), r.Trial,
			elapsed, size, r.Rows, r.Err,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// LoadSQLite reads back every record stored by ExportSQLite, in
// insertion order.
func LoadSQLite(ctx context.Context, path string) ([]harness.Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT
		run_id, dataset, scenario, scale, adapter, operation, trial,
		elapsed_ms, output_size_bytes, rows, error
	FROM measurements ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var records []harness.Record

	for rows.Next() {
		var (
			r       harness.Record
			op      string
			elapsed sql.NullFloat64
			size    sql.NullInt64
		)

		if err := rows.Scan(
			&r.RunID, &r.Dataset, &r.Scenario, &r.Scale, &r.Adapter, &op, &r.Trial,
			&elapsed, &size, &r.Rows, &r.Err,
		); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}

		r.Operation = harness.Operation(op)
		r.ElapsedMs = math.NaN()
		if elapsed.Valid {
			r.ElapsedMs = elapsed.Float64
		}
		if size.Valid {
			v := size.Int64
			r.OutputSizeBytes = &v
		}

		records = append(records, r)
	}

	return records, rows.Err()
}
