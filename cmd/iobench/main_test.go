package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/iobench/report"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := newRootCmd(logger, new(slog.LevelVar))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func TestGenerateThenRun(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "co2.csv")
	db := filepath.Join(dir, "runs.db")
	records := filepath.Join(dir, "records.json")

	_, err := execute(t, "generate", "--kind", "co2", "--rows", "50", "-o", data)
	require.NoError(t, err)

	content, err := os.ReadFile(data)
	require.NoError(t, err)
	assert.Equal(t, 51, strings.Count(string(content), "\n"))

	out, err := execute(t, "run",
		"--dataset", "co2="+data,
		"--adapters", "delimited,native",
		"--trials", "2",
		"--work-dir", filepath.Join(dir, "work"),
		"--json", records,
		"--sqlite", db,
	)
	require.NoError(t, err)

	assert.Contains(t, out, "## Benchmark Results")
	assert.Contains(t, out, "| sequential | 1x | delimited | write | 2 | 0 |")
	assert.Contains(t, out, "| sequential | 1x | native | read | 2 | 0 |")

	_, err = os.Stat(records)
	require.NoError(t, err)

	stored, err := report.LoadSQLite(t.Context(), db)
	require.NoError(t, err)
	assert.Len(t, stored, 8)
}

func TestRunUnknownAdapter(t *testing.T) {
	_, err := execute(t, "run", "--dataset", "x.csv", "--adapters", "orc")
	assert.ErrorContains(t, err, `unknown adapter "orc"`)
}

func TestRunBadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "run")
	assert.Error(t, err)
}

func TestInfer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mixed.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n1,x\n2,y\nthree,z\n"), 0o644))

	out, err := execute(t, "infer", "--sample-rows", "2", path)
	require.NoError(t, err)

	assert.Contains(t, out, "| a | categorical | int (1 null) | string |")
	assert.Contains(t, out, "| b | categorical | string | string |")
	assert.Contains(t, out, "sampling: 1 diagnostics")
	assert.Contains(t, out, "fast: 1 diagnostics")
}

func TestChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")

	var b strings.Builder
	b.WriteString("n\n")
	for i := range 100 {
		b.WriteString(strings.Repeat("9", i%7+1))
		b.WriteString("\n")
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	out, err := execute(t, "chunks", "--chunk-size", "64", path)
	require.NoError(t, err)

	assert.Contains(t, out, "| 0 | 0 |")
	assert.Contains(t, out, "100 rows")
	assert.Contains(t, out, "columns: [n]")
}
