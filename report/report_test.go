package report

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/iobench/harness"
	"github.com/weiihann/iobench/table"
)

func rec(adapter string, op harness.Operation, trial int, ms float64, size int64) harness.Record {
	r := harness.Record{
		RunID:     "run-1",
		Dataset:   "co2",
		Scenario:  harness.Sequential,
		Scale:     1,
		Adapter:   adapter,
		Operation: op,
		Trial:     trial,
		ElapsedMs: ms,
		Rows:      468,
	}

	if math.IsNaN(ms) {
		r.Err = "boom"
		r.Rows = 0

		return r
	}

	if size > 0 {
		r.OutputSizeBytes = &size
	}

	return r
}

func sampleRecords() []harness.Record {
	nan := math.NaN()

	return []harness.Record{
		rec("delimited", harness.Write, 0, 40, 20000),
		rec("delimited", harness.Write, 1, 20, 20000),
		rec("delimited", harness.Read, 0, 80, 0),
		rec("delimited", harness.Read, 1, 40, 0),
		rec("native", harness.Write, 0, 10, 8000),
		rec("native", harness.Write, 1, nan, 0),
		rec("native", harness.Read, 0, 12, 0),
		rec("native", harness.Read, 1, 8, 0),
		rec("broken", harness.Write, 0, nan, 0),
		rec("broken", harness.Read, 0, nan, 0),
	}
}

func column(t *testing.T, summary *table.Table, name string) *table.Column {
	t.Helper()

	c, ok := summary.Column(name)
	require.True(t, ok, name)

	return c
}

func TestSummarize(t *testing.T) {
	summary, err := Summarize(sampleRecords())
	require.NoError(t, err)
	require.Equal(t, 6, summary.NumRows())

	assert.Equal(t, []string{
		ColScenario, ColScale, ColAdapter, ColOperation, ColTrials,
		ColFailures, ColMean, ColMin, ColRelative, ColMeanSize,
	}, summary.Schema().Names())

	adapter := column(t, summary, ColAdapter)
	operation := column(t, summary, ColOperation)
	assert.Equal(t, []string{"delimited", "delimited", "native", "native", "broken", "broken"}, adapter.Strings)
	assert.Equal(t, []string{"write", "read", "write", "read", "write", "read"}, operation.Strings)

	trials := column(t, summary, ColTrials)
	failures := column(t, summary, ColFailures)
	assert.Equal(t, []int64{2, 2, 2, 2, 1, 1}, trials.Ints)
	assert.Equal(t, []int64{0, 0, 1, 0, 1, 1}, failures.Ints)

	mean := column(t, summary, ColMean)
	minimum := column(t, summary, ColMin)
	relative := column(t, summary, ColRelative)

	// delimited write: mean 30, min 20; native write: only the
	// successful trial counts.
	assert.Equal(t, 30.0, mean.Floats[0])
	assert.Equal(t, 20.0, minimum.Floats[0])
	assert.Equal(t, 10.0, mean.Floats[2])
	assert.Equal(t, 10.0, minimum.Floats[2])

	assert.Equal(t, 3.0, relative.Floats[0])
	assert.Equal(t, 1.0, relative.Floats[2])
	assert.Equal(t, 6.0, relative.Floats[1])
	assert.Equal(t, 1.0, relative.Floats[3])

	for _, i := range []int{4, 5} {
		assert.True(t, math.IsNaN(mean.Floats[i]))
		assert.True(t, math.IsNaN(minimum.Floats[i]))
		assert.True(t, math.IsNaN(relative.Floats[i]))
	}

	size := column(t, summary, ColMeanSize)
	assert.Equal(t, 20000.0, size.Floats[0])
	assert.Equal(t, 8000.0, size.Floats[2])
	assert.True(t, size.IsNull(1), "reads have no output size")
	assert.True(t, size.IsNull(4))
}

func TestSummarizeFastestIsOne(t *testing.T) {
	records := []harness.Record{
		rec("a", harness.Write, 0, 3.7, 1),
		rec("b", harness.Write, 0, 1.3, 1),
		rec("c", harness.Write, 0, 9.1, 1),
		rec("a", harness.Read, 0, 0.7, 0),
		rec("b", harness.Read, 0, 2.9, 0),
	}

	summary, err := Summarize(records)
	require.NoError(t, err)

	adapter := column(t, summary, ColAdapter)
	operation := column(t, summary, ColOperation)
	relative := column(t, summary, ColRelative)

	got := map[string]float64{}
	for i := range summary.NumRows() {
		got[adapter.Strings[i]+"/"+operation.Strings[i]] = relative.Floats[i]
	}

	assert.Equal(t, 1.0, got["b/write"])
	assert.Equal(t, 1.0, got["a/read"])
	assert.Greater(t, got["a/write"], 1.0)
	assert.Greater(t, got["b/read"], 1.0)
}

func TestSummarizeSeparatesScenarios(t *testing.T) {
	slow := rec("native", harness.Write, 0, 50, 10)
	fast := rec("native", harness.Write, 0, 5, 10)
	fast.Scale = 10
	conc := rec("native", harness.Write, 0, 500, 10)
	conc.Scenario = harness.Concurrent

	summary, err := Summarize([]harness.Record{slow, fast, conc})
	require.NoError(t, err)
	require.Equal(t, 3, summary.NumRows())

	relative := column(t, summary, ColRelative)
	assert.Equal(t, []float64{1, 1, 1}, relative.Floats)

	scale := column(t, summary, ColScale)
	assert.Equal(t, []int64{1, 10, 1}, scale.Ints)
}

func TestSummarizeEmpty(t *testing.T) {
	_, err := Summarize(nil)

	var empty *EmptyRecordSetError
	assert.ErrorAs(t, err, &empty)
}

func TestMarkdown(t *testing.T) {
	summary, err := Summarize(sampleRecords())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Markdown(&buf, summary))

	output := buf.String()
	assert.Contains(t, output, "## Benchmark Results")
	assert.Contains(t, output, "| sequential | 1x | delimited | write | 2 | 0 | 30.0ms | 20.0ms | 19.5 KB | 3.00x |")
	assert.Contains(t, output, "| sequential | 1x | native | write | 2 | 1 | 10.0ms | 10.0ms | 7.8 KB | 1.00x |")
	assert.Contains(t, output, "| sequential | 1x | broken | read | 1 | 1 | failed | failed | - | - |")
	assert.Equal(t, 4+6, strings.Count(output, "\n"))
}

func TestMarkdownRejectsOtherTables(t *testing.T) {
	tbl, err := table.New(table.IntColumn("x", 1))
	require.NoError(t, err)

	assert.Error(t, Markdown(&bytes.Buffer{}, tbl))
}

func TestJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf, sampleRecords()))

	var parsed []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	require.Len(t, parsed, 10)

	assert.Equal(t, "delimited", parsed[0]["adapter"])
	assert.Equal(t, 40.0, parsed[0]["elapsed_ms"])
	assert.Nil(t, parsed[5]["elapsed_ms"])
	assert.Equal(t, "boom", parsed[5]["error"])
}

func TestExportSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive", "runs.db")
	records := sampleRecords()

	require.NoError(t, ExportSQLite(ctx, path, records))
	require.NoError(t, ExportSQLite(ctx, path, records[:2]))

	got, err := LoadSQLite(ctx, path)
	require.NoError(t, err)
	require.Len(t, got, len(records)+2)

	for i, want := range append(records, records[:2]...) {
		g := got[i]
		assert.Equal(t, want.Adapter, g.Adapter)
		assert.Equal(t, want.Operation, g.Operation)
		assert.Equal(t, want.Trial, g.Trial)
		assert.Equal(t, want.Err, g.Err)
		assert.Equal(t, want.Failed(), g.Failed())
		if !want.Failed() {
			assert.Equal(t, want.ElapsedMs, g.ElapsedMs)
		}
		assert.Equal(t, want.OutputSizeBytes, g.OutputSizeBytes)
	}

	summary, err := Summarize(got)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.NumRows(), "archived runs of the same labels share groups")
}

func TestLoadSQLiteMissing(t *testing.T) {
	_, err := LoadSQLite(context.Background(), filepath.Join(t.TempDir(), "none.db"))
	assert.Error(t, err)
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		ms   float64
		want string
	}{
		{0, "0.0ms"},
		{500, "500.0ms"},
		{999.9, "999.9ms"},
		{1000, "1.00s"},
		{1500, "1.50s"},
		{60000, "60.00s"},
		{math.NaN(), "failed"},
	}

	for _, tt := range tests {
		got := formatMs(tt.ms)
		if got != tt.want {
			t.Errorf("formatMs(%v) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  string
	}{
		{0, "-"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1073741824, "1 GB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.bytes)
		if got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
