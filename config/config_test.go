package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/harness"
	"github.com/weiihann/iobench/table"
)

const fullPlan = `
datasets:
  - name: co2
    path: data/co2.csv
  - name: housing
    path: /srv/data/housing.csv
    format: delimited
    inference: fast
    sample_rows: 500
    schema:
      - name: zip
        type: string
      - name: built
        type: int
adapters:
  - name: csv
    format: delimited
    delimiter: ";"
  - name: gob-snappy
    format: native
    compression: snappy
  - format: columnar
    batch_rows: 1024
trials: 3
scales: [1, 10, 100]
concurrency: 4
work_dir: /tmp/bench
keep_files: true
timeout: 5m
chunk:
  threshold: 1048576
  size: 65536
output:
  json: out/records.json
  sqlite: out/runs.db
`

func writePlan(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad(t *testing.T) {
	path := writePlan(t, fullPlan)

	plan, err := Load(path)
	require.NoError(t, err)

	require.Len(t, plan.Datasets, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "co2.csv"), plan.Datasets[0].Path)
	assert.Equal(t, "/srv/data/housing.csv", plan.Datasets[1].Path)

	housing := plan.Datasets[1]
	assert.Equal(t, format.Delimited, housing.Format)
	assert.Equal(t, format.Fast, housing.Inference)
	assert.Equal(t, 500, housing.SampleRows)
	assert.Equal(t, table.Schema{
		{Name: "zip", Type: table.String},
		{Name: "built", Type: table.Int},
	}, housing.Schema)

	require.Len(t, plan.Adapters, 3)
	assert.Equal(t, ";", plan.Adapters[0].Delimiter)
	assert.Equal(t, format.Snappy, plan.Adapters[1].Compression)
	assert.Equal(t, "columnar", plan.Adapters[2].Name, "unnamed adapters take the format name")
	assert.Equal(t, 1024, plan.Adapters[2].BatchRows)

	assert.Equal(t, 3, plan.Trials)
	assert.Equal(t, []int{1, 10, 100}, plan.Scales)
	assert.Equal(t, 4, plan.Concurrency)
	assert.Equal(t, "/tmp/bench", plan.WorkDir)
	assert.True(t, plan.KeepFiles)
	assert.Equal(t, 5*time.Minute, plan.Timeout)
	assert.Equal(t, Chunk{Threshold: 1 << 20, Size: 64 << 10}, plan.Chunk)
	assert.Equal(t, Output{JSON: "out/records.json", SQLite: "out/runs.db"}, plan.Output)

	adapters, err := harness.BuildAdapters(plan.Adapters, nil)
	require.NoError(t, err)
	assert.Len(t, adapters, 3)
}

func TestLoadDefaults(t *testing.T) {
	plan, err := Parse([]byte("datasets:\n  - name: co2\n    path: co2.csv\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultTrials, plan.Trials)
	assert.Equal(t, harness.KnownAdapters(), plan.Adapters)
	assert.Equal(t, filepath.Join(os.TempDir(), "iobench"), plan.WorkDir)
	assert.Equal(t, int64(DefaultChunkThreshold), plan.Chunk.Threshold)
	assert.Equal(t, int64(harness.DefaultChunkSize), plan.Chunk.Size)
	assert.Empty(t, plan.Scales)
	assert.Zero(t, plan.Concurrency)
	assert.Equal(t, format.Strict, plan.Datasets[0].Inference)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		plan    string
		wantErr string
	}{
		{"no datasets", "trials: 2\n", "no datasets"},
		{"unnamed dataset", "datasets:\n  - path: a.csv\n", "name is empty"},
		{"no path", "datasets:\n  - name: a\n", "path is empty"},
		{"duplicate dataset", "datasets:\n  - {name: a, path: a.csv}\n  - {name: a, path: b.csv}\n", "listed twice"},
		{"bad format", "datasets:\n  - {name: a, path: a.csv, format: xlsx}\n", "unknown format"},
		{"bad trials", "datasets:\n  - {name: a, path: a.csv}\ntrials: -1\n", "trial count"},
		{"bad scale", "datasets:\n  - {name: a, path: a.csv}\nscales: [1, 0]\n", "scale factor"},
		{"bad concurrency", "datasets:\n  - {name: a, path: a.csv}\nconcurrency: -2\n", "concurrency"},
		{"bad adapter", "datasets:\n  - {name: a, path: a.csv}\nadapters:\n  - {name: x, format: orc}\n", "unknown format"},
		{"duplicate adapter", "datasets:\n  - {name: a, path: a.csv}\nadapters:\n  - {format: native}\n  - {format: native}\n", "listed twice"},
		{"bad inference", "datasets:\n  - {name: a, path: a.csv, inference: guess}\n", "inference mode"},
		{"bad compression", "datasets:\n  - {name: a, path: a.csv}\nadapters:\n  - {format: native, compression: lz4}\n", "compression"},
		{"unknown key", "datasets:\n  - {name: a, path: a.csv}\ntrails: 3\n", "trails"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.plan))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read plan")
}

func TestRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "co2.csv"), []byte("time,value\n1959.0,315.42\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "co2.arrow"), []byte("x"), 0o644))

	plan := &Plan{Datasets: []Dataset{
		{Name: "co2", Path: filepath.Join(dir, "co2.csv")},
		{Name: "co2-arrow", Path: filepath.Join(dir, "co2.arrow")},
	}}

	reg, descs, err := plan.Registry()
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, format.Delimited, descs[0].Format)
	assert.Equal(t, int64(25), descs[0].SizeBytes)
	assert.Equal(t, format.Columnar, descs[1].Format)
	assert.Equal(t, []string{"co2", "co2-arrow"}, reg.Names())

	plan.Datasets = append(plan.Datasets, Dataset{Name: "gone", Path: filepath.Join(dir, "gone.csv")})
	_, _, err = plan.Registry()
	assert.Error(t, err)
}

func TestRunConfig(t *testing.T) {
	plan := &Plan{
		WorkDir:   "/tmp/w",
		KeepFiles: true,
		Chunk:     Chunk{Threshold: -1, Size: 4096},
	}

	cfg := plan.RunConfig(Dataset{Inference: format.Sampling, SampleRows: 50, NullToken: "-"})

	assert.Equal(t, "/tmp/w", cfg.WorkDir)
	assert.True(t, cfg.KeepFiles)
	assert.Zero(t, cfg.ChunkThreshold, "negative threshold disables chunking")
	assert.Equal(t, int64(4096), cfg.ChunkSize)
	assert.Equal(t, format.Sampling, cfg.Source.Inference)
	assert.Equal(t, 50, cfg.Source.SampleRows)
	assert.Equal(t, "-", cfg.Source.NullToken)
}
