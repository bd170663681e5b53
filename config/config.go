// Package config loads benchmark plans from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weiihann/iobench/dataset"
	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/harness"
	"github.com/weiihann/iobench/table"
)

// Defaults applied to plans that leave a setting out.
const (
	DefaultTrials         = 5
	DefaultChunkThreshold = 256 << 20
)

// Plan is a repeatable benchmark run.
type Plan struct {
	Datasets    []Dataset               `yaml:"datasets"`
	Adapters    []harness.AdapterConfig `yaml:"adapters,omitempty"`
	Trials      int                     `yaml:"trials,omitempty"`
	Scales      []int                   `yaml:"scales,omitempty"`
	Concurrency int                     `yaml:"concurrency,omitempty"`
	WorkDir     string                  `yaml:"work_dir,omitempty"`
	KeepFiles   bool                    `yaml:"keep_files,omitempty"`
	Timeout     time.Duration           `yaml:"timeout,omitempty"`
	Chunk       Chunk                   `yaml:"chunk,omitempty"`
	Output      Output                  `yaml:"output,omitempty"`
}

// Dataset is a source file to benchmark. Format defaults to the one
// implied by the file suffix; Schema pins column types.
type Dataset struct {
	Name       string               `yaml:"name"`
	Path       string               `yaml:"path"`
	Format     format.Format        `yaml:"format,omitempty"`
	Inference  format.InferenceMode `yaml:"inference,omitempty"`
	SampleRows int                  `yaml:"sample_rows,omitempty"`
	NullToken  string               `yaml:"null_token,omitempty"`
	Schema     table.Schema         `yaml:"schema,omitempty"`
}

// Chunk controls how large delimited sources are loaded.
type Chunk struct {
	// Threshold is the source size in bytes above which the source is
	// streamed in chunks. Negative disables chunked loading.
	Threshold int64 `yaml:"threshold,omitempty"`
	Size      int64 `yaml:"size,omitempty"`
}

// Output names the files results are written to besides the markdown
// summary on stdout.
type Output struct {
	JSON   string `yaml:"json,omitempty"`
	SQLite string `yaml:"sqlite,omitempty"`
}

// Load reads a plan, resolves dataset paths relative to the plan file,
// applies defaults and validates the result.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	plan, err := Parse(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range plan.Datasets {
		if p := plan.Datasets[i].Path; p != "" && !filepath.IsAbs(p) {
			plan.Datasets[i].Path = filepath.Join(base, p)
		}
	}

	return plan, nil
}

// Parse decodes a plan document. Unknown keys are rejected.
func Parse(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}

	plan.ApplyDefaults()

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	return &plan, nil
}

// ApplyDefaults fills unset settings.
func (p *Plan) ApplyDefaults() {
	if p.Trials == 0 {
		p.Trials = DefaultTrials
	}
	if len(p.Adapters) == 0 {
		p.Adapters = harness.KnownAdapters()
	}
	for i := range p.Adapters {
		if p.Adapters[i].Name == "" {
			p.Adapters[i].Name = string(p.Adapters[i].Format)
		}
	}
	if p.WorkDir == "" {
		p.WorkDir = filepath.Join(os.TempDir(), "iobench")
	}
	if p.Chunk.Threshold == 0 {
		p.Chunk.Threshold = DefaultChunkThreshold
	}
	if p.Chunk.Size == 0 {
		p.Chunk.Size = harness.DefaultChunkSize
	}
}

// Validate reports the first problem with the plan.
func (p *Plan) Validate() error {
	if len(p.Datasets) == 0 {
		return errors.New("plan has no datasets")
	}

	names := make(map[string]bool, len(p.Datasets))
	for i, d := range p.Datasets {
		if d.Name == "" {
			return fmt.Errorf("dataset %d: name is empty", i)
		}
		if names[d.Name] {
			return fmt.Errorf("dataset %q listed twice", d.Name)
		}
		names[d.Name] = true

		if d.Path == "" {
			return fmt.Errorf("dataset %q: path is empty", d.Name)
		}
		if d.Format != "" {
			if _, err := format.Parse(string(d.Format)); err != nil {
				return fmt.Errorf("dataset %q: %w", d.Name, err)
			}
		}
	}

	if p.Trials < 1 {
		return &harness.InvalidTrialCountError{Trials: p.Trials}
	}

	for _, k := range p.Scales {
		if k < 1 {
			return fmt.Errorf("scale factor must be at least 1, got %d", k)
		}
	}

	if p.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", p.Concurrency)
	}

	if p.Chunk.Size < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", p.Chunk.Size)
	}

	adapters := make(map[string]bool, len(p.Adapters))
	for _, a := range p.Adapters {
		if adapters[a.Name] {
			return fmt.Errorf("adapter %q listed twice", a.Name)
		}
		adapters[a.Name] = true

		if _, err := format.Parse(string(a.Format)); err != nil {
			return fmt.Errorf("adapter %q: %w", a.Name, err)
		}
	}

	return nil
}

// Registry describes and registers every dataset of the plan.
func (p *Plan) Registry() (*dataset.Registry, []dataset.Descriptor, error) {
	reg := dataset.NewRegistry()
	descs := make([]dataset.Descriptor, 0, len(p.Datasets))

	for _, d := range p.Datasets {
		desc, err := dataset.Describe(d.Name, d.Path, d.Format, d.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("dataset %q: %w", d.Name, err)
		}

		if err := reg.Register(desc); err != nil {
			return nil, nil, err
		}

		descs = append(descs, desc)
	}

	return reg, descs, nil
}

// RunConfig returns the runner settings for dataset d.
func (p *Plan) RunConfig(d Dataset) harness.RunConfig {
	threshold := p.Chunk.Threshold
	if threshold < 0 {
		threshold = 0
	}

	return harness.RunConfig{
		WorkDir:        p.WorkDir,
		ChunkThreshold: threshold,
		ChunkSize:      p.Chunk.Size,
		KeepFiles:      p.KeepFiles,
		Timeout:        p.Timeout,
		Source: format.Options{
			Inference:  d.Inference,
			SampleRows: d.SampleRows,
			NullToken:  d.NullToken,
		},
	}
}
