// Package dataset keeps the descriptors of the datasets a benchmark run
// works with and guards their source files against being overwritten.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/table"
)

// Descriptor identifies a source dataset.
type Descriptor struct {
	Name       string
	SourcePath string
	Format     format.Format
	Schema     table.Schema
	SizeBytes  int64
}

// DuplicateDatasetError is returned when a name is registered again
// with a different source path.
type DuplicateDatasetError struct {
	Name         string
	ExistingPath string
	NewPath      string
}

func (e *DuplicateDatasetError) Error() string {
	return fmt.Sprintf("dataset %q already registered at %s, not %s",
		e.Name, e.ExistingPath, e.NewPath)
}

// UnknownDatasetError is returned for names that are not registered.
type UnknownDatasetError struct {
	Name string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("unknown dataset %q", e.Name)
}

// ReadOnlySourceError is returned when a write targets the source file
// of a registered dataset.
type ReadOnlySourceError struct {
	Name string
	Path string
}

func (e *ReadOnlySourceError) Error() string {
	return fmt.Sprintf("%s is the source of dataset %q and is read-only",
		e.Path, e.Name)
}

// Registry maps dataset names to descriptors. It does no locking; the
// caller serializes registration.
type Registry struct {
	byName map[string]Descriptor
	// bySource maps cleaned absolute source paths to the names of every
	// dataset read from them, in registration order.
	bySource map[string][]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Descriptor),
		bySource: make(map[string][]string),
	}
}

func canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}

	return abs
}

// Register adds desc. Registering the same name and path again is a
// no-op.
func (r *Registry) Register(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("dataset name is empty")
	}

	src := canonical(desc.SourcePath)

	if existing, ok := r.byName[desc.Name]; ok {
		if canonical(existing.SourcePath) == src {
			return nil
		}

		return &DuplicateDatasetError{
			Name:         desc.Name,
			ExistingPath: existing.SourcePath,
			NewPath:      desc.SourcePath,
		}
	}

	r.byName[desc.Name] = desc
	r.bySource[src] = append(r.bySource[src], desc.Name)

	return nil
}

// Resolve returns the descriptor registered under name.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	desc, ok := r.byName[name]
	if !ok {
		return Descriptor{}, &UnknownDatasetError{Name: name}
	}

	return desc, nil
}

// Unregister removes name.
func (r *Registry) Unregister(name string) error {
	desc, ok := r.byName[name]
	if !ok {
		return &UnknownDatasetError{Name: name}
	}

	delete(r.byName, name)

	src := canonical(desc.SourcePath)
	r.bySource[src] = slices.DeleteFunc(r.bySource[src], func(n string) bool { return n == name })
	if len(r.bySource[src]) == 0 {
		delete(r.bySource, src)
	}

	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)

	return names
}

// CheckWritable fails when path is the source of a registered dataset.
// The guard holds until every dataset on that path is unregistered.
func (r *Registry) CheckWritable(path string) error {
	if names := r.bySource[canonical(path)]; len(names) > 0 {
		return &ReadOnlySourceError{Name: names[0], Path: path}
	}

	return nil
}

// Describe builds a descriptor for the file at path, taking its size
// from the file system. An empty format is inferred from the suffix.
func Describe(name, path string, f format.Format, schema table.Schema) (Descriptor, error) {
	if f == "" {
		var err error
		if f, err = format.FromSuffix(path); err != nil {
			return Descriptor{}, err
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("stat %s: %w", path, err)
	}

	return Descriptor{
		Name:       name,
		SourcePath: path,
		Format:     f,
		Schema:     schema,
		SizeBytes:  info.Size(),
	}, nil
}
