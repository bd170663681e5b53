package format

import "fmt"

// UnreadableSourceError is returned by Read when the source does not
// exist or its content does not match the adapter's framing.
type UnreadableSourceError struct {
	Adapter string
	Path    string
	Err     error
}

func (e *UnreadableSourceError) Error() string {
	return fmt.Sprintf("%s: cannot read %s: %v", e.Adapter, e.Path, e.Err)
}

func (e *UnreadableSourceError) Unwrap() error { return e.Err }

// UnwritableTargetError is returned by Write when the target cannot be
// created or written.
type UnwritableTargetError struct {
	Adapter string
	Path    string
	Err     error
}

func (e *UnwritableTargetError) Error() string {
	return fmt.Sprintf("%s: cannot write %s: %v", e.Adapter, e.Path, e.Err)
}

func (e *UnwritableTargetError) Unwrap() error { return e.Err }

func unreadable(adapter, path string, err error) error {
	return &UnreadableSourceError{Adapter: adapter, Path: path, Err: err}
}

func unwritable(adapter, path string, err error) error {
	return &UnwritableTargetError{Adapter: adapter, Path: path, Err: err}
}
