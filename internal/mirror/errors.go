package mirror

import (
	"errors"
	"fmt"
)

// ErrUnsafePrefix is returned for a prefix that would escape the mirror root.
var ErrUnsafePrefix = errors.New("prefix escapes mirror root")

// WriteError is a local directory or file failure for one prefix.
type WriteError struct {
	Prefix string
	Path   string
	Err    error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("write mirror for %q at %s: %v", e.Prefix, e.Path, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *WriteError) Unwrap() error {
	return e.Err
}
