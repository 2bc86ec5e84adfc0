package listing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedRoot is returned when a document is not a ListBucketResult.
	ErrUnexpectedRoot = errors.New("document root is not ListBucketResult")

	// ErrEmptyDocument is returned for a body with no XML elements.
	ErrEmptyDocument = errors.New("empty listing document")
)

// FetchError is the terminal failure of a listing fetch after every
// attempt was used.
type FetchError struct {
	// Prefix is the prefix that was requested.
	Prefix string
	// URL is the listing URL.
	URL string
	// StatusCode is the last HTTP status seen, or zero if no response arrived.
	StatusCode int
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last attempt's error.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: giving up after %d attempt(s): %v", e.Prefix, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed or schema-violating listing document.
type ParseError struct {
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return "parse listing: " + e.Err.Error()
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
