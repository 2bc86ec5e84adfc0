package download

import (
	"errors"
	"fmt"
)

var (
	// ErrChecksumMismatch is returned when an archive's digest differs from its sidecar.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrMalformedChecksum is returned for a sidecar without a hex digest.
	ErrMalformedChecksum = errors.New("malformed checksum file")

	// ErrUnsafeKey is returned for a key that would escape the download directory.
	ErrUnsafeKey = errors.New("key escapes download directory")
)

// ChecksumError describes a digest mismatch.
type ChecksumError struct {
	Key      string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: %s: expected %s, got %s", ErrChecksumMismatch, e.Key, e.Expected, e.Actual)
}

// Unwrap lets errors.Is match ErrChecksumMismatch.
func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}
