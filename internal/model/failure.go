package model

import (
	"fmt"
	"time"
)

// FailureKind classifies a ledger entry by the stage that failed.
type FailureKind int

const (
	// FailureFetch is a listing fetch that exhausted its retries.
	FailureFetch FailureKind = iota

	// FailureParse is a malformed or schema-violating listing document.
	// The prefix contributes zero children and zero keys.
	FailureParse

	// FailureIO is a local directory or mirror file that could not be written.
	FailureIO

	// FailureDownload is an archive that could not be downloaded.
	FailureDownload

	// FailureChecksum is a downloaded archive whose digest did not match its sidecar.
	FailureChecksum

	// FailureExtract is an archive that could not be unpacked.
	FailureExtract
)

// String returns the lowercase name used in errors.log and the database.
func (k FailureKind) String() string {
	switch k {
	case FailureFetch:
		return "fetch"
	case FailureParse:
		return "parse"
	case FailureIO:
		return "io"
	case FailureDownload:
		return "download"
	case FailureChecksum:
		return "checksum"
	case FailureExtract:
		return "extract"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so kinds read well in JSON.
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *FailureKind) UnmarshalText(text []byte) error {
	kind, err := ParseFailureKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseFailureKind is the inverse of FailureKind.String.
func ParseFailureKind(s string) (FailureKind, error) {
	switch s {
	case "fetch":
		return FailureFetch, nil
	case "parse":
		return FailureParse, nil
	case "io":
		return FailureIO, nil
	case "download":
		return FailureDownload, nil
	case "checksum":
		return FailureChecksum, nil
	case "extract":
		return FailureExtract, nil
	default:
		return 0, fmt.Errorf("unknown failure kind %q", s)
	}
}

// Failure is one entry in the failure ledger.
// Subject is a prefix for crawl failures and an object key or archive path
// for download and extract failures.
type Failure struct {
	Subject string      `json:"subject"`
	Kind    FailureKind `json:"kind"`
	Depth   int         `json:"depth"`
	Message string      `json:"message"`
	At      time.Time   `json:"at"`
}

// NewFailure creates a Failure stamped with the current time.
// Depth is -1 for failures that are not tied to a tree level.
func NewFailure(subject string, kind FailureKind, depth int, err error) Failure {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Failure{
		Subject: subject,
		Kind:    kind,
		Depth:   depth,
		Message: msg,
		At:      time.Now(),
	}
}

// Line formats the failure as a single self-contained errors.log line.
func (f Failure) Line() string {
	return fmt.Sprintf("%s [%s] %s: %s", f.At.UTC().Format(time.RFC3339), f.Kind, f.Subject, f.Message)
}
