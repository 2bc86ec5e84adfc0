package config

import "errors"

// Configuration validation errors.
// These errors are returned (wrapped in a *UsageError) by Config.Validate()
// and can be matched with errors.Is.
var (
	// ErrNoStartPrefix is returned when the start prefix is empty.
	ErrNoStartPrefix = errors.New("no start prefix specified")

	// ErrInvalidWorkers is returned when a worker count is not positive.
	ErrInvalidWorkers = errors.New("invalid worker count: must be positive")

	// ErrInvalidMaxDepth is returned when the maximum depth is not positive.
	// A depth of zero would fetch nothing, not even the start prefix.
	ErrInvalidMaxDepth = errors.New("invalid max depth: must be positive")

	// ErrInvalidRetries is returned when the retry count is negative.
	ErrInvalidRetries = errors.New("invalid retry count: must be non-negative")

	// ErrInvalidBackoff is returned when the retry backoff is negative.
	ErrInvalidBackoff = errors.New("invalid retry backoff: must be non-negative")

	// ErrInvalidTimeout is returned when the request timeout is not positive.
	// Every fetch must carry a per-attempt timeout.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidRate is returned when the request rate is negative.
	ErrInvalidRate = errors.New("invalid requests per second: must be non-negative")

	// ErrInvalidListingURL is returned when the listing endpoint is not an http(s) URL.
	ErrInvalidListingURL = errors.New("invalid listing URL: must be an http or https URL")

	// ErrInvalidArchiveURL is returned when the archive endpoint is not an http(s) URL.
	ErrInvalidArchiveURL = errors.New("invalid archive URL: must be an http or https URL")

	// ErrInvalidProxyURL is returned when the proxy URL is not socks5, http or https.
	ErrInvalidProxyURL = errors.New("invalid proxy URL: scheme must be socks5, http or https")

	// ErrInvalidReportFormat is returned for an unknown report format.
	ErrInvalidReportFormat = errors.New("invalid report format: must be text, json or markdown")

	// ErrEmptyArchiveSuffix is returned when the archive suffix is empty.
	ErrEmptyArchiveSuffix = errors.New("invalid archive suffix: must not be empty")

	// ErrInvalidMaxBodySize is returned when the max body size is negative.
	ErrInvalidMaxBodySize = errors.New("invalid max body size: must be non-negative")

	// ErrPartialDateFilter is returned when only one of year and month is supplied.
	// Once either is given, both are required.
	ErrPartialDateFilter = errors.New("year and month must be specified together")

	// ErrInvalidYear is returned when the year is not a four digit number.
	ErrInvalidYear = errors.New("invalid year: must be four digits")

	// ErrInvalidMonth is returned when the month is not a number from 1 to 12.
	ErrInvalidMonth = errors.New("invalid month: must be between 1 and 12")
)

// UsageError reports a configuration mistake made by the caller.
// It is always fatal and is detected before any network activity.
type UsageError struct {
	Err error
}

// Error implements the error interface.
func (e *UsageError) Error() string {
	return "usage error: " + e.Err.Error()
}

// Unwrap returns the underlying sentinel error.
func (e *UsageError) Unwrap() error {
	return e.Err
}

// IsUsageError reports whether err is or wraps a *UsageError.
func IsUsageError(err error) bool {
	var ue *UsageError
	return errors.As(err, &ue)
}

func usage(err error) error {
	return &UsageError{Err: err}
}
