package crawler

import "errors"

// ErrFatalIO is returned by Run when mirror write failures reached the
// configured threshold. The partial result is still returned.
var ErrFatalIO = errors.New("too many local write failures")
