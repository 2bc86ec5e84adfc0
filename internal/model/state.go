package model

// CrawlState is the state of the frontier scheduler.
//
// Idle -> Running(depth=0) -> Running(depth=1) -> ... -> one terminal state.
type CrawlState int

const (
	// CrawlIdle means the scheduler has not started.
	CrawlIdle CrawlState = iota

	// CrawlRunning means a level is being processed.
	CrawlRunning

	// CrawlDrained means the tree was exhausted: the frontier became empty.
	CrawlDrained

	// CrawlDepthExceeded means the configured depth boundary was reached
	// with prefixes still in the frontier. It is not an error.
	CrawlDepthExceeded

	// CrawlStopped means the stop flag or the context ended the run
	// between levels.
	CrawlStopped

	// CrawlFatal means a run-fatal condition (repeated local write failures)
	// stopped the crawl.
	CrawlFatal
)

// String returns a human-readable representation of the state.
func (s CrawlState) String() string {
	switch s {
	case CrawlIdle:
		return "idle"
	case CrawlRunning:
		return "running"
	case CrawlDrained:
		return "drained"
	case CrawlDepthExceeded:
		return "depth_exceeded"
	case CrawlStopped:
		return "stopped"
	case CrawlFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CrawlState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Unknown names decode to CrawlIdle.
func (s *CrawlState) UnmarshalText(text []byte) error {
	for _, st := range []CrawlState{CrawlIdle, CrawlRunning, CrawlDrained, CrawlDepthExceeded, CrawlStopped, CrawlFatal} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	*s = CrawlIdle
	return nil
}

// Terminal reports whether s ends a run.
func (s CrawlState) Terminal() bool {
	return s >= CrawlDrained
}
