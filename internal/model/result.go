package model

import "time"

// LevelStats summarizes one resolved frontier level.
type LevelStats struct {
	// Level is the 0-based depth.
	Level int `json:"level"`

	// Size is the number of unique prefixes dispatched.
	Size int `json:"size"`

	// Succeeded counts prefixes that were fetched, mirrored and parsed.
	Succeeded int `json:"succeeded"`

	// Failed counts prefixes that ended in any failure kind.
	Failed int `json:"failed"`

	// Discovered is the size of the next frontier after deduplication.
	Discovered int `json:"discovered"`

	// Keys is the number of object keys listed at this level.
	Keys int `json:"keys"`

	// Elapsed is the wall time of the level including the barrier wait.
	Elapsed time.Duration `json:"elapsed"`
}

// CrawlResult is the aggregate result of one crawl run.
// It is owned by the scheduler until Run returns and then read by the
// reporting step.
type CrawlResult struct {
	// RunID uniquely identifies the run in the history database.
	RunID string `json:"run_id"`

	// StartPrefix is the root of the crawl.
	StartPrefix string `json:"start_prefix"`

	// MaxDepth is the configured depth boundary.
	MaxDepth int `json:"max_depth"`

	// Workers is the per-level pool size.
	Workers int `json:"workers"`

	// State is the terminal scheduler state.
	State CrawlState `json:"state"`

	// Levels holds one entry per resolved level, in order.
	Levels []LevelStats `json:"levels"`

	// Visited is the number of prefixes dispatched to a worker.
	Visited int `json:"visited"`

	// Succeeded and Failed are run-wide totals.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	// Unvisited holds the frontier left over when the depth boundary or a
	// stop ended the run.
	Unvisited []string `json:"unvisited,omitempty"`

	// Keys are all object keys listed by successfully parsed documents,
	// deduplicated by key and sorted.
	Keys []KeyRecord `json:"keys,omitempty"`

	// MirrorPaths maps a prefix to the files written for it.
	MirrorPaths map[string][]string `json:"mirror_paths,omitempty"`

	// Failures is a snapshot of the failure ledger.
	Failures []Failure `json:"failures,omitempty"`

	// ErrorLog is the path of the append-only failure log, if one was used.
	ErrorLog string `json:"error_log,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewCrawlResult creates an empty result for a run.
func NewCrawlResult(runID, startPrefix string, maxDepth, workers int) *CrawlResult {
	return &CrawlResult{
		RunID:       runID,
		StartPrefix: startPrefix,
		MaxDepth:    maxDepth,
		Workers:     workers,
		State:       CrawlIdle,
		Levels:      make([]LevelStats, 0),
		MirrorPaths: make(map[string][]string),
		StartedAt:   time.Now(),
	}
}

// Duration returns the wall time of the run.
func (r *CrawlResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// KeyNames returns the key strings of r.Keys in order.
func (r *CrawlResult) KeyNames() []string {
	names := make([]string, len(r.Keys))
	for i, k := range r.Keys {
		names[i] = k.Key
	}
	return names
}

// HasFailures reports whether any node failed.
func (r *CrawlResult) HasFailures() bool {
	return r.Failed > 0
}

// DownloadResult summarizes an archive download batch.
type DownloadResult struct {
	Requested  int       `json:"requested"`
	Downloaded int       `json:"downloaded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Bytes      int64     `json:"bytes"`
	Failures   []Failure `json:"failures,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ExtractResult summarizes an archive extraction batch.
type ExtractResult struct {
	Archives   int       `json:"archives"`
	Extracted  int       `json:"extracted"`
	Failed     int       `json:"failed"`
	Deleted    int       `json:"deleted"`
	Members    int       `json:"members"`
	BytesFreed int64     `json:"bytes_freed"`
	Failures   []Failure `json:"failures,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
