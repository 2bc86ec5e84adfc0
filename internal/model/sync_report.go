package model

import "time"

// SyncReport is threaded through the sync pipeline.
// Each step fills in its own section; later steps read what earlier steps
// produced.
type SyncReport struct {
	// StartPrefix is the crawl root.
	StartPrefix string `json:"start_prefix"`

	// Crawl is filled by the crawl step.
	Crawl *CrawlResult `json:"crawl,omitempty"`

	// WantedKeys is filled by the collect step: the flat, deduplicated
	// list of archive keys that passed the key filter.
	WantedKeys []string `json:"wanted_keys,omitempty"`

	// Download is filled by the download step.
	Download *DownloadResult `json:"download,omitempty"`

	// Extract is filled by the extract step.
	Extract *ExtractResult `json:"extract,omitempty"`

	// PerformedSteps lists the step names that ran, in order.
	PerformedSteps []string `json:"performed_steps"`

	// Error is the last step error, if any.
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`

	// Stopped is set when the context ended the pipeline early.
	Stopped bool `json:"stopped"`

	StartedAt time.Time `json:"started_at"`
}

// NewSyncReport creates an empty report for a sync run.
func NewSyncReport(startPrefix string) *SyncReport {
	return &SyncReport{
		StartPrefix:    startPrefix,
		PerformedSteps: make([]string, 0),
		StartedAt:      time.Now(),
	}
}
