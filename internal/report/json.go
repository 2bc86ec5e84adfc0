package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/nao1215/bucketcrawl/internal/inventory"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// JSONWriter outputs reports in JSON format for tool integration.
// Every report is wrapped in an Envelope so consumers can tell the
// sections apart and see which version produced them.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string

	// version is stamped into every envelope.
	version string

	// keys keeps the full key lists, which can run into the millions.
	keys bool

	// now is the clock for GeneratedAt.
	now func() time.Time
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// WithJSONVersion sets the version stamped into envelopes.
func WithJSONVersion(version string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.version = version
	}
}

// WithKeys keeps key lists in crawl, inventory and sync output.
func WithKeys() JSONWriterOption {
	return func(w *JSONWriter) {
		w.keys = true
	}
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{
		baseWriter: newBaseWriter(output),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Envelope wraps a report section with metadata.
// Exactly one of the section fields is set, except for sync envelopes.
type Envelope struct {
	Tool        string                `json:"tool"`
	Version     string                `json:"version,omitempty"`
	Kind        string                `json:"kind"`
	GeneratedAt time.Time             `json:"generated_at"`
	Crawl       *model.CrawlResult    `json:"crawl,omitempty"`
	Inventory   *inventory.Inventory  `json:"inventory,omitempty"`
	Download    *model.DownloadResult `json:"download,omitempty"`
	Extract     *model.ExtractResult  `json:"extract,omitempty"`
	Sync        *model.SyncReport     `json:"sync,omitempty"`
}

func (w *JSONWriter) envelope(kind string) *Envelope {
	return &Envelope{
		Tool:        "bucketcrawl",
		Version:     w.version,
		Kind:        kind,
		GeneratedAt: w.now().UTC(),
	}
}

// WriteCrawl outputs the crawl result in JSON format.
func (w *JSONWriter) WriteCrawl(result *model.CrawlResult) (int, error) {
	env := w.envelope("crawl")
	env.Crawl = w.crawl(result)
	return w.writeJSON(env)
}

// WriteInventory outputs the mirror inventory in JSON format.
func (w *JSONWriter) WriteInventory(inv *inventory.Inventory) (int, error) {
	env := w.envelope("inventory")
	if w.keys {
		env.Inventory = inv
	} else {
		stripped := *inv
		stripped.Keys = nil
		env.Inventory = &stripped
	}
	return w.writeJSON(env)
}

// WriteDownload outputs the download result in JSON format.
func (w *JSONWriter) WriteDownload(result *model.DownloadResult) (int, error) {
	env := w.envelope("download")
	env.Download = result
	return w.writeJSON(env)
}

// WriteExtract outputs the extract result in JSON format.
func (w *JSONWriter) WriteExtract(result *model.ExtractResult) (int, error) {
	env := w.envelope("extract")
	env.Extract = result
	return w.writeJSON(env)
}

// WriteSync outputs the sync report in JSON format.
func (w *JSONWriter) WriteSync(report *model.SyncReport) (int, error) {
	env := w.envelope("sync")
	out := *report
	if report.Error != nil && out.ErrorMessage == "" {
		out.ErrorMessage = report.Error.Error()
	}
	if report.Crawl != nil {
		out.Crawl = w.crawl(report.Crawl)
	}
	if !w.keys {
		out.WantedKeys = nil
	}
	env.Sync = &out
	return w.writeJSON(env)
}

// crawl returns result, or a copy without keys unless keys were requested.
func (w *JSONWriter) crawl(result *model.CrawlResult) *model.CrawlResult {
	if w.keys {
		return result
	}
	stripped := *result
	stripped.Keys = nil
	return &stripped
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return 0, err
	}

	// Trailing newline for terminal output
	data = append(data, '\n')

	return w.output.Write(data)
}
