package report

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nao1215/bucketcrawl/internal/inventory"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// Format names accepted by New.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// ErrUnknownFormat is returned by New for an unsupported format name.
var ErrUnknownFormat = errors.New("unknown report format")

// Writer defines the interface for report output.
// Each method returns the number of bytes written.
type Writer interface {
	// WriteCrawl outputs the summary of one crawl run.
	WriteCrawl(result *model.CrawlResult) (int, error)

	// WriteInventory outputs the aggregate of a mirror scan.
	WriteInventory(inv *inventory.Inventory) (int, error)

	// WriteDownload outputs the summary of a download batch.
	WriteDownload(result *model.DownloadResult) (int, error)

	// WriteExtract outputs the summary of an extract batch.
	WriteExtract(result *model.ExtractResult) (int, error)

	// WriteSync outputs every section a sync pipeline produced.
	WriteSync(report *model.SyncReport) (int, error)
}

// Options shared by the writers created through New.
type Options struct {
	// Version is stamped into JSON envelopes and footers.
	Version string

	// Verbose lists every failure and document instead of a capped list.
	Verbose bool

	// IncludeKeys adds the full key lists to JSON output.
	IncludeKeys bool
}

// New creates the Writer for format.
func New(format string, output io.Writer, opts Options) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewTextWriter(output, WithVerbose(opts.Verbose), WithVersion(opts.Version)), nil
	case FormatJSON:
		jopts := []JSONWriterOption{WithPrettyPrint(), WithJSONVersion(opts.Version)}
		if opts.IncludeKeys {
			jopts = append(jopts, WithKeys())
		}
		return NewJSONWriter(output, jopts...), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output, WithMarkdownVersion(opts.Version)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// MultiWriter writes to multiple Writers in order and stops on the first error.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

func (m *MultiWriter) each(fn func(Writer) (int, error)) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := fn(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteCrawl outputs the crawl summary to all Writers.
func (m *MultiWriter) WriteCrawl(result *model.CrawlResult) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteCrawl(result) })
}

// WriteInventory outputs the inventory to all Writers.
func (m *MultiWriter) WriteInventory(inv *inventory.Inventory) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteInventory(inv) })
}

// WriteDownload outputs the download summary to all Writers.
func (m *MultiWriter) WriteDownload(result *model.DownloadResult) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteDownload(result) })
}

// WriteExtract outputs the extract summary to all Writers.
func (m *MultiWriter) WriteExtract(result *model.ExtractResult) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteExtract(result) })
}

// WriteSync outputs the sync report to all Writers.
func (m *MultiWriter) WriteSync(report *model.SyncReport) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteSync(report) })
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output  io.Writer
	printer *message.Printer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{
		output:  output,
		printer: message.NewPrinter(language.English),
	}
}

// num formats n with thousands separators.
func (b baseWriter) num(n int) string {
	return b.printer.Sprintf("%d", n)
}

// byteSize formats a byte count for people.
func byteSize(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// elapsed rounds d for display.
func elapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

const timeLayout = "2006-01-02 15:04:05 MST"

// stateText describes a terminal crawl state.
func stateText(s model.CrawlState) string {
	switch s {
	case model.CrawlDrained:
		return "Complete (frontier drained)"
	case model.CrawlDepthExceeded:
		return "Depth limit reached (unvisited prefixes remain)"
	case model.CrawlStopped:
		return "Stopped (partial results)"
	case model.CrawlFatal:
		return "Aborted (mirror write failures)"
	default:
		return s.String()
	}
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
