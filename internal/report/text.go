package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/bucketcrawl/internal/inventory"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// defaultListLimit caps failure and document lists in non-verbose output.
const defaultListLimit = 20

// TextWriter outputs human-readable text reports for terminal display.
// Output is plain ASCII so it can be piped to files or other tools.
type TextWriter struct {
	baseWriter

	// verbose lists every entry instead of the first defaultListLimit.
	verbose bool

	// version is printed in the footer.
	version string
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithVerbose enables verbose output with every failure and document listed.
func WithVerbose(verbose bool) TextWriterOption {
	return func(w *TextWriter) {
		w.verbose = verbose
	}
}

// WithVersion sets the version printed in the footer.
func WithVersion(version string) TextWriterOption {
	return func(w *TextWriter) {
		w.version = version
	}
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// WriteCrawl outputs the crawl summary in human-readable format.
func (w *TextWriter) WriteCrawl(result *model.CrawlResult) (int, error) {
	var sb strings.Builder
	w.crawl(&sb, result)
	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

// WriteInventory outputs the mirror inventory in human-readable format.
func (w *TextWriter) WriteInventory(inv *inventory.Inventory) (int, error) {
	var sb strings.Builder
	w.inventory(&sb, inv)
	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

// WriteDownload outputs the download summary in human-readable format.
func (w *TextWriter) WriteDownload(result *model.DownloadResult) (int, error) {
	var sb strings.Builder
	w.download(&sb, result)
	return w.output.Write([]byte(sb.String()))
}

// WriteExtract outputs the extract summary in human-readable format.
func (w *TextWriter) WriteExtract(result *model.ExtractResult) (int, error) {
	var sb strings.Builder
	w.extract(&sb, result)
	return w.output.Write([]byte(sb.String()))
}

// WriteSync outputs every section of a sync report.
func (w *TextWriter) WriteSync(report *model.SyncReport) (int, error) {
	var sb strings.Builder

	writeBanner(&sb, "BUCKETCRAWL SYNC REPORT")
	sb.WriteString(fmt.Sprintf("Start Prefix:   %s\n", report.StartPrefix))
	sb.WriteString(fmt.Sprintf("Started:        %s\n", report.StartedAt.Format(timeLayout)))
	sb.WriteString(fmt.Sprintf("Steps:          %s\n", strings.Join(report.PerformedSteps, " -> ")))
	switch {
	case report.Stopped:
		sb.WriteString("Status:         STOPPED (partial results)\n")
	case report.ErrorMessage != "":
		sb.WriteString(fmt.Sprintf("Status:         ERROR - %s\n", report.ErrorMessage))
	default:
		sb.WriteString("Status:         Complete\n")
	}
	sb.WriteString("\n")

	if report.Crawl != nil {
		w.crawl(&sb, report.Crawl)
	}
	if report.WantedKeys != nil {
		writeSection(&sb, "COLLECTED KEYS")
		sb.WriteString(fmt.Sprintf("  Wanted archives: %s\n\n", w.num(len(report.WantedKeys))))
	}
	if report.Download != nil {
		w.download(&sb, report.Download)
	}
	if report.Extract != nil {
		w.extract(&sb, report.Extract)
	}

	w.writeFooter(&sb)
	return w.output.Write([]byte(sb.String()))
}

func (w *TextWriter) crawl(sb *strings.Builder, r *model.CrawlResult) {
	writeBanner(sb, "BUCKETCRAWL CRAWL SUMMARY")

	sb.WriteString(fmt.Sprintf("Run ID:         %s\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Start Prefix:   %s\n", r.StartPrefix))
	sb.WriteString(fmt.Sprintf("Started:        %s\n", r.StartedAt.Format(timeLayout)))
	sb.WriteString(fmt.Sprintf("Duration:       %s\n", elapsed(r.Duration())))
	sb.WriteString(fmt.Sprintf("Max Depth:      %d\n", r.MaxDepth))
	sb.WriteString(fmt.Sprintf("Workers:        %d\n", r.Workers))
	sb.WriteString(fmt.Sprintf("Status:         %s\n", stateText(r.State)))
	sb.WriteString("\n")

	writeSection(sb, "LEVELS")
	sb.WriteString(fmt.Sprintf("  %-5s %10s %10s %8s %10s %10s %10s\n",
		"LEVEL", "PREFIXES", "OK", "FAILED", "NEXT", "KEYS", "ELAPSED"))
	for _, l := range r.Levels {
		sb.WriteString(fmt.Sprintf("  %-5d %10s %10s %8s %10s %10s %10s\n",
			l.Level, w.num(l.Size), w.num(l.Succeeded), w.num(l.Failed),
			w.num(l.Discovered), w.num(l.Keys), elapsed(l.Elapsed)))
	}
	sb.WriteString("\n")

	writeSection(sb, "TOTALS")
	sb.WriteString(fmt.Sprintf("  Visited:      %s\n", w.num(r.Visited)))
	sb.WriteString(fmt.Sprintf("  Succeeded:    %s\n", w.num(r.Succeeded)))
	sb.WriteString(fmt.Sprintf("  Failed:       %s\n", w.num(r.Failed)))
	sb.WriteString(fmt.Sprintf("  Unvisited:    %s\n", w.num(len(r.Unvisited))))
	sb.WriteString(fmt.Sprintf("  Keys:         %s\n", w.num(len(r.Keys))))
	if r.ErrorLog != "" {
		sb.WriteString(fmt.Sprintf("  Error log:    %s\n", r.ErrorLog))
	}
	sb.WriteString("\n")

	if len(r.Failures) > 0 {
		writeSection(sb, "FAILURES")
		w.failures(sb, r.Failures)
	}

	if len(r.Unvisited) > 0 && w.verbose {
		writeSection(sb, "UNVISITED")
		for _, p := range r.Unvisited {
			sb.WriteString(fmt.Sprintf("  %s\n", p))
		}
		sb.WriteString("\n")
	}
}

func (w *TextWriter) inventory(sb *strings.Builder, inv *inventory.Inventory) {
	writeBanner(sb, "BUCKETCRAWL MIRROR INVENTORY")

	sb.WriteString(fmt.Sprintf("Mirror Root:    %s\n", inv.Root))
	sb.WriteString(fmt.Sprintf("Documents:      %s\n", w.num(inv.Documents)))
	sb.WriteString(fmt.Sprintf("Archives:       %s\n", w.num(inv.TotalArchives)))
	sb.WriteString(fmt.Sprintf("Unique Keys:    %s\n", w.num(len(inv.Keys))))
	sb.WriteString(fmt.Sprintf("With Archives:  %s\n", w.num(inv.WithArchives)))
	sb.WriteString(fmt.Sprintf("Without:        %s\n", w.num(inv.WithoutArchives)))
	sb.WriteString(fmt.Sprintf("Parse Errors:   %s\n", w.num(inv.ErrorDocuments)))
	sb.WriteString("\n")

	if dist := inv.SortedDistribution(10); len(dist) > 0 {
		writeSection(sb, "ARCHIVES PER DOCUMENT")
		for _, d := range dist {
			sb.WriteString(fmt.Sprintf("  %8s archives: %s documents\n", w.num(d.Archives), w.num(d.Documents)))
		}
		sb.WriteString("\n")
	}

	if types := inv.SortedTypeStats(); len(types) > 0 {
		writeSection(sb, "DATASET TYPES")
		for _, t := range types {
			sb.WriteString(fmt.Sprintf("  %-12s %s\n", t.Type, w.num(t.Count)))
		}
		sb.WriteString("\n")
	}

	docs := inv.Top
	title := "TOP DOCUMENTS"
	if w.verbose && len(inv.Details) > 0 {
		docs = inv.Details
		title = "DOCUMENTS"
	}
	if len(docs) > 0 {
		writeSection(sb, title)
		for _, d := range docs {
			sb.WriteString(fmt.Sprintf("  %8s  %s\n", w.num(d.Archives), d.Rel))
		}
		sb.WriteString("\n")
	}

	if len(inv.Errors) > 0 {
		writeSection(sb, "UNREADABLE DOCUMENTS")
		for i, e := range inv.Errors {
			if !w.verbose && i == defaultListLimit {
				sb.WriteString(fmt.Sprintf("  ... and %s more\n", w.num(len(inv.Errors)-i)))
				break
			}
			sb.WriteString(fmt.Sprintf("  %s: %s\n", e.Rel, e.Message))
		}
		sb.WriteString("\n")
	}
}

func (w *TextWriter) download(sb *strings.Builder, r *model.DownloadResult) {
	writeSection(sb, "DOWNLOAD")
	sb.WriteString(fmt.Sprintf("  Requested:    %s\n", w.num(r.Requested)))
	sb.WriteString(fmt.Sprintf("  Downloaded:   %s (%s)\n", w.num(r.Downloaded), byteSize(r.Bytes)))
	sb.WriteString(fmt.Sprintf("  Skipped:      %s\n", w.num(r.Skipped)))
	sb.WriteString(fmt.Sprintf("  Failed:       %s\n", w.num(r.Failed)))
	sb.WriteString(fmt.Sprintf("  Duration:     %s\n", elapsed(r.FinishedAt.Sub(r.StartedAt))))
	sb.WriteString("\n")
	if len(r.Failures) > 0 {
		w.failures(sb, r.Failures)
	}
}

func (w *TextWriter) extract(sb *strings.Builder, r *model.ExtractResult) {
	writeSection(sb, "EXTRACT")
	sb.WriteString(fmt.Sprintf("  Archives:     %s\n", w.num(r.Archives)))
	sb.WriteString(fmt.Sprintf("  Extracted:    %s (%s files)\n", w.num(r.Extracted), w.num(r.Members)))
	sb.WriteString(fmt.Sprintf("  Failed:       %s\n", w.num(r.Failed)))
	sb.WriteString(fmt.Sprintf("  Deleted:      %s (%s freed)\n", w.num(r.Deleted), byteSize(r.BytesFreed)))
	sb.WriteString(fmt.Sprintf("  Duration:     %s\n", elapsed(r.FinishedAt.Sub(r.StartedAt))))
	sb.WriteString("\n")
	if len(r.Failures) > 0 {
		w.failures(sb, r.Failures)
	}
}

// failures writes one line per ledger entry, capped unless verbose.
func (w *TextWriter) failures(sb *strings.Builder, failures []model.Failure) {
	for i, f := range failures {
		if !w.verbose && i == defaultListLimit {
			sb.WriteString(fmt.Sprintf("  ... and %s more\n", w.num(len(failures)-i)))
			break
		}
		if f.Depth >= 0 {
			sb.WriteString(fmt.Sprintf("  [%s] %s (depth %d)\n", f.Kind, f.Subject, f.Depth))
		} else {
			sb.WriteString(fmt.Sprintf("  [%s] %s\n", f.Kind, f.Subject))
		}
		if f.Message != "" {
			sb.WriteString(fmt.Sprintf("      %s\n", truncateString(f.Message, 120)))
		}
	}
	sb.WriteString("\n")
}

// writeFooter writes the report footer.
func (w *TextWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	if w.version != "" {
		sb.WriteString(fmt.Sprintf("Report generated by bucketcrawl %s\n", w.version))
	} else {
		sb.WriteString("Report generated by bucketcrawl\n")
	}
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}

func writeBanner(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	pad := (70 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	sb.WriteString(strings.Repeat(" ", pad))
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}
