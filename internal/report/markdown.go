package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/bucketcrawl/internal/inventory"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// MarkdownWriter outputs reports in Markdown format for sharing, for
// example as a CI job summary.
type MarkdownWriter struct {
	baseWriter

	// version is printed in the footer.
	version string
}

// MarkdownWriterOption configures a MarkdownWriter.
type MarkdownWriterOption func(*MarkdownWriter)

// WithMarkdownVersion sets the version printed in the footer.
func WithMarkdownVersion(version string) MarkdownWriterOption {
	return func(w *MarkdownWriter) {
		w.version = version
	}
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer, opts ...MarkdownWriterOption) *MarkdownWriter {
	w := &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteCrawl outputs the crawl summary in Markdown format.
func (w *MarkdownWriter) WriteCrawl(result *model.CrawlResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Crawl Summary")
	md.PlainText("")
	w.crawl(md, result)
	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// WriteInventory outputs the mirror inventory in Markdown format.
func (w *MarkdownWriter) WriteInventory(inv *inventory.Inventory) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Mirror Inventory")
	md.PlainText("")
	w.inventory(md, inv)
	w.writeFooter(md)
	return len(md.String()), md.Build()
}

// WriteDownload outputs the download summary in Markdown format.
func (w *MarkdownWriter) WriteDownload(result *model.DownloadResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	w.download(md, result)
	return len(md.String()), md.Build()
}

// WriteExtract outputs the extract summary in Markdown format.
func (w *MarkdownWriter) WriteExtract(result *model.ExtractResult) (int, error) {
	md := markdown.NewMarkdown(w.output)
	w.extract(md, result)
	return len(md.String()), md.Build()
}

// WriteSync outputs every section of a sync report in Markdown format.
func (w *MarkdownWriter) WriteSync(report *model.SyncReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Sync Report")
	md.PlainText("")

	status := "✅ Complete"
	switch {
	case report.Stopped:
		status = "⚠️ Stopped (partial results)"
	case report.ErrorMessage != "":
		status = "❌ Error - " + report.ErrorMessage
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Start Prefix", "`" + report.StartPrefix + "`"},
			{"Started", report.StartedAt.Format(timeLayout)},
			{"Steps", strings.Join(report.PerformedSteps, " → ")},
			{"Status", status},
		},
	})
	md.PlainText("")

	if report.Crawl != nil {
		md.H2("Crawl")
		md.PlainText("")
		w.crawl(md, report.Crawl)
	}
	if report.WantedKeys != nil {
		md.H2("Collected Keys")
		md.PlainText("")
		md.PlainTextf("%s wanted archive keys.", w.num(len(report.WantedKeys)))
		md.PlainText("")
	}
	if report.Download != nil {
		w.download(md, report.Download)
	}
	if report.Extract != nil {
		w.extract(md, report.Extract)
	}

	w.writeFooter(md)
	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) crawl(md *markdown.Markdown, r *model.CrawlResult) {
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + r.RunID + "`"},
			{"Start Prefix", "`" + r.StartPrefix + "`"},
			{"Started", r.StartedAt.Format(timeLayout)},
			{"Duration", elapsed(r.Duration())},
			{"Max Depth", strconv.Itoa(r.MaxDepth)},
			{"Workers", strconv.Itoa(r.Workers)},
			{"Status", stateText(r.State)},
		},
	})
	md.PlainText("")

	md.H3("Levels")
	md.PlainText("")
	rows := make([][]string, 0, len(r.Levels))
	for _, l := range r.Levels {
		rows = append(rows, []string{
			strconv.Itoa(l.Level),
			w.num(l.Size),
			w.num(l.Succeeded),
			w.num(l.Failed),
			w.num(l.Discovered),
			w.num(l.Keys),
			elapsed(l.Elapsed),
		})
	}
	rows = append(rows, []string{
		"**Total**",
		"**" + w.num(r.Visited) + "**",
		"**" + w.num(r.Succeeded) + "**",
		"**" + w.num(r.Failed) + "**",
		"-",
		"**" + w.num(len(r.Keys)) + "**",
		elapsed(r.Duration()),
	})
	md.Table(markdown.TableSet{
		Header: []string{"Level", "Prefixes", "OK", "Failed", "Next", "Keys", "Elapsed"},
		Rows:   rows,
	})
	md.PlainText("")

	w.crawlAlert(md, r)

	if r.ErrorLog != "" {
		md.PlainTextf("Failure log: `%s`", r.ErrorLog)
		md.PlainText("")
	}

	if len(r.Failures) > 0 {
		md.H3("Failures")
		md.PlainText("")
		w.failureTable(md, r.Failures)
	}
}

// crawlAlert writes an alert matching the terminal state and failure count.
func (w *MarkdownWriter) crawlAlert(md *markdown.Markdown, r *model.CrawlResult) {
	switch {
	case r.State == model.CrawlFatal:
		md.Cautionf("The crawl was aborted after repeated mirror write failures. %d prefix(es) were not visited.", len(r.Unvisited))
	case r.State == model.CrawlStopped:
		md.Warningf("The crawl was stopped before the frontier drained. %d prefix(es) were not visited.", len(r.Unvisited))
	case r.State == model.CrawlDepthExceeded:
		md.Importantf("The depth limit of %d was reached with %d prefix(es) unvisited.", r.MaxDepth, len(r.Unvisited))
	case r.Failed > 0:
		md.Note(w.num(r.Failed) + " prefix(es) failed. Re-run with --retry-failed to retry them.")
	default:
		md.Tip("Every prefix was fetched, mirrored and parsed.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) inventory(md *markdown.Markdown, inv *inventory.Inventory) {
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Mirror Root", "`" + inv.Root + "`"},
			{"Documents", w.num(inv.Documents)},
			{"Archives", w.num(inv.TotalArchives)},
			{"Unique Keys", w.num(len(inv.Keys))},
			{"With Archives", w.num(inv.WithArchives)},
			{"Without Archives", w.num(inv.WithoutArchives)},
			{"Parse Errors", w.num(inv.ErrorDocuments)},
		},
	})
	md.PlainText("")

	if types := inv.SortedTypeStats(); len(types) > 0 {
		md.H2("Dataset Types")
		md.PlainText("")
		rows := make([][]string, 0, len(types))
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle("Archives by Dataset Type"),
			piechart.WithShowData(true),
		)
		for _, t := range types {
			rows = append(rows, []string{t.Type, w.num(t.Count)})
			if t.Count > 0 {
				chart.LabelAndIntValue(t.Type, uint64(t.Count))
			}
		}
		md.Table(markdown.TableSet{Header: []string{"Type", "Archives"}, Rows: rows})
		md.PlainText("")
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	if dist := inv.SortedDistribution(10); len(dist) > 0 {
		md.H2("Archives per Document")
		md.PlainText("")
		rows := make([][]string, 0, len(dist))
		for _, d := range dist {
			rows = append(rows, []string{w.num(d.Archives), w.num(d.Documents)})
		}
		md.Table(markdown.TableSet{Header: []string{"Archives", "Documents"}, Rows: rows})
		md.PlainText("")
	}

	if len(inv.Top) > 0 {
		md.H2("Top Documents")
		md.PlainText("")
		rows := make([][]string, 0, len(inv.Top))
		for _, d := range inv.Top {
			rows = append(rows, []string{"`" + d.Rel + "`", w.num(d.Archives)})
		}
		md.Table(markdown.TableSet{Header: []string{"Document", "Archives"}, Rows: rows})
		md.PlainText("")
	}

	if len(inv.Errors) > 0 {
		md.H2("Unreadable Documents")
		md.PlainText("")
		md.Warningf("%d document(s) could not be parsed and were skipped.", len(inv.Errors))
		md.PlainText("")
		rows := make([][]string, 0, len(inv.Errors))
		for _, e := range inv.Errors {
			rows = append(rows, []string{"`" + e.Rel + "`", truncateString(e.Message, 80)})
		}
		md.Table(markdown.TableSet{Header: []string{"Document", "Error"}, Rows: rows})
		md.PlainText("")
	}
}

func (w *MarkdownWriter) download(md *markdown.Markdown, r *model.DownloadResult) {
	md.H2("Download")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Requested", "Downloaded", "Skipped", "Failed", "Size", "Duration"},
		Rows: [][]string{{
			w.num(r.Requested),
			w.num(r.Downloaded),
			w.num(r.Skipped),
			w.num(r.Failed),
			byteSize(r.Bytes),
			elapsed(r.FinishedAt.Sub(r.StartedAt)),
		}},
	})
	md.PlainText("")
	if len(r.Failures) > 0 {
		w.failureTable(md, r.Failures)
	}
}

func (w *MarkdownWriter) extract(md *markdown.Markdown, r *model.ExtractResult) {
	md.H2("Extract")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Archives", "Extracted", "Files", "Failed", "Deleted", "Freed", "Duration"},
		Rows: [][]string{{
			w.num(r.Archives),
			w.num(r.Extracted),
			w.num(r.Members),
			w.num(r.Failed),
			w.num(r.Deleted),
			byteSize(r.BytesFreed),
			elapsed(r.FinishedAt.Sub(r.StartedAt)),
		}},
	})
	md.PlainText("")
	if len(r.Failures) > 0 {
		w.failureTable(md, r.Failures)
	}
}

// failureTable writes one row per ledger entry.
func (w *MarkdownWriter) failureTable(md *markdown.Markdown, failures []model.Failure) {
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		depth := "-"
		if f.Depth >= 0 {
			depth = strconv.Itoa(f.Depth)
		}
		msg := f.Message
		if msg == "" {
			msg = "-"
		}
		rows = append(rows, []string{
			f.Kind.String(),
			"`" + f.Subject + "`",
			depth,
			truncateString(msg, 80),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Kind", "Subject", "Depth", "Message"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	if w.version != "" {
		md.PlainTextf("*Report generated by bucketcrawl %s*", w.version)
		return
	}
	md.PlainText("*Report generated by bucketcrawl*")
}
