// Package report renders run results for people and tools.
//
// Three formats share one Writer interface:
//   - TextWriter: fixed-width sections for terminal display
//   - JSONWriter: a versioned JSON envelope for tool integration
//   - MarkdownWriter: tables and alerts built with nao1215/markdown
//
// Every writer renders crawl results, mirror inventories, download and
// extract batches, and the composite sync report. Counts are printed with
// thousands separators through golang.org/x/text/message and byte sizes
// through go-humanize.
//
// Use New to pick a writer by format name, and MultiWriter to send the
// same report to the terminal and a file.
package report
