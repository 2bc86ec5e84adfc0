package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bucketcrawl/internal/keyfilter"
	"github.com/nao1215/bucketcrawl/internal/listing"
	"github.com/nao1215/bucketcrawl/internal/mirror"
)

// DefaultTopN is the number of documents kept in Inventory.Top.
const DefaultTopN = 10

// DocumentCount is the number of wanted archives listed by one document.
type DocumentCount struct {
	// Path is the document path on disk.
	Path string `json:"path"`
	// Rel is Path relative to the mirror root.
	Rel string `json:"rel"`
	// Archives is the number of wanted keys in the document.
	Archives int `json:"archives"`
	// Keys are the wanted keys in document order.
	Keys []string `json:"keys,omitempty"`
}

// DocumentError is a mirrored document that could not be read or parsed.
type DocumentError struct {
	Path    string `json:"path"`
	Rel     string `json:"rel"`
	Message string `json:"message"`
}

// Inventory is the aggregate over every document of a mirror.
type Inventory struct {
	// Root is the scanned mirror root.
	Root string `json:"root"`
	// Documents is the number of documents found.
	Documents int `json:"documents"`
	// TotalArchives is the number of wanted keys over all documents,
	// counting a key once per document that lists it.
	TotalArchives int `json:"total_archives"`
	// WithArchives and WithoutArchives split the parsed documents.
	WithArchives    int `json:"with_archives"`
	WithoutArchives int `json:"without_archives"`
	// ErrorDocuments is the number of documents that failed to parse.
	ErrorDocuments int `json:"error_documents"`
	// Distribution maps an archive count to the number of documents with
	// that many archives. Documents with none are not included.
	Distribution map[int]int `json:"distribution"`
	// TypeStats counts wanted keys by dataset type.
	TypeStats map[string]int `json:"type_stats"`
	// Top holds the documents with the most archives, highest first.
	Top []DocumentCount `json:"top"`
	// Details holds every parsed document, highest archive count first.
	Details []DocumentCount `json:"-"`
	// Keys is the deduplicated, sorted list of wanted keys.
	Keys []string `json:"keys,omitempty"`
	// Errors lists the documents that failed.
	Errors []DocumentError `json:"errors,omitempty"`
}

// WantedKeys returns the flat deduplicated list of wanted keys.
func (inv *Inventory) WantedKeys() []string {
	out := make([]string, len(inv.Keys))
	copy(out, inv.Keys)
	return out
}

// Scanner builds an Inventory from a mirror.
type Scanner struct {
	fs      afero.Fs
	filter  *keyfilter.Filter
	workers int
	topN    int
	logger  *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithWorkers sets the number of documents parsed concurrently.
func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTopN sets the number of documents kept in Inventory.Top.
func WithTopN(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a Scanner that reads from fsys and selects keys with filter.
func NewScanner(fsys afero.Fs, filter *keyfilter.Filter, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		fs:      fsys,
		filter:  filter,
		workers: 4,
		topN:    DefaultTopN,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type docResult struct {
	count DocumentCount
	err   error
}

// Scan parses every document under root.
// Per-document failures are collected in Inventory.Errors; only a failure
// to walk root or a cancelled ctx is returned as an error.
func (s *Scanner) Scan(ctx context.Context, root string) (*Inventory, error) {
	paths, err := mirror.Documents(ctx, s.fs, root)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("scanning mirror", "root", root, "documents", len(paths))

	results := make([]docResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.scanDocument(path)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan mirror: %w", err)
	}

	return s.fold(root, results), nil
}

func (s *Scanner) scanDocument(path string) docResult {
	body, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return docResult{count: DocumentCount{Path: path}, err: err}
	}

	l, err := listing.Parse(body)
	if err != nil {
		return docResult{count: DocumentCount{Path: path}, err: err}
	}

	keys := s.filter.Select(l.Keys())
	return docResult{count: DocumentCount{Path: path, Archives: len(keys), Keys: keys}}
}

func (s *Scanner) fold(root string, results []docResult) *Inventory {
	inv := &Inventory{
		Root:         root,
		Documents:    len(results),
		Distribution: make(map[int]int),
		TypeStats:    make(map[string]int),
		Top:          make([]DocumentCount, 0),
		Details:      make([]DocumentCount, 0, len(results)),
		Keys:         make([]string, 0),
		Errors:       make([]DocumentError, 0),
	}

	seen := make(map[string]struct{})

	for _, r := range results {
		rel := relPath(root, r.count.Path)

		if r.err != nil {
			inv.ErrorDocuments++
			inv.Errors = append(inv.Errors, DocumentError{Path: r.count.Path, Rel: rel, Message: r.err.Error()})
			continue
		}

		c := r.count
		c.Rel = rel
		inv.Details = append(inv.Details, c)
		inv.TotalArchives += c.Archives

		if c.Archives == 0 {
			inv.WithoutArchives++
			continue
		}
		inv.WithArchives++
		inv.Distribution[c.Archives]++

		for _, k := range c.Keys {
			inv.TypeStats[keyfilter.DatasetType(k)]++
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			inv.Keys = append(inv.Keys, k)
		}
	}

	sort.Strings(inv.Keys)
	sort.SliceStable(inv.Details, func(i, j int) bool {
		if inv.Details[i].Archives != inv.Details[j].Archives {
			return inv.Details[i].Archives > inv.Details[j].Archives
		}
		return inv.Details[i].Rel < inv.Details[j].Rel
	})

	n := min(s.topN, len(inv.Details))
	inv.Top = append(inv.Top, inv.Details[:n]...)

	return inv
}

// DistributionEntry is one row of the archive count distribution.
type DistributionEntry struct {
	Archives  int `json:"archives"`
	Documents int `json:"documents"`
}

// SortedDistribution returns the distribution rows with the most common
// archive count first, limited to n rows when n > 0.
func (inv *Inventory) SortedDistribution(n int) []DistributionEntry {
	out := make([]DistributionEntry, 0, len(inv.Distribution))
	for archives, docs := range inv.Distribution {
		out = append(out, DistributionEntry{Archives: archives, Documents: docs})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Documents != out[j].Documents {
			return out[i].Documents > out[j].Documents
		}
		return out[i].Archives < out[j].Archives
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TypeCount is one row of the dataset type statistics.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// SortedTypeStats returns the dataset type counts, highest first.
func (inv *Inventory) SortedTypeStats() []TypeCount {
	out := make([]TypeCount, 0, len(inv.TypeStats))
	for t, c := range inv.TypeStats {
		out = append(out, TypeCount{Type: t, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
