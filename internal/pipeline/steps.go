package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/nao1215/bucketcrawl/internal/extract"
	"github.com/nao1215/bucketcrawl/internal/inventory"
	"github.com/nao1215/bucketcrawl/internal/keyfilter"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// ErrNoCrawlResult is returned by the collect step when it has neither a
// crawl result nor a mirror scanner to read keys from.
var ErrNoCrawlResult = errors.New("no crawl result to collect keys from")

// Crawler runs one crawl. *crawler.Scheduler implements it.
type Crawler interface {
	Run(ctx context.Context, start string) (*model.CrawlResult, error)
}

// RunStore persists crawl results. *database.RunDB implements it.
type RunStore interface {
	SaveCrawlResult(ctx context.Context, result *model.CrawlResult) error
}

// Downloader fetches archives by key. *download.Downloader implements it.
type Downloader interface {
	Download(ctx context.Context, keys []string) (*model.DownloadResult, error)
}

// Extractor unpacks archives. *extract.Extractor implements it.
type Extractor interface {
	Extract(ctx context.Context, archives []string) (*model.ExtractResult, error)
}

// CrawlStep mirrors the listing tree under the report's start prefix.
type CrawlStep struct {
	crawler Crawler
	store   RunStore
	logger  *slog.Logger
}

// CrawlStepOption configures a CrawlStep.
type CrawlStepOption func(*CrawlStep)

// WithRunStore records the crawl result after the run.
// A failed save is logged and does not fail the step.
func WithRunStore(store RunStore) CrawlStepOption {
	return func(s *CrawlStep) {
		s.store = store
	}
}

// WithCrawlLogger sets a custom logger for the crawl step.
func WithCrawlLogger(logger *slog.Logger) CrawlStepOption {
	return func(s *CrawlStep) {
		s.logger = logger
	}
}

// NewCrawlStep creates a crawl step.
func NewCrawlStep(c Crawler, opts ...CrawlStepOption) *CrawlStep {
	s := &CrawlStep{
		crawler: c,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do executes the crawl and stores the result in the report.
// A stopped crawl keeps its partial result and returns ErrStopped.
func (s *CrawlStep) Do(ctx context.Context, report *model.SyncReport) error {
	result, err := s.crawler.Run(ctx, report.StartPrefix)
	if result != nil {
		report.Crawl = result
		if s.store != nil {
			// The run context may already be cancelled; history is still wanted.
			if serr := s.store.SaveCrawlResult(context.WithoutCancel(ctx), result); serr != nil {
				s.logger.Warn("failed to save crawl result", "run_id", result.RunID, "error", serr)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("crawl %s: %w", report.StartPrefix, err)
	}
	if result != nil && result.State == model.CrawlStopped {
		return ErrStopped
	}
	return nil
}

// CollectStep builds the flat list of wanted archive keys.
//
// With a mirror scanner it reads every document under the mirror root, so
// keys listed by earlier runs are included. Without one it uses the keys of
// the crawl result in the report.
type CollectStep struct {
	filter  *keyfilter.Filter
	scanner *inventory.Scanner
	root    string
	logger  *slog.Logger
}

// CollectStepOption configures a CollectStep.
type CollectStepOption func(*CollectStep)

// WithMirrorScan collects keys by scanning the mirror at root.
func WithMirrorScan(scanner *inventory.Scanner, root string) CollectStepOption {
	return func(s *CollectStep) {
		s.scanner = scanner
		s.root = root
	}
}

// WithCollectLogger sets a custom logger for the collect step.
func WithCollectLogger(logger *slog.Logger) CollectStepOption {
	return func(s *CollectStep) {
		s.logger = logger
	}
}

// NewCollectStep creates a collect step that keeps keys wanted by filter.
func NewCollectStep(filter *keyfilter.Filter, opts ...CollectStepOption) *CollectStep {
	s := &CollectStep{
		filter: filter,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *CollectStep) Name() string {
	return "collect"
}

// Do fills report.WantedKeys.
func (s *CollectStep) Do(ctx context.Context, report *model.SyncReport) error {
	if s.scanner != nil {
		inv, err := s.scanner.Scan(ctx, s.root)
		if err != nil {
			return fmt.Errorf("scan mirror: %w", err)
		}
		report.WantedKeys = inv.WantedKeys()
		s.logger.Info("keys collected from mirror",
			"documents", inv.Documents,
			"wanted", len(report.WantedKeys),
			"unreadable", inv.ErrorDocuments)
		return nil
	}

	if report.Crawl == nil {
		return ErrNoCrawlResult
	}
	report.WantedKeys = s.filter.Select(report.Crawl.KeyNames())
	s.logger.Info("keys collected from crawl",
		"listed", len(report.Crawl.Keys),
		"wanted", len(report.WantedKeys))
	return nil
}

// DownloadStep downloads the collected keys.
type DownloadStep struct {
	downloader Downloader
}

// NewDownloadStep creates a download step.
func NewDownloadStep(d Downloader) *DownloadStep {
	return &DownloadStep{downloader: d}
}

// Name returns the step name.
func (s *DownloadStep) Name() string {
	return "download"
}

// Do downloads report.WantedKeys and stores the batch result.
func (s *DownloadStep) Do(ctx context.Context, report *model.SyncReport) error {
	result, err := s.downloader.Download(ctx, report.WantedKeys)
	if result != nil {
		report.Download = result
	}
	return err
}

// ExtractStep unpacks every archive found in the download directory.
type ExtractStep struct {
	extractor Extractor
	fs        afero.Fs
	dir       string
	suffix    string
}

// NewExtractStep creates an extract step over the archives in dir that end
// with suffix.
func NewExtractStep(e Extractor, fsys afero.Fs, dir, suffix string) *ExtractStep {
	return &ExtractStep{
		extractor: e,
		fs:        fsys,
		dir:       dir,
		suffix:    suffix,
	}
}

// Name returns the step name.
func (s *ExtractStep) Name() string {
	return "extract"
}

// Do extracts the archives and stores the batch result.
func (s *ExtractStep) Do(ctx context.Context, report *model.SyncReport) error {
	archives, err := extract.FindArchives(s.fs, s.dir, s.suffix)
	if err != nil {
		return fmt.Errorf("find archives: %w", err)
	}
	result, err := s.extractor.Extract(ctx, archives)
	if result != nil {
		report.Extract = result
	}
	return err
}
