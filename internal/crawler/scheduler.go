package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/listing"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// Fetcher retrieves one page of a prefix listing.
// *listing.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, prefix string, cur listing.Cursor) (*model.ListingDocument, error)
}

// MirrorWriter persists a listing document and returns the path written.
// *mirror.Writer implements it.
type MirrorWriter interface {
	Write(prefix string, doc *model.ListingDocument) (string, error)
}

// Scheduler runs a level-synchronized breadth-first crawl.
type Scheduler struct {
	fetcher Fetcher
	writer  MirrorWriter

	workers          int
	maxDepth         int
	paginate         bool
	maxPages         int
	fatalIOThreshold int
	runID            string

	logger   *slog.Logger
	ledger   *ledger.Ledger
	stop     *atomic.Bool
	recorder func(level int, frontier []string)
	observer func(stats model.LevelStats)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the per-level pool size. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithMaxDepth sets the depth boundary. Prefixes at depth >= n are never
// fetched; the start prefix is depth 0.
func WithMaxDepth(n int) Option {
	return func(s *Scheduler) {
		s.maxDepth = n
	}
}

// WithPagination enables fetching continuation pages of truncated listings.
func WithPagination(enabled bool) Option {
	return func(s *Scheduler) {
		s.paginate = enabled
	}
}

// WithMaxPages caps the pages fetched for one prefix when pagination is on.
func WithMaxPages(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// WithFatalIOThreshold sets the number of mirror write failures after which
// the crawl stops before the next level. Zero disables the check.
func WithFatalIOThreshold(n int) Option {
	return func(s *Scheduler) {
		s.fatalIOThreshold = n
	}
}

// WithRunID sets the run identifier. By default a random UUID is used.
func WithRunID(id string) Option {
	return func(s *Scheduler) {
		s.runID = id
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLedger sets the failure ledger every node failure is recorded in.
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithStopFlag sets a flag that, once true, stops the crawl before the
// next level is dispatched.
func WithStopFlag(flag *atomic.Bool) Option {
	return func(s *Scheduler) {
		s.stop = flag
	}
}

// WithFrontierRecorder registers fn to receive every frontier right before
// it is dispatched, and the final frontier that was left unvisited.
func WithFrontierRecorder(fn func(level int, frontier []string)) Option {
	return func(s *Scheduler) {
		s.recorder = fn
	}
}

// WithLevelObserver registers fn to receive the statistics of each
// completed level.
func WithLevelObserver(fn func(stats model.LevelStats)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// NewScheduler creates a Scheduler that fetches with fetcher and mirrors
// with writer.
func NewScheduler(fetcher Fetcher, writer MirrorWriter, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:          fetcher,
		writer:           writer,
		workers:          64,
		maxDepth:         10,
		maxPages:         1000,
		fatalIOThreshold: 10,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.ledger == nil {
		s.ledger = ledger.New(nil)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}

	return s
}

// Ledger returns the failure ledger of the scheduler.
func (s *Scheduler) Ledger() *ledger.Ledger {
	return s.ledger
}

// Run crawls the tree rooted at start and returns the aggregate result.
//
// Run only returns an error for run-fatal conditions; per-node failures are
// in the result and the ledger. The result is returned even with an error.
func (s *Scheduler) Run(ctx context.Context, start string) (*model.CrawlResult, error) {
	result := model.NewCrawlResult(s.runID, start, s.maxDepth, s.workers)
	result.State = model.CrawlRunning

	var runErr error
	frontier := []string{start}
	visited := make(map[string]struct{})
	keys := make(map[string]model.KeyRecord)
	ioFailures := 0
	mark := s.ledger.Len()

	s.logger.Info("crawl started",
		"run_id", s.runID,
		"start", start,
		"max_depth", s.maxDepth,
		"workers", s.workers)

	for depth := 0; ; depth++ {
		if s.stopped(ctx) {
			result.State = model.CrawlStopped
			break
		}
		if s.fatalIOThreshold > 0 && ioFailures >= s.fatalIOThreshold {
			result.State = model.CrawlFatal
			runErr = ErrFatalIO
			break
		}
		if len(frontier) == 0 {
			result.State = model.CrawlDrained
			break
		}
		if depth >= s.maxDepth {
			result.State = model.CrawlDepthExceeded
			s.logger.Info("depth limit reached", "depth", depth, "unvisited", len(frontier))
			break
		}

		if s.recorder != nil {
			s.recorder(depth, append([]string(nil), frontier...))
		}

		levelStart := time.Now()
		outcomes := s.runLevel(ctx, depth, frontier)

		for _, p := range frontier {
			visited[p] = struct{}{}
		}

		stats := model.LevelStats{Level: depth, Size: len(frontier)}
		children := make(map[string]struct{})
		interrupted := make([]string, 0)

		for _, o := range outcomes {
			if len(o.MirrorPaths) > 0 {
				result.MirrorPaths[o.Prefix] = o.MirrorPaths
			}

			if !o.OK() {
				if ctx.Err() != nil && isContextErr(o.Err) {
					interrupted = append(interrupted, o.Prefix)
					continue
				}
				stats.Failed++
				if o.Kind == model.FailureIO {
					ioFailures++
				}
				s.ledger.Record(o.Failure())
				s.logger.Warn("prefix failed",
					"prefix", o.Prefix,
					"depth", depth,
					"kind", o.Kind.String(),
					"error", o.Err)
				continue
			}

			stats.Succeeded++
			stats.Keys += len(o.Keys)
			for _, k := range o.Keys {
				if _, ok := keys[k.Key]; !ok {
					keys[k.Key] = k
				}
			}
			for _, c := range o.Children {
				if _, seen := visited[c]; seen {
					s.logger.Debug("skipping already visited prefix", "prefix", c, "parent", o.Prefix)
					continue
				}
				children[c] = struct{}{}
			}
		}

		frontier = sortedSet(children)
		stats.Discovered = len(frontier)
		stats.Elapsed = time.Since(levelStart)

		result.Levels = append(result.Levels, stats)
		result.Visited += stats.Size - len(interrupted)
		result.Succeeded += stats.Succeeded
		result.Failed += stats.Failed

		s.logger.Info("level complete",
			"level", depth,
			"size", stats.Size,
			"succeeded", stats.Succeeded,
			"failed", stats.Failed,
			"next", stats.Discovered,
			"elapsed", stats.Elapsed.Round(time.Millisecond))

		if s.observer != nil {
			s.observer(stats)
		}

		if len(interrupted) > 0 {
			sort.Strings(interrupted)
			frontier = append(interrupted, frontier...)
		}
	}

	if result.State != model.CrawlDrained {
		result.Unvisited = frontier
		if s.recorder != nil && len(frontier) > 0 {
			s.recorder(len(result.Levels), append([]string(nil), frontier...))
		}
	}

	result.Keys = sortedKeys(keys)
	result.Failures = s.ledger.Since(mark)
	result.FinishedAt = time.Now()

	s.logger.Info("crawl finished",
		"run_id", s.runID,
		"state", result.State.String(),
		"visited", result.Visited,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"keys", len(result.Keys),
		"duration", result.Duration().Round(time.Millisecond))

	return result, runErr
}

// runLevel dispatches every prefix of frontier and waits for all of them.
// Each worker owns exactly one slot of the returned slice.
func (s *Scheduler) runLevel(ctx context.Context, depth int, frontier []string) []model.NodeOutcome {
	outcomes := make([]model.NodeOutcome, len(frontier))

	var g errgroup.Group
	g.SetLimit(s.workers)

	for i, prefix := range frontier {
		g.Go(func() error {
			outcomes[i] = s.visit(ctx, depth, prefix)
			return nil
		})
	}

	_ = g.Wait()
	return outcomes
}

// visit fetches, mirrors and parses every page of one prefix.
func (s *Scheduler) visit(ctx context.Context, depth int, prefix string) model.NodeOutcome {
	out := model.NodeOutcome{Prefix: prefix, Depth: depth}
	cur := listing.Cursor{Page: 1}

	var (
		children []string
		keys     []model.KeyRecord
	)

	for {
		doc, err := s.fetcher.Fetch(ctx, prefix, cur)
		if err != nil {
			out.Kind = model.FailureFetch
			out.Err = err
			return out
		}
		out.Pages++

		path, err := s.writer.Write(prefix, doc)
		if err != nil {
			out.Kind = model.FailureIO
			out.Err = err
			return out
		}
		out.MirrorPaths = append(out.MirrorPaths, path)

		l, err := listing.Parse(doc.Body)
		if err != nil {
			out.Kind = model.FailureParse
			out.Err = err
			return out
		}
		children = append(children, l.CommonPrefixes...)
		keys = append(keys, l.Contents...)

		if !s.paginate || out.Pages >= s.maxPages {
			break
		}
		next, ok := listing.NextCursor(l, cur)
		if !ok {
			break
		}
		s.logger.Debug("following continuation page", "prefix", prefix, "page", next.Page, "marker", next.Marker)
		cur = next
	}

	out.Children = children
	out.Keys = keys
	return out
}

// stopped reports whether the stop flag is set or ctx is done.
func (s *Scheduler) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.stop != nil && s.stop.Load()
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedKeys(set map[string]model.KeyRecord) []model.KeyRecord {
	out := make([]model.KeyRecord, 0, len(set))
	for _, k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
