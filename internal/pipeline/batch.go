package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bucketcrawl/internal/model"
)

// BatchProcessor syncs several start prefixes, each with its own pipeline.
type BatchProcessor struct {
	factory     func(prefix string) *Pipeline
	concurrency int
	onDone      func(index int, report *model.SyncReport)
	logger      *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithBatchLogger sets the logger.
func WithBatchLogger(logger *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		b.logger = logger
	}
}

// WithConcurrency sets how many prefixes are synced at once. The default
// is 1, since every crawl already fetches a whole level in parallel.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchProcessor) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithReportCallback calls fn with each finished report and its input
// index. Calls are serialized.
func WithReportCallback(fn func(index int, report *model.SyncReport)) BatchOption {
	return func(b *BatchProcessor) {
		b.onDone = fn
	}
}

// NewBatchProcessor creates a BatchProcessor. factory builds a fresh
// pipeline for a prefix, so per-prefix settings can be applied there.
func NewBatchProcessor(factory func(prefix string) *Pipeline, opts ...BatchOption) *BatchProcessor {
	bp := &BatchProcessor{
		factory:     factory,
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(bp)
	}
	if bp.logger == nil {
		bp.logger = slog.Default()
	}
	return bp
}

// ProcessBatch syncs every prefix and returns the reports in input order.
//
// A failed pipeline does not affect the others; its error is in its report.
// Prefixes that never started because ctx ended get a stopped report and
// are not passed to the callback. The returned error is ctx.Err().
func (bp *BatchProcessor) ProcessBatch(ctx context.Context, prefixes []string) ([]*model.SyncReport, error) {
	started := time.Now()
	bp.logger.Info("batch started", "prefixes", len(prefixes), "concurrency", bp.concurrency)

	reports := make([]*model.SyncReport, len(prefixes))
	for i, prefix := range prefixes {
		reports[i] = model.NewSyncReport(prefix)
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(bp.concurrency)

	for i, prefix := range prefixes {
		if ctx.Err() != nil {
			reports[i].Stopped = true
			continue
		}
		g.Go(func() error {
			r := reports[i]
			if ctx.Err() != nil {
				r.Stopped = true
				return nil
			}

			bp.logger.Info("syncing prefix", "prefix", prefix, "index", i+1, "total", len(prefixes))
			if err := bp.factory(prefix).Execute(ctx, r); err != nil {
				bp.logger.Warn("sync of prefix ended with an error", "prefix", prefix, "error", err)
			} else {
				bp.logger.Info("prefix synced", "prefix", prefix)
			}

			if bp.onDone != nil {
				mu.Lock()
				bp.onDone(i, r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	bp.logger.Info("batch finished",
		"prefixes", len(prefixes),
		"elapsed", time.Since(started).Round(time.Millisecond))

	return reports, ctx.Err()
}
