package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/crawler"
	"github.com/nao1215/bucketcrawl/internal/database"
	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/listing"
	bclog "github.com/nao1215/bucketcrawl/internal/log"
	"github.com/nao1215/bucketcrawl/internal/mirror"
	"github.com/nao1215/bucketcrawl/internal/model"
	"github.com/nao1215/bucketcrawl/internal/report"
	"github.com/nao1215/bucketcrawl/internal/transport"
)

// setupLogger creates the structured logger for a command and installs it
// as the default. Logs go to stderr so reports on stdout stay clean.
func setupLogger(cmd *cobra.Command, verbose bool) *slog.Logger {
	jsonLog := false
	if f := cmd.Root().PersistentFlags().Lookup("json-log"); f != nil {
		jsonLog = f.Value.String() == "true"
	}

	var logger *slog.Logger
	if jsonLog {
		logger = bclog.NewJSONLogger(cmd.ErrOrStderr(), verbose)
	} else {
		logger = bclog.NewLogger(cmd.ErrOrStderr(), verbose)
	}
	slog.SetDefault(logger)
	return logger
}

// signalContext returns a context for a long-running command.
// The first SIGINT or SIGTERM raises the stop flag so in-flight work can
// finish; the second one cancels the context.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, *atomic.Bool, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := &atomic.Bool{}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, finishing in-flight requests (press Ctrl+C again to abort)")
			stop.Store(true)
		case <-ctx.Done():
			return
		}
		select {
		case <-sigCh:
			logger.Warn("received second shutdown signal, cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, stop, cancel
}

// interruptContext returns a context that is cancelled by the first SIGINT
// or SIGTERM. Partial results are still reported.
func interruptContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			logger.Warn("received shutdown signal, cancelling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// newHTTPClient builds the HTTP client for listings or, with streaming set,
// for archive downloads.
func newHTTPClient(cfg *config.Config, streaming bool, workers int) (*http.Client, error) {
	client, err := transport.NewClient(transport.Options{
		Timeout:         cfg.Timeout,
		ProxyURL:        cfg.ProxyURL,
		Streaming:       streaming,
		MaxConnsPerHost: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return client, nil
}

func retryPolicy(cfg *config.Config) transport.Policy {
	return transport.Policy{Retries: cfg.Retries, Backoff: cfg.RetryBackoff}
}

// crawlEnv holds what every crawl of one command invocation shares.
// Each run gets its own ledger; all of them append to the same errors.log.
type crawlEnv struct {
	fs      afero.Fs
	fetcher *listing.Fetcher
	writer  *mirror.Writer
	errLog  *ledger.FileLog
	stop    *atomic.Bool
	logger  *slog.Logger

	mu      sync.Mutex
	ledgers []*ledger.Ledger
}

// newCrawlEnv opens the failure log and builds the fetcher and mirror writer.
func newCrawlEnv(cfg *config.Config, fsys afero.Fs, stop *atomic.Bool, logger *slog.Logger) (*crawlEnv, error) {
	client, err := newHTTPClient(cfg, false, cfg.Workers)
	if err != nil {
		return nil, err
	}

	errLog, err := ledger.OpenFileLog(fsys, cfg.ErrorLogPath())
	if err != nil {
		return nil, err
	}

	fetcher := listing.NewFetcher(client, cfg.ListingURL,
		listing.WithUserAgent(cfg.UserAgent),
		listing.WithRetryPolicy(retryPolicy(cfg)),
		listing.WithRateLimiter(transport.NewLimiter(cfg.RequestsPerSecond)),
		listing.WithMaxBodySize(cfg.MaxBodySize),
		listing.WithLogger(logger),
	)

	return &crawlEnv{
		fs:      fsys,
		fetcher: fetcher,
		writer:  mirror.NewWriter(fsys, cfg.SaveDir),
		errLog:  errLog,
		stop:    stop,
		logger:  logger,
	}, nil
}

// Close closes the failure log.
func (e *crawlEnv) Close() error {
	return e.errLog.Close()
}

// newLedger returns an empty ledger backed by the shared failure log.
func (e *crawlEnv) newLedger() *ledger.Ledger {
	l := ledger.New(e.errLog)
	e.mu.Lock()
	e.ledgers = append(e.ledgers, l)
	e.mu.Unlock()
	return l
}

// sinkErr returns the first failure log error seen by any ledger.
func (e *crawlEnv) sinkErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.ledgers {
		if err := l.SinkErr(); err != nil {
			return err
		}
	}
	return nil
}

// scheduler returns a scheduler for one crawl using the per-prefix
// overrides of cfg.
func (e *crawlEnv) scheduler(cfg *config.Config) *crawler.Scheduler {
	return crawler.NewScheduler(e.fetcher, e.writer,
		crawler.WithWorkers(cfg.Workers),
		crawler.WithMaxDepth(cfg.MaxDepth),
		crawler.WithPagination(cfg.FollowPagination),
		crawler.WithFatalIOThreshold(cfg.FatalIOThreshold),
		crawler.WithLedger(e.newLedger()),
		crawler.WithStopFlag(e.stop),
		crawler.WithLogger(e.logger),
	)
}

// newCrawler returns a crawler that stamps the failure log path on its results.
func (e *crawlEnv) newCrawler(cfg *config.Config) *loggedCrawler {
	return &loggedCrawler{sched: e.scheduler(cfg), path: e.errLog.Path()}
}

// loggedCrawler records where failures were appended.
type loggedCrawler struct {
	sched *crawler.Scheduler
	path  string
}

// Run crawls start and sets the result's error log path.
func (c *loggedCrawler) Run(ctx context.Context, start string) (*model.CrawlResult, error) {
	result, err := c.sched.Run(ctx, start)
	if result != nil {
		result.ErrorLog = c.path
	}
	return result, err
}

// openDB opens the run history database, or returns nil when saving is
// disabled.
func openDB(cfg *config.Config, logger *slog.Logger) (*database.RunDB, error) {
	if !cfg.SaveToDB {
		return nil, nil
	}
	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	logger.Debug("database opened", "path", db.Path())
	return db, nil
}

// reportOutput returns the report writer for cfg: the terminal, plus the
// report file when one is configured. The file is truncated once; every
// report written through the returned writer is appended after the previous
// one. The returned close function must be called once all reports are
// written.
func reportOutput(cmd *cobra.Command, cfg *config.Config) (report.Writer, func() error, error) {
	opts := report.Options{
		Version:     getVersion(),
		Verbose:     cfg.Verbose,
		IncludeKeys: includeKeys(cmd),
	}

	stdout, err := report.New(cfg.ReportFormat, cmd.OutOrStdout(), opts)
	if err != nil {
		return nil, nil, err
	}
	if cfg.ReportFile == "" {
		return stdout, func() error { return nil }, nil
	}

	dir := filepath.Dir(cfg.ReportFile)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Reports list local paths and proxy settings; keep them owner-only.
	f, err := os.OpenFile(cfg.ReportFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	file, err := report.New(cfg.ReportFormat, f, opts)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return report.NewMultiWriter(stdout, file), f.Close, nil
}

// writeReport renders one report with fn and closes the outputs.
func writeReport(cmd *cobra.Command, cfg *config.Config, fn func(report.Writer) (int, error)) error {
	w, closeFn, err := reportOutput(cmd, cfg)
	if err != nil {
		return err
	}
	_, werr := fn(w)
	cerr := closeFn()
	if werr != nil {
		return fmt.Errorf("failed to write report: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("failed to close report file: %w", cerr)
	}
	return nil
}

func includeKeys(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("include-keys")
	return err == nil && v
}

// confirm asks question on out and reads a yes/no answer from in.
// Anything other than y or yes, including EOF, is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
