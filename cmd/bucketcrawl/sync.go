package main

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/keyfilter"
	"github.com/nao1215/bucketcrawl/internal/model"
	"github.com/nao1215/bucketcrawl/internal/pipeline"
)

// NewSyncCmd creates the sync command.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [prefix...]",
		Short: "Crawl, download and extract in one run",
		Long: `Sync runs the whole workflow for each start prefix: crawl the listing tree,
collect the wanted archive keys, download them and unpack them.

Prefixes are processed one at a time unless --batch is raised; each crawl
already fetches a whole tree level in parallel. The first Ctrl+C lets
in-flight requests finish and reports partial results, the second aborts.

Examples:
  # Mirror and download everything of March 2024 under spot monthly klines
  bucketcrawl sync --year 2024 --month 3 -y data/spot/monthly/klines/

  # Crawl and download without unpacking
  bucketcrawl sync --no-extract -y`,
		Args: cobra.ArbitraryArgs,
		RunE: runSyncCmd,
	}

	addCrawlFlags(cmd)
	addFilterFlags(cmd)
	addDownloadFlags(cmd)
	addExtractFlags(cmd)
	addYesFlag(cmd)
	addReportFlags(cmd)
	cmd.Flags().IntP("batch", "b", 1, "Number of start prefixes processed concurrently")
	cmd.Flags().Bool("from-mirror", false,
		"Collect keys from the whole local mirror, including earlier runs")
	cmd.Flags().Bool("no-download", false, "Stop after collecting keys")
	cmd.Flags().Bool("no-extract", false, "Do not unpack downloaded archives")

	return cmd
}

// syncOptions are the sync-only switches.
type syncOptions struct {
	batch      int
	fromMirror bool
	download   bool
	extract    bool
}

func readSyncOptions(cmd *cobra.Command) (syncOptions, error) {
	var o syncOptions
	var err error
	if o.batch, err = cmd.Flags().GetInt("batch"); err != nil {
		return o, err
	}
	if o.fromMirror, err = cmd.Flags().GetBool("from-mirror"); err != nil {
		return o, err
	}
	noDownload, err := cmd.Flags().GetBool("no-download")
	if err != nil {
		return o, err
	}
	noExtract, err := cmd.Flags().GetBool("no-extract")
	if err != nil {
		return o, err
	}
	o.download = !noDownload
	o.extract = o.download && !noExtract
	return o, nil
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := readSyncOptions(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg.Verbose)

	prefixes := args
	if len(prefixes) == 0 {
		prefixes = []string{cfg.StartPrefix}
	}

	if opts.download && !cfg.AssumeYes {
		q := fmt.Sprintf("Crawl %d prefix(es) and download the matching archives to %s?", len(prefixes), cfg.DownloadDir)
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), q) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
			return nil
		}
	}

	ctx, stop, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	fsys := afero.NewOsFs()
	env, err := newCrawlEnv(cfg, fsys, stop, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	filter, err := keyfilter.FromConfig(cfg)
	if err != nil {
		return err
	}
	collectOpts := []pipeline.CollectStepOption{pipeline.WithCollectLogger(logger)}
	if opts.fromMirror {
		scanner, err := newScanner(cfg, fsys, logger)
		if err != nil {
			return err
		}
		collectOpts = append(collectOpts, pipeline.WithMirrorScan(scanner, cfg.SaveDir))
	}

	var tail []pipeline.Step
	if opts.download {
		d, err := newDownloader(cfg, fsys, env.newLedger(), logger)
		if err != nil {
			return err
		}
		tail = append(tail, pipeline.NewDownloadStep(d))
	}
	if opts.extract {
		e := newExtractor(cfg, fsys, env.newLedger(), logger)
		tail = append(tail, pipeline.NewExtractStep(e, fsys, cfg.DownloadDir, cfg.ArchiveSuffix))
	}

	crawlOpts := []pipeline.CrawlStepOption{pipeline.WithCrawlLogger(logger)}
	if db != nil {
		crawlOpts = append(crawlOpts, pipeline.WithRunStore(db))
	}

	rw, closeReport, err := reportOutput(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeReport() }()

	// Reports are written as prefixes finish; callbacks are serialized.
	var reportErr error
	bp := pipeline.NewBatchProcessor(
		func(prefix string) *pipeline.Pipeline {
			p := pipeline.New(pipeline.WithLogger(logger))
			p.AddStep(pipeline.NewCrawlStep(env.newCrawler(cfg.ForPrefix(prefix)), crawlOpts...))
			p.AddStep(pipeline.NewCollectStep(filter, collectOpts...))
			p.AddSteps(tail...)
			return p
		},
		pipeline.WithConcurrency(opts.batch),
		pipeline.WithBatchLogger(logger),
		pipeline.WithReportCallback(func(_ int, r *model.SyncReport) {
			if _, err := rw.WriteSync(r); err != nil && reportErr == nil {
				reportErr = fmt.Errorf("failed to write report: %w", err)
			}
		}),
	)

	reports, batchErr := bp.ProcessBatch(ctx, prefixes)
	if reportErr != nil {
		return reportErr
	}
	if batchErr != nil {
		logger.Warn("sync interrupted, reports are partial", "error", batchErr)
	}
	if err := env.sinkErr(); err != nil {
		logger.Error("failed to append to error log", "path", cfg.ErrorLogPath(), "error", err)
	}
	if err := closeReport(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	return syncError(reports)
}

// syncError summarizes the pipelines that ended with an error.
// Stopped pipelines are not errors; their partial results were reported.
func syncError(reports []*model.SyncReport) error {
	failed := 0
	var first error
	for _, r := range reports {
		if r.Stopped || r.Error == nil {
			continue
		}
		failed++
		if first == nil {
			first = r.Error
		}
	}
	if failed == 0 {
		return nil
	}
	if failed == 1 {
		return first
	}
	return fmt.Errorf("%d of %d prefixes failed, first error: %w", failed, len(reports), first)
}
