package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/database"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [prefix...]",
		Short: "Mirror the listing tree under one or more prefixes",
		Long: `Crawl walks the bucket breadth-first from each start prefix and writes one
XML listing document per prefix below the save directory, mirroring the
bucket's directory structure.

Every prefix of one depth is fetched in parallel before the next depth
starts. Prefixes that fail after all retries are appended to errors.log in
the save directory and recorded in the run history.

Examples:
  # Mirror the whole bucket (default start prefix data/)
  bucketcrawl crawl

  # Mirror only spot daily klines, four levels deep
  bucketcrawl crawl -d 4 data/spot/daily/klines/

  # Retry the prefixes that failed in the latest run
  bucketcrawl crawl --retry-failed

  # Write a Markdown summary for a CI job
  bucketcrawl crawl -f markdown -o crawl.md`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	addCrawlFlags(cmd)
	addReportFlags(cmd)
	cmd.Flags().Bool("retry-failed", false,
		"Re-crawl the prefixes that failed in the latest recorded run")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	retry, err := cmd.Flags().GetBool("retry-failed")
	if err != nil {
		return err
	}

	logger := setupLogger(cmd, cfg.Verbose)

	ctx, stop, cancel := signalContext(cmd.Context(), logger)
	defer cancel()

	db, err := openDB(cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	targets, err := crawlTargets(ctx, cfg, db, args, retry)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to retry: the latest run has no failed prefixes.")
		return nil
	}

	env, err := newCrawlEnv(cfg, afero.NewOsFs(), stop, logger)
	if err != nil {
		return err
	}
	defer env.Close()

	// One report per target, appended to the same outputs.
	rw, closeReport, err := reportOutput(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeReport() }()

	for _, t := range targets {
		if stop.Load() || ctx.Err() != nil {
			logger.Warn("skipping remaining prefixes after shutdown signal", "prefix", t.prefix)
			break
		}

		result, runErr := env.newCrawler(t.cfg).Run(ctx, t.prefix)
		if result != nil {
			saveRun(ctx, db, result, logger)
			if _, err := rw.WriteCrawl(result); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("crawl %s: %w", t.prefix, runErr)
		}
	}

	if err := env.sinkErr(); err != nil {
		logger.Error("failed to append to error log", "path", cfg.ErrorLogPath(), "error", err)
	}
	if err := closeReport(); err != nil {
		return fmt.Errorf("failed to close report file: %w", err)
	}
	return nil
}

// crawlTarget is one crawl to run with its effective configuration.
type crawlTarget struct {
	prefix string
	cfg    *config.Config
}

// crawlTargets resolves the start prefixes of a crawl invocation.
// Without --retry-failed they are args or the configured start prefix.
// With it, they are the failed prefixes of the latest run, each crawled
// with the depth that was left below it.
func crawlTargets(ctx context.Context, cfg *config.Config, db *database.RunDB, args []string, retry bool) ([]crawlTarget, error) {
	if !retry {
		prefixes := args
		if len(prefixes) == 0 {
			prefixes = []string{cfg.StartPrefix}
		}
		targets := make([]crawlTarget, 0, len(prefixes))
		for _, p := range prefixes {
			targets = append(targets, crawlTarget{prefix: p, cfg: cfg.ForPrefix(p)})
		}
		return targets, nil
	}

	if db == nil {
		return nil, errors.New("--retry-failed needs the run history (remove --no-db)")
	}

	start := ""
	if len(args) > 0 {
		start = args[0]
	}
	latest, err := db.LatestRun(ctx, start)
	if err != nil {
		if errors.Is(err, database.ErrRunNotFound) {
			return nil, fmt.Errorf("no recorded run to retry: %w", err)
		}
		return nil, err
	}

	failures, err := db.FailuresForRun(ctx, latest.RunID)
	if err != nil {
		return nil, err
	}
	return retryTargets(cfg.ForPrefix(latest.StartPrefix), latest.MaxDepth, failures), nil
}

// retryTargets turns the crawl failures of a run into retry crawls.
// A prefix that failed at depth d had maxDepth-d levels left below it.
func retryTargets(cfg *config.Config, maxDepth int, failures []model.Failure) []crawlTarget {
	depths := make(map[string]int)
	for _, f := range failures {
		switch f.Kind {
		case model.FailureFetch, model.FailureParse, model.FailureIO:
		default:
			continue
		}
		if d, ok := depths[f.Subject]; !ok || f.Depth < d {
			depths[f.Subject] = f.Depth
		}
	}

	prefixes := make([]string, 0, len(depths))
	for p := range depths {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	targets := make([]crawlTarget, 0, len(prefixes))
	for _, p := range prefixes {
		c := *cfg
		c.MaxDepth = max(maxDepth-max(depths[p], 0), 1)
		targets = append(targets, crawlTarget{prefix: p, cfg: &c})
	}
	return targets
}

// saveRun records result in the history database when one is open.
// It runs detached from ctx so a stopped crawl is still recorded.
func saveRun(ctx context.Context, db *database.RunDB, result *model.CrawlResult, logger *slog.Logger) {
	if db == nil {
		return
	}
	if err := db.SaveCrawlResult(context.WithoutCancel(ctx), result); err != nil {
		logger.Error("failed to save crawl result", "run_id", result.RunID, "error", err)
		return
	}
	logger.Info("crawl result saved to database", "run_id", result.RunID)
}
