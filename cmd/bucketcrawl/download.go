package main

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/download"
	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/report"
	"github.com/nao1215/bucketcrawl/internal/transport"
)

// newDownloader builds the archive downloader for cfg.
func newDownloader(cfg *config.Config, fsys afero.Fs, l *ledger.Ledger, logger *slog.Logger) (*download.Downloader, error) {
	client, err := newHTTPClient(cfg, true, cfg.DownloadWorkers)
	if err != nil {
		return nil, err
	}

	opts := []download.Option{
		download.WithWorkers(cfg.DownloadWorkers),
		download.WithUserAgent(cfg.UserAgent),
		download.WithRetryPolicy(retryPolicy(cfg)),
		download.WithRateLimiter(transport.NewLimiter(cfg.RequestsPerSecond)),
		download.WithLedger(l),
		download.WithLogger(logger),
	}
	if cfg.VerifyChecksums {
		opts = append(opts, download.WithChecksumVerification(cfg.ChecksumSuffix))
	}
	if cfg.Verbose {
		var done atomic.Int64
		opts = append(opts, download.WithProgress(func(key string, status download.Status) {
			logger.Debug("archive processed", "key", key, "status", status.String(), "done", done.Add(1))
		}))
	}

	return download.NewDownloader(client, fsys, cfg.ArchiveURL, cfg.DownloadDir, opts...), nil
}

// NewDownloadCmd creates the download command.
func NewDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the archives listed by the local mirror",
		Long: `Download collects the wanted archive keys from the local mirror, honoring
--year and --month, and downloads them below the download directory.
Archives that already exist locally are skipped, so an interrupted download
can simply be restarted.

Examples:
  # Download every January 2024 archive, verifying checksums
  bucketcrawl download --year 2024 --month 1 --verify-checksums

  # Non-interactive use
  bucketcrawl download -y --download-workers 16`,
		Args: cobra.NoArgs,
		RunE: runDownloadCmd,
	}

	addMirrorFlags(cmd)
	addFilterFlags(cmd)
	addDownloadFlags(cmd)
	addYesFlag(cmd)
	addReportFlags(cmd)

	return cmd
}

func runDownloadCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg.Verbose)

	ctx, cancel := interruptContext(cmd.Context(), logger)
	defer cancel()

	fsys := afero.NewOsFs()
	inv, err := scanMirror(ctx, cfg, fsys, logger)
	if err != nil {
		return err
	}
	keys := inv.WantedKeys()
	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No archives to download: the mirror lists no matching keys.")
		return nil
	}

	if !cfg.AssumeYes {
		q := fmt.Sprintf("Download %s archives to %s?", humanize.Comma(int64(len(keys))), cfg.DownloadDir)
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), q) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
			return nil
		}
	}

	errLog, err := ledger.OpenFileLog(fsys, cfg.ErrorLogPath())
	if err != nil {
		return err
	}
	defer errLog.Close()

	d, err := newDownloader(cfg, fsys, ledger.New(errLog), logger)
	if err != nil {
		return err
	}

	result, dlErr := d.Download(ctx, keys)
	if result != nil {
		if err := writeReport(cmd, cfg, func(w report.Writer) (int, error) {
			return w.WriteDownload(result)
		}); err != nil {
			return err
		}
	}
	return dlErr
}
