package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/extract"
	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/report"
)

// newExtractor builds the archive extractor for cfg.
func newExtractor(cfg *config.Config, fsys afero.Fs, l *ledger.Ledger, logger *slog.Logger) *extract.Extractor {
	return extract.NewExtractor(fsys,
		extract.WithDestination(cfg.ExtractTo),
		extract.WithKeepArchives(cfg.KeepArchives),
		extract.WithWorkers(cfg.ExtractWorkers),
		extract.WithLedger(l),
		extract.WithLogger(logger),
	)
}

// NewExtractCmd creates the extract command.
func NewExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract [archive...]",
		Short: "Unpack downloaded archives",
		Long: `Extract unpacks archives next to themselves, or into --extract-to, and
deletes each archive once all of its members were written. Without
arguments every archive below the download directory is extracted.

Examples:
  bucketcrawl extract
  bucketcrawl extract --no-delete --extract-to ./csv`,
		Args: cobra.ArbitraryArgs,
		RunE: runExtractCmd,
	}

	cmd.Flags().StringP("download-dir", "D", config.DefaultDownloadDir,
		"Directory searched for archives")
	cmd.Flags().String("archive-suffix", config.DefaultArchiveSuffix,
		"Suffix of archive files")
	addMirrorFlags(cmd)
	addExtractFlags(cmd)
	addReportFlags(cmd)

	return cmd
}

func runExtractCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg.Verbose)

	ctx, cancel := interruptContext(cmd.Context(), logger)
	defer cancel()

	fsys := afero.NewOsFs()
	archives := args
	if len(archives) == 0 {
		archives, err = extract.FindArchives(fsys, cfg.DownloadDir, cfg.ArchiveSuffix)
		if err != nil {
			return err
		}
	}
	if len(archives) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No archives found in %s.\n", cfg.DownloadDir)
		return nil
	}

	errLog, err := ledger.OpenFileLog(fsys, cfg.ErrorLogPath())
	if err != nil {
		return err
	}
	defer errLog.Close()

	result, exErr := newExtractor(cfg, fsys, ledger.New(errLog), logger).Extract(ctx, archives)
	if result != nil {
		if err := writeReport(cmd, cfg, func(w report.Writer) (int, error) {
			return w.WriteExtract(result)
		}); err != nil {
			return err
		}
	}
	return exErr
}
