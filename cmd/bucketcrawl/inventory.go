package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
	"github.com/nao1215/bucketcrawl/internal/inventory"
	"github.com/nao1215/bucketcrawl/internal/keyfilter"
	"github.com/nao1215/bucketcrawl/internal/report"
)

// newScanner builds the mirror scanner for cfg.
func newScanner(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*inventory.Scanner, error) {
	filter, err := keyfilter.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return inventory.NewScanner(fsys, filter,
		inventory.WithWorkers(runtime.NumCPU()),
		inventory.WithLogger(logger),
	), nil
}

// scanMirror parses every document of the mirror under cfg.SaveDir.
func scanMirror(ctx context.Context, cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*inventory.Inventory, error) {
	scanner, err := newScanner(cfg, fsys, logger)
	if err != nil {
		return nil, err
	}
	inv, err := scanner.Scan(ctx, cfg.SaveDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan mirror %s: %w", cfg.SaveDir, err)
	}
	return inv, nil
}

// NewKeysCmd creates the keys command.
func NewKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the wanted archive keys of the local mirror",
		Long: `Keys parses every listing document in the save directory and prints the
deduplicated archive keys, one per line, honoring --year and --month.

Examples:
  # Every archive key of the mirror
  bucketcrawl keys

  # Only keys of March 2024, counted
  bucketcrawl keys --year 2024 --month 3 | wc -l`,
		Args: cobra.NoArgs,
		RunE: runKeysCmd,
	}

	addMirrorFlags(cmd)
	addFilterFlags(cmd)

	return cmd
}

func runKeysCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg.Verbose)

	inv, err := scanMirror(cmd.Context(), cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, k := range inv.WantedKeys() {
		if _, err := fmt.Fprintln(out, k); err != nil {
			return err
		}
	}
	if len(inv.Errors) > 0 {
		logger.Warn("some documents could not be parsed", "count", len(inv.Errors))
	}
	return nil
}

// NewCountCmd creates the count command.
func NewCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Summarize the archives listed by the local mirror",
		Long: `Count parses every listing document in the save directory and reports how
many wanted archives the mirror lists, how they are distributed over the
documents and dataset types, and which documents could not be parsed.

Examples:
  bucketcrawl count
  bucketcrawl count --year 2024 --month 01 -f markdown -o inventory.md`,
		Args: cobra.NoArgs,
		RunE: runCountCmd,
	}

	addMirrorFlags(cmd)
	addFilterFlags(cmd)
	addReportFlags(cmd)

	return cmd
}

func runCountCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg.Verbose)

	inv, err := scanMirror(cmd.Context(), cfg, afero.NewOsFs(), logger)
	if err != nil {
		return err
	}

	return writeReport(cmd, cfg, func(w report.Writer) (int, error) {
		return w.WriteInventory(inv)
	})
}
