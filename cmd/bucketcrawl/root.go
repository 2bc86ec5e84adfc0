package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
)

// NewRootCmd creates the root command for bucketcrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bucketcrawl",
		Short: "Mirror and download a public S3 bucket tree",
		Long: `bucketcrawl mirrors the directory tree of a delimiter-listed, S3-compatible
public bucket (by default the Binance Vision market data bucket) to local
disk, one XML listing per prefix. The mirrored listings are then used to
download, verify and unpack the archives they reference.

The crawl is breadth-first: every prefix at one depth is fetched in parallel
before the next depth starts. Failed prefixes are recorded in errors.log and
in the run history, and can be retried with crawl --retry-failed.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringP("config", "c", "",
		"Configuration file path (default: .bucketcrawl in current or home directory)")
	cmd.PersistentFlags().Bool("json-log", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewKeysCmd())
	cmd.AddCommand(NewCountCmd())
	cmd.AddCommand(NewDownloadCmd())
	cmd.AddCommand(NewExtractCmd())
	cmd.AddCommand(NewSyncCmd())
	cmd.AddCommand(NewHistoryCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if config.IsUsageError(err) {
			fmt.Fprintln(os.Stderr, "Run 'bucketcrawl --help' for usage.")
		}
		os.Exit(1)
	}
}
