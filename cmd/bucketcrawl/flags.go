package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/bucketcrawl/internal/config"
)

// addCrawlFlags registers the listing and crawl flags.
func addCrawlFlags(cmd *cobra.Command) {
	cmd.Flags().String("listing-url", config.DefaultListingURL,
		"Listing endpoint; the prefix is appended verbatim")
	cmd.Flags().IntP("workers", "w", config.DefaultWorkers,
		"Number of prefixes fetched in parallel per level")
	cmd.Flags().IntP("max-depth", "d", config.DefaultMaxDepth,
		"Depth boundary; the start prefix is depth 0")
	cmd.Flags().Bool("follow-pagination", false,
		"Fetch continuation pages of truncated listings")
	cmd.Flags().Int("fatal-io-threshold", config.DefaultFatalIOThreshold,
		"Stop after this many mirror write failures (0 disables)")
	cmd.Flags().Int64("max-body-size", config.DefaultMaxBodySize,
		"Maximum size of one listing response in bytes")
	cmd.Flags().Bool("no-db", false,
		"Do not record the run in the history database")
	addDBFlags(cmd)
	addNetworkFlags(cmd)
	addMirrorFlags(cmd)
}

// addNetworkFlags registers the HTTP client flags shared by crawl and download.
func addNetworkFlags(cmd *cobra.Command) {
	if cmd.Flags().Lookup("retries") != nil {
		return
	}
	cmd.Flags().Int("retries", config.DefaultRetries,
		"Retries after the first attempt of each request")
	cmd.Flags().Duration("backoff", config.DefaultRetryBackoff,
		"First retry backoff; doubles on each retry")
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Per-attempt request timeout")
	cmd.Flags().Float64("rps", 0,
		"Maximum requests per second (0 disables limiting)")
	cmd.Flags().String("user-agent", config.DefaultUserAgent,
		"User-Agent header sent with every request")
	cmd.Flags().String("proxy", "",
		"Proxy URL (socks5://, socks5h://, http:// or https://)")
}

// addDBFlags registers the run history location flag.
func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().String("db-dir", "",
		"Directory of the run history database (default: XDG data directory)")
}

// addMirrorFlags registers the local mirror location flag.
func addMirrorFlags(cmd *cobra.Command) {
	if cmd.Flags().Lookup("save-dir") != nil {
		return
	}
	cmd.Flags().StringP("save-dir", "s", config.DefaultSaveDir,
		"Root directory of the local listing mirror")
}

// addFilterFlags registers the key filter flags.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("year", "", "Only keep keys from this year (requires --month)")
	cmd.Flags().String("month", "", "Only keep keys from this month (requires --year)")
	cmd.Flags().String("archive-suffix", config.DefaultArchiveSuffix,
		"Suffix of wanted archive keys")
	cmd.Flags().String("checksum-suffix", config.DefaultChecksumSuffix,
		"Suffix of checksum sidecar keys")
}

// addDownloadFlags registers the archive download flags.
func addDownloadFlags(cmd *cobra.Command) {
	cmd.Flags().String("archive-url", config.DefaultArchiveURL,
		"Base URL archive keys are appended to")
	cmd.Flags().StringP("download-dir", "D", config.DefaultDownloadDir,
		"Directory archives are downloaded to")
	cmd.Flags().Int("download-workers", config.DefaultDownloadWorkers,
		"Number of parallel downloads")
	cmd.Flags().Bool("verify-checksums", false,
		"Verify each archive against its checksum sidecar")
	addNetworkFlags(cmd)
}

// addExtractFlags registers the extraction flags.
func addExtractFlags(cmd *cobra.Command) {
	cmd.Flags().String("extract-to", "",
		"Extract into this directory instead of next to each archive")
	cmd.Flags().Bool("no-delete", false,
		"Keep archives after successful extraction")
	cmd.Flags().Int("extract-workers", config.DefaultExtractWorkers,
		"Number of archives extracted in parallel")
}

// addReportFlags registers the report output flags.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", config.DefaultReportFormat,
		"Report format: text, json or markdown")
	cmd.Flags().StringP("output", "o", "",
		"Also write the report to this file (creates directories if needed)")
	cmd.Flags().Bool("include-keys", false,
		"Include full key lists in JSON reports")
}

// addYesFlag registers the confirmation bypass flag.
func addYesFlag(cmd *cobra.Command) {
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}

// flagReader copies flags the user actually set into a Config.
// Unset flags leave the config file and default values in place.
// The first error stops further reads.
type flagReader struct {
	cmd *cobra.Command
	err error
}

func (r *flagReader) changed(name string) bool {
	if r.err != nil {
		return false
	}
	f := r.cmd.Flags().Lookup(name)
	return f != nil && f.Changed
}

func (r *flagReader) str(name string, dst *string) {
	if !r.changed(name) {
		return
	}
	v, err := r.cmd.Flags().GetString(name)
	r.set(err, func() { *dst = v })
}

func (r *flagReader) integer(name string, dst *int) {
	if !r.changed(name) {
		return
	}
	v, err := r.cmd.Flags().GetInt(name)
	r.set(err, func() { *dst = v })
}

func (r *flagReader) int64(name string, dst *int64) {
	if !r.changed(name) {
		return
	}
	v, err := r.cmd.Flags().GetInt64(name)
	r.set(err, func() { *dst = v })
}

func (r *flagReader) float(name string, dst *float64) {
	if !r.changed(name) {
		return
	}
	v, err := r.cmd.Flags().GetFloat64(name)
	r.set(err, func() { *dst = v })
}

func (r *flagReader) boolean(name string, dst *bool) {
	if !r.changed(name) {
		return
	}
	v, err := r.cmd.Flags().GetBool(name)
	r.set(err, func() { *dst = v })
}

func (r *flagReader) duration(name string, dst *time.Duration) {
	if !r.changed(name) {
		return
	}
	v, err := r.cmd.Flags().GetDuration(name)
	r.set(err, func() { *dst = v })
}

func (r *flagReader) set(err error, apply func()) {
	if err != nil {
		r.err = err
		return
	}
	apply()
}

// buildConfig creates a validated Config from defaults, the configuration
// file and the command's flags, in that order of precedence.
// Usage errors are returned before anything touches the network.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()

	configPath, err := persistentString(cmd, "config")
	if err != nil {
		return nil, err
	}

	// An explicit path must exist; the default search may find nothing.
	found := config.FindConfigFile(configPath)
	switch {
	case found != "":
		cf, err := config.LoadConfigFile(found)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", found, err)
		}
		cf.Apply(cfg)
		cfg.ConfigFilePath = found
	case configPath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, configPath)
	}

	r := &flagReader{cmd: cmd}
	r.str("listing-url", &cfg.ListingURL)
	r.str("archive-url", &cfg.ArchiveURL)
	r.integer("workers", &cfg.Workers)
	r.integer("download-workers", &cfg.DownloadWorkers)
	r.integer("extract-workers", &cfg.ExtractWorkers)
	r.integer("max-depth", &cfg.MaxDepth)
	r.integer("retries", &cfg.Retries)
	r.duration("backoff", &cfg.RetryBackoff)
	r.duration("timeout", &cfg.Timeout)
	r.float("rps", &cfg.RequestsPerSecond)
	r.str("user-agent", &cfg.UserAgent)
	r.str("proxy", &cfg.ProxyURL)
	r.str("save-dir", &cfg.SaveDir)
	r.str("download-dir", &cfg.DownloadDir)
	r.str("extract-to", &cfg.ExtractTo)
	r.str("archive-suffix", &cfg.ArchiveSuffix)
	r.str("checksum-suffix", &cfg.ChecksumSuffix)
	r.str("year", &cfg.Year)
	r.str("month", &cfg.Month)
	r.boolean("follow-pagination", &cfg.FollowPagination)
	r.boolean("verify-checksums", &cfg.VerifyChecksums)
	r.boolean("no-delete", &cfg.KeepArchives)
	r.int64("max-body-size", &cfg.MaxBodySize)
	r.integer("fatal-io-threshold", &cfg.FatalIOThreshold)
	r.str("db-dir", &cfg.DBDir)
	r.str("format", &cfg.ReportFormat)
	r.str("output", &cfg.ReportFile)
	r.boolean("yes", &cfg.AssumeYes)
	if r.changed("no-db") {
		var noDB bool
		r.boolean("no-db", &noDB)
		cfg.SaveToDB = !noDB
	}
	if r.err != nil {
		return nil, r.err
	}

	cfg.Verbose = getVerboseFlag(cmd)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// persistentString reads a root persistent string flag, tolerating
// commands executed without the root (as in tests).
func persistentString(cmd *cobra.Command, name string) (string, error) {
	if f := cmd.Flags().Lookup(name); f != nil {
		return cmd.Flags().GetString(name)
	}
	if f := cmd.Root().PersistentFlags().Lookup(name); f != nil {
		return cmd.Root().PersistentFlags().GetString(name)
	}
	return "", nil
}
