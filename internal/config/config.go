package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// Crawl and download defaults follow the behavior of the tools this
// project replaces so that existing mirrors stay compatible.
const (
	// DefaultListingURL is the delimiter listing endpoint of the Binance
	// Vision bucket. The prefix is appended verbatim.
	DefaultListingURL = "https://s3-ap-northeast-1.amazonaws.com/data.binance.vision?delimiter=/&prefix="

	// DefaultArchiveURL is the base URL archives are downloaded from.
	DefaultArchiveURL = "https://data.binance.vision/"

	// DefaultStartPrefix is the namespace root of the bucket.
	DefaultStartPrefix = "data/"

	// DefaultWorkers is the per-level crawl pool size.
	DefaultWorkers = 64

	// DefaultDownloadWorkers is the archive download pool size.
	DefaultDownloadWorkers = 8

	// DefaultExtractWorkers is the archive extraction pool size.
	DefaultExtractWorkers = 4

	// DefaultMaxDepth bounds the crawl. The bucket is about seven levels deep.
	DefaultMaxDepth = 10

	// DefaultRetries is the number of retries after the first attempt.
	DefaultRetries = 3

	// DefaultRetryBackoff is the first backoff interval; it doubles per attempt.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultTimeout is the per-attempt request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/111.0.0.0 Safari/537.36"

	// DefaultSaveDir is where the listing mirror is written.
	DefaultSaveDir = "./data"

	// DefaultDownloadDir is where archives are downloaded.
	DefaultDownloadDir = "./downloads"

	// DefaultArchiveSuffix marks wanted archive keys.
	DefaultArchiveSuffix = ".zip"

	// DefaultChecksumSuffix marks checksum sidecars (appended to the archive key).
	DefaultChecksumSuffix = ".CHECKSUM"

	// DefaultMaxBodySize limits a listing response. A full S3 page of
	// 1000 keys is well under 1MB.
	DefaultMaxBodySize = 16 * 1024 * 1024 // 16MB

	// DefaultFatalIOThreshold is the number of mirror write failures after
	// which the crawl stops before the next level.
	DefaultFatalIOThreshold = 10

	// DefaultReportFormat is the human-readable summary.
	DefaultReportFormat = ReportText

	// ErrorLogName is the failure log file name inside the save directory.
	ErrorLogName = "errors.log"

	// AppName is the application name used for XDG directory paths.
	AppName = "bucketcrawl"
)

// Report formats.
const (
	ReportText     = "text"
	ReportJSON     = "json"
	ReportMarkdown = "markdown"
)

// Config holds all configuration options for bucketcrawl.
// It is populated from defaults, the config file and CLI flags, validated
// once, and then treated as immutable.
type Config struct {
	// ListingURL is the base listing endpoint. The prefix is appended verbatim.
	ListingURL string

	// ArchiveURL is the base URL that object keys are appended to for downloads.
	ArchiveURL string

	// StartPrefix is the root of the crawl.
	StartPrefix string

	// Workers is the per-level crawl pool size.
	Workers int

	// DownloadWorkers is the download pool size.
	DownloadWorkers int

	// ExtractWorkers is the extraction pool size.
	ExtractWorkers int

	// MaxDepth is the depth boundary. Prefixes at depth >= MaxDepth are
	// never fetched; the start prefix is depth 0.
	MaxDepth int

	// Retries is the number of retries after the first attempt.
	Retries int

	// RetryBackoff is the first backoff interval.
	RetryBackoff time.Duration

	// Timeout is the per-attempt request timeout enforced at the transport.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64

	// UserAgent is sent with every request.
	UserAgent string

	// ProxyURL routes requests through a socks5 or http proxy when set.
	ProxyURL string

	// SaveDir is the root of the local listing mirror.
	SaveDir string

	// DownloadDir is where archives are written.
	DownloadDir string

	// ExtractTo overrides the extraction directory. Empty means next to the archive.
	ExtractTo string

	// ArchiveSuffix marks wanted keys.
	ArchiveSuffix string

	// ChecksumSuffix marks checksum sidecars.
	ChecksumSuffix string

	// Year and Month optionally restrict downloads to keys containing YYYY-MM.
	// Both or neither must be set.
	Year  string
	Month string

	// FollowPagination fetches continuation pages of truncated listings.
	FollowPagination bool

	// VerifyChecksums checks each downloaded archive against its sidecar.
	VerifyChecksums bool

	// KeepArchives disables deleting archives after extraction.
	KeepArchives bool

	// MaxBodySize limits a single listing response.
	MaxBodySize int64

	// FatalIOThreshold is the number of mirror write failures that stop the
	// crawl. Zero disables the check.
	FatalIOThreshold int

	// ReportFile is the optional structured report output path.
	ReportFile string

	// ReportFormat is text, json or markdown.
	ReportFormat string

	// DBDir is the directory of the run history database.
	DBDir string

	// SaveToDB enables recording runs in the history database.
	SaveToDB bool

	// AssumeYes skips interactive confirmation prompts.
	AssumeYes bool

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the YAML configuration file that was loaded, if any.
	ConfigFilePath string

	// Prefixes holds per-start-prefix overrides from the config file.
	Prefixes map[string]PrefixConfig
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		ListingURL:       DefaultListingURL,
		ArchiveURL:       DefaultArchiveURL,
		StartPrefix:      DefaultStartPrefix,
		Workers:          DefaultWorkers,
		DownloadWorkers:  DefaultDownloadWorkers,
		ExtractWorkers:   DefaultExtractWorkers,
		MaxDepth:         DefaultMaxDepth,
		Retries:          DefaultRetries,
		RetryBackoff:     DefaultRetryBackoff,
		Timeout:          DefaultTimeout,
		UserAgent:        DefaultUserAgent,
		SaveDir:          DefaultSaveDir,
		DownloadDir:      DefaultDownloadDir,
		ArchiveSuffix:    DefaultArchiveSuffix,
		ChecksumSuffix:   DefaultChecksumSuffix,
		MaxBodySize:      DefaultMaxBodySize,
		FatalIOThreshold: DefaultFatalIOThreshold,
		ReportFormat:     DefaultReportFormat,
		DBDir:            XDGDataDir(),
		SaveToDB:         true,
		Prefixes:         make(map[string]PrefixConfig),
	}
}

// XDGDataDir returns the XDG data directory for bucketcrawl.
// On Linux: ~/.local/share/bucketcrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for bucketcrawl.
// On Linux: ~/.config/bucketcrawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// ErrorLogPath returns the failure log path inside the save directory.
func (c *Config) ErrorLogPath() string {
	return filepath.Join(c.SaveDir, ErrorLogName)
}

// ForPrefix returns a copy of c with the overrides for prefix applied.
func (c *Config) ForPrefix(prefix string) *Config {
	out := *c
	pc, ok := c.Prefixes[prefix]
	if !ok {
		return &out
	}
	if pc.MaxDepth > 0 {
		out.MaxDepth = pc.MaxDepth
	}
	if pc.Workers > 0 {
		out.Workers = pc.Workers
	}
	if pc.FollowPagination != nil {
		out.FollowPagination = *pc.FollowPagination
	}
	return &out
}

// HasDateFilter reports whether a year/month filter is configured.
func (c *Config) HasDateFilter() bool {
	return c.Year != "" || c.Month != ""
}

// Validate checks if the configuration is valid.
// It returns the first problem found as a *UsageError wrapping one of the
// sentinel errors in errors.go. It is called once after flag parsing,
// before any network activity.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StartPrefix) == "" {
		return usage(ErrNoStartPrefix)
	}

	if c.Workers <= 0 || c.DownloadWorkers <= 0 || c.ExtractWorkers <= 0 {
		return usage(ErrInvalidWorkers)
	}

	if c.MaxDepth <= 0 {
		return usage(ErrInvalidMaxDepth)
	}

	if c.Retries < 0 {
		return usage(ErrInvalidRetries)
	}

	if c.RetryBackoff < 0 {
		return usage(ErrInvalidBackoff)
	}

	if c.Timeout <= 0 {
		return usage(ErrInvalidTimeout)
	}

	if c.RequestsPerSecond < 0 {
		return usage(ErrInvalidRate)
	}

	if c.MaxBodySize < 0 {
		return usage(ErrInvalidMaxBodySize)
	}

	if !isHTTPURL(c.ListingURL) {
		return usage(ErrInvalidListingURL)
	}

	if !isHTTPURL(c.ArchiveURL) {
		return usage(ErrInvalidArchiveURL)
	}

	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil || u.Host == "" {
			return usage(ErrInvalidProxyURL)
		}
		switch u.Scheme {
		case "socks5", "socks5h", "http", "https":
		default:
			return usage(ErrInvalidProxyURL)
		}
	}

	if c.ArchiveSuffix == "" {
		return usage(ErrEmptyArchiveSuffix)
	}

	switch c.ReportFormat {
	case ReportText, ReportJSON, ReportMarkdown:
	default:
		return usage(ErrInvalidReportFormat)
	}

	if _, _, err := ParseYearMonth(c.Year, c.Month); err != nil {
		return err
	}

	return nil
}

// ParseYearMonth validates and normalizes a year/month filter.
//
// Both empty means no filter and returns two empty strings. Exactly one
// empty is ErrPartialDateFilter. The month is returned zero padded, so
// "4" and "04" both yield "04".
func ParseYearMonth(year, month string) (string, string, error) {
	year = strings.TrimSpace(year)
	month = strings.TrimSpace(month)

	if year == "" && month == "" {
		return "", "", nil
	}
	if year == "" || month == "" {
		return "", "", usage(ErrPartialDateFilter)
	}

	if len(year) != 4 {
		return "", "", usage(ErrInvalidYear)
	}
	if _, err := strconv.Atoi(year); err != nil {
		return "", "", usage(ErrInvalidYear)
	}

	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", "", usage(ErrInvalidMonth)
	}

	return year, fmt.Sprintf("%02d", m), nil
}

// isHTTPURL reports whether raw parses as an absolute http or https URL.
func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
