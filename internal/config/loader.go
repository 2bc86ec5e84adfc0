package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = ".bucketcrawl"

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// PrefixConfig holds overrides applied when a crawl starts at a given prefix.
type PrefixConfig struct {
	// MaxDepth overrides the global depth boundary. Zero keeps the global value.
	MaxDepth int `yaml:"maxDepth,omitempty"`

	// Workers overrides the global pool size. Zero keeps the global value.
	Workers int `yaml:"workers,omitempty"`

	// FollowPagination overrides the global pagination setting when set.
	FollowPagination *bool `yaml:"followPagination,omitempty"`
}

// File represents the structure of the .bucketcrawl configuration file.
// Every field is optional; zero values leave the defaults in place.
type File struct {
	ListingURL        string        `yaml:"listingURL,omitempty"`
	ArchiveURL        string        `yaml:"archiveURL,omitempty"`
	StartPrefix       string        `yaml:"startPrefix,omitempty"`
	Workers           int           `yaml:"workers,omitempty"`
	DownloadWorkers   int           `yaml:"downloadWorkers,omitempty"`
	ExtractWorkers    int           `yaml:"extractWorkers,omitempty"`
	MaxDepth          int           `yaml:"maxDepth,omitempty"`
	Retries           *int          `yaml:"retries,omitempty"`
	RetryBackoff      time.Duration `yaml:"retryBackoff,omitempty"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond,omitempty"`
	UserAgent         string        `yaml:"userAgent,omitempty"`
	ProxyURL          string        `yaml:"proxy,omitempty"`
	SaveDir           string        `yaml:"saveDir,omitempty"`
	DownloadDir       string        `yaml:"downloadDir,omitempty"`
	ArchiveSuffix     string        `yaml:"archiveSuffix,omitempty"`
	ChecksumSuffix    string        `yaml:"checksumSuffix,omitempty"`
	FollowPagination  bool          `yaml:"followPagination,omitempty"`
	VerifyChecksums   bool          `yaml:"verifyChecksums,omitempty"`
	DBDir             string        `yaml:"dbDir,omitempty"`

	// Prefixes maps a start prefix to its overrides.
	Prefixes map[string]PrefixConfig `yaml:"prefixes,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}

	if cf.Prefixes == nil {
		cf.Prefixes = make(map[string]PrefixConfig)
	}

	return &cf, nil
}

// Apply copies every non-zero value of the file into cfg.
func (cf *File) Apply(cfg *Config) {
	setString(&cfg.ListingURL, cf.ListingURL)
	setString(&cfg.ArchiveURL, cf.ArchiveURL)
	setString(&cfg.StartPrefix, cf.StartPrefix)
	setString(&cfg.UserAgent, cf.UserAgent)
	setString(&cfg.ProxyURL, cf.ProxyURL)
	setString(&cfg.SaveDir, cf.SaveDir)
	setString(&cfg.DownloadDir, cf.DownloadDir)
	setString(&cfg.ArchiveSuffix, cf.ArchiveSuffix)
	setString(&cfg.ChecksumSuffix, cf.ChecksumSuffix)
	setString(&cfg.DBDir, cf.DBDir)

	if cf.Workers > 0 {
		cfg.Workers = cf.Workers
	}
	if cf.DownloadWorkers > 0 {
		cfg.DownloadWorkers = cf.DownloadWorkers
	}
	if cf.ExtractWorkers > 0 {
		cfg.ExtractWorkers = cf.ExtractWorkers
	}
	if cf.MaxDepth > 0 {
		cfg.MaxDepth = cf.MaxDepth
	}
	if cf.Retries != nil {
		cfg.Retries = *cf.Retries
	}
	if cf.RetryBackoff > 0 {
		cfg.RetryBackoff = cf.RetryBackoff
	}
	if cf.Timeout > 0 {
		cfg.Timeout = cf.Timeout
	}
	if cf.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = cf.RequestsPerSecond
	}
	if cf.FollowPagination {
		cfg.FollowPagination = true
	}
	if cf.VerifyChecksums {
		cfg.VerifyChecksums = true
	}

	if cfg.Prefixes == nil {
		cfg.Prefixes = make(map[string]PrefixConfig)
	}
	for prefix, pc := range cf.Prefixes {
		cfg.Prefixes[prefix] = pc
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .bucketcrawl in the current directory
// 3. Look for config.yaml in the XDG config directory
// 4. Look for .bucketcrawl in the user's home directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	candidates := make([]string, 0, 3)
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}

	return ""
}
