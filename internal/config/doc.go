// Package config provides the configuration structure and utilities for
// bucketcrawl. It defines the listing and archive endpoints, crawl bounds,
// retry policy, local directories and report preferences.
//
// A Config is assembled once by the CLI from defaults, an optional YAML
// file and command-line flags, validated, and then handed to the core
// packages as plain values. The core packages never read the environment
// or the disk for configuration themselves.
package config
