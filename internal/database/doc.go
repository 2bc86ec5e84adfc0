// Package database provides SQLite-based run history for bucketcrawl.
//
// Each crawl run is stored with its counters and terminal state, the
// failures from its ledger, and the mirror files written for each prefix.
// The history backs the history command and lets a later crawl retry only
// the prefixes that failed in the previous run.
//
// The database is a single file (bucketcrawl.db) opened through the
// CGO-free modernc.org/sqlite driver, in WAL mode by default.
package database
