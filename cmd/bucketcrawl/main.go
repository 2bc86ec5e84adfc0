// Package main provides the entry point for the bucketcrawl CLI.
//
// bucketcrawl mirrors the directory tree of a public S3-compatible bucket
// to local disk, then downloads and unpacks the archives it lists.
//
// Usage:
//
//	bucketcrawl crawl [prefix...]
//	bucketcrawl download --year 2024 --month 4
//	bucketcrawl sync data/spot/daily/klines/
//
// See --help for all available options.
package main

// main is the entry point for bucketcrawl.
func main() {
	Execute()
}
