// Package model defines the core data structures shared by the crawler,
// the downloader, the extractor and the report writers.
//
// This package contains the following main types:
//   - ListingDocument: The raw body of one bucket listing fetch
//   - KeyRecord: One object key found in a listing's contents section
//   - NodeOutcome: The tagged result of visiting one prefix
//   - Failure: One entry of the failure ledger
//   - CrawlResult: The aggregate result of a crawl run
//   - DownloadResult / ExtractResult: Aggregate results of the batch stages
//   - SyncReport: The report threaded through the sync pipeline
//
// The models live in their own package so that crawler, ledger, database and
// report can share them without import cycles. All of them serialize to JSON
// for report output and database storage.
package model
