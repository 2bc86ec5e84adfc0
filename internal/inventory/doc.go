// Package inventory aggregates the archive keys referenced by a local
// listing mirror.
//
// The Scanner parses every mirrored document concurrently and folds the
// results into an Inventory: totals, the distribution of archive counts
// per document, per-dataset statistics, the documents with the most
// archives, and the flat deduplicated list of wanted keys that the
// downloader consumes.
package inventory
