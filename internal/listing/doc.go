// Package listing fetches and parses delimiter listings of an
// S3-compatible bucket.
//
// A listing request for prefix P returns a ListBucketResult document whose
// CommonPrefixes section names the immediate child prefixes of P and whose
// Contents section names the object keys directly under P. The Fetcher
// retrieves one page of that document with retry and backoff; Parse turns
// the raw bytes into a Listing. Neither touches the local filesystem.
package listing
