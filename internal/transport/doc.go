// Package transport provides the HTTP plumbing shared by the listing
// fetcher and the archive downloader: client construction with
// transport-level timeouts and optional proxying, a bounded exponential
// retry policy, and an optional request-rate limiter.
//
// Every request made by bucketcrawl carries a per-attempt timeout enforced
// by the http.Transport (dial, TLS handshake, response header) and, for
// listing fetches, by http.Client.Timeout over the whole exchange. The
// retry wrapper alone never bounds a request.
package transport
