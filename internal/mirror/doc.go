// Package mirror persists raw listing documents to a local directory tree
// that mirrors the bucket's prefix hierarchy.
//
// The document for prefix P is written to <root>/P/directory_<P'>.xml where
// P' is P without its trailing "/" and with every other "/" replaced by "_".
// Empty and "." segments are written as "%00" and "%2E" and a literal "%" as
// "%25", so distinct prefixes never share a path. A prefix that does not end
// in "/" gets a "%" after P'. Continuation pages get a "_pageN" suffix before
// the extension. Writes are atomic, so a re-run over the same remote state
// leaves byte-identical files.
package mirror
