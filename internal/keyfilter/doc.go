// Package keyfilter decides which object keys are wanted archives.
//
// A key is Wanted when it ends with the archive suffix and is not a
// checksum sidecar. A DateFilter further restricts wanted keys to those
// containing a YYYY-MM substring.
package keyfilter
