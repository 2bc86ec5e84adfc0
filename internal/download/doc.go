// Package download fetches archive objects to a local directory.
//
// Each key is downloaded to <dir>/<key>. Keys whose local file already
// exists are skipped, so an interrupted batch can simply be run again.
// Bodies are streamed to a ".part" file that is renamed into place only
// after the transfer (and, optionally, checksum verification) succeeded;
// on failure the partial file is removed. A failing key is recorded in the
// failure ledger and never aborts the rest of the batch.
package download
