// Package ledger records per-node failures.
//
// A Ledger is the in-memory, append-only list of failures for one run.
// A FileLog appends each failure as one self-contained line to the
// errors.log file in the mirror root, so a crashed run still leaves a
// readable record.
package ledger
