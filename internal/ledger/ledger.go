package ledger

import (
	"sync"

	"github.com/nao1215/bucketcrawl/internal/model"
)

// Sink receives every failure recorded in a Ledger.
type Sink interface {
	Append(f model.Failure) error
}

// Ledger is a concurrency-safe, append-only failure list.
type Ledger struct {
	mu      sync.Mutex
	entries []model.Failure
	sink    Sink
	sinkErr error
}

// New creates an empty Ledger. sink may be nil.
func New(sink Sink) *Ledger {
	return &Ledger{
		entries: make([]model.Failure, 0),
		sink:    sink,
	}
}

// Record appends f and forwards it to the sink.
// A sink error is kept and reported by SinkErr; it never drops the entry.
func (l *Ledger) Record(f model.Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, f)
	if l.sink != nil {
		if err := l.sink.Append(f); err != nil && l.sinkErr == nil {
			l.sinkErr = err
		}
	}
}

// Entries returns a copy of all recorded failures in order.
func (l *Ledger) Entries() []model.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Failure, len(l.entries))
	copy(out, l.entries)
	return out
}

// Since returns a copy of the failures recorded after the first n.
func (l *Ledger) Since(n int) []model.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 {
		n = 0
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]model.Failure, len(l.entries)-n)
	copy(out, l.entries[n:])
	return out
}

// Len returns the number of recorded failures.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Count returns the number of failures of the given kind.
func (l *Ledger) Count(kind model.FailureKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, e := range l.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Has reports whether subject has at least one entry.
func (l *Ledger) Has(subject string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.Subject == subject {
			return true
		}
	}
	return false
}

// Subjects returns the distinct subjects in first-recorded order.
func (l *Ledger) Subjects() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(l.entries))
	out := make([]string, 0, len(l.entries))
	for _, e := range l.entries {
		if _, ok := seen[e.Subject]; ok {
			continue
		}
		seen[e.Subject] = struct{}{}
		out = append(out, e.Subject)
	}
	return out
}

// SinkErr returns the first error reported by the sink, if any.
func (l *Ledger) SinkErr() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sinkErr
}
