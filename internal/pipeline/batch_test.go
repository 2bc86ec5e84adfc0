package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/nao1215/bucketcrawl/internal/model"
)

// TestBatchProcessor tests running one pipeline per prefix.
func TestBatchProcessor(t *testing.T) {
	t.Parallel()

	t.Run("one report per prefix in input order", func(t *testing.T) {
		t.Parallel()

		var running, peak atomic.Int32
		factory := func(prefix string) *Pipeline {
			p := New(WithLogger(quietLogger()))
			p.AddStep(&mockStep{name: "crawl", doFunc: func(_ context.Context, r *model.SyncReport) error {
				n := running.Add(1)
				defer running.Add(-1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				if prefix == "data/bad/" {
					return errors.New("boom")
				}
				r.WantedKeys = []string{prefix + "x.zip"}
				return nil
			}})
			return p
		}

		bp := NewBatchProcessor(factory, WithConcurrency(2), WithBatchLogger(quietLogger()))
		prefixes := []string{"data/spot/", "data/bad/", "data/futures/"}
		reports, err := bp.ProcessBatch(context.Background(), prefixes)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(reports) != len(prefixes) {
			t.Fatalf("expected %d reports, got %d", len(prefixes), len(reports))
		}
		for i, r := range reports {
			if r.StartPrefix != prefixes[i] {
				t.Errorf("report %d: expected prefix %q, got %q", i, prefixes[i], r.StartPrefix)
			}
		}
		if reports[1].ErrorMessage != "boom" {
			t.Errorf("expected failure recorded for bad prefix, got %q", reports[1].ErrorMessage)
		}
		if len(reports[2].WantedKeys) != 1 {
			t.Error("a failing prefix must not stop the others")
		}
		if peak.Load() > 2 {
			t.Errorf("concurrency limit exceeded: %d", peak.Load())
		}
	})

	t.Run("cancelled batch marks reports stopped", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := atomic.Int32{}
		factory := func(string) *Pipeline {
			called.Add(1)
			return New(WithLogger(quietLogger()))
		}

		reports, err := NewBatchProcessor(factory, WithBatchLogger(quietLogger())).ProcessBatch(ctx, []string{"a/", "b/"})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		for _, r := range reports {
			if !r.Stopped {
				t.Errorf("expected %s to be stopped", r.StartPrefix)
			}
		}
		if called.Load() != 0 {
			t.Errorf("no pipeline should be built, got %d", called.Load())
		}
	})

	t.Run("default concurrency", func(t *testing.T) {
		t.Parallel()

		bp := NewBatchProcessor(func(string) *Pipeline { return New() }, WithConcurrency(0))
		if bp.concurrency != 1 {
			t.Errorf("expected default concurrency 1, got %d", bp.concurrency)
		}
	})

	t.Run("callback receives every finished report", func(t *testing.T) {
		t.Parallel()

		var seen []int
		factory := func(string) *Pipeline {
			p := New(WithLogger(quietLogger()))
			p.AddStep(&mockStep{name: "crawl"})
			return p
		}
		bp := NewBatchProcessor(factory,
			WithConcurrency(3),
			WithBatchLogger(quietLogger()),
			WithReportCallback(func(i int, r *model.SyncReport) {
				if len(r.PerformedSteps) != 1 {
					t.Errorf("report %d passed before its pipeline finished", i)
				}
				seen = append(seen, i)
			}),
		)

		if _, err := bp.ProcessBatch(context.Background(), []string{"a/", "b/", "c/"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(seen) != 3 {
			t.Errorf("expected 3 callbacks, got %v", seen)
		}
	})
}
