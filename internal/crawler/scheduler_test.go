package crawler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/nao1215/bucketcrawl/internal/keyfilter"
	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/listing"
	"github.com/nao1215/bucketcrawl/internal/mirror"
	"github.com/nao1215/bucketcrawl/internal/model"
	"github.com/nao1215/bucketcrawl/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// twoLevelTree is root -> {a/, b/} -> {a/x.zip, b/y.zip.CHECKSUM}.
func twoLevelTree() *fakeTree {
	return newFakeTree().
		node("root/", []string{"root/a/", "root/b/"}, nil).
		node("root/a/", nil, []string{"root/a/x.zip"}).
		node("root/b/", nil, []string{"root/b/y.zip.CHECKSUM"})
}

func TestSchedulerEndToEnd(t *testing.T) {
	t.Parallel()

	tree := twoLevelTree()
	fsys := afero.NewMemMapFs()
	frontiers := newFrontierLog()

	s := NewScheduler(tree, mirror.NewWriter(fsys, "/mirror"),
		WithWorkers(4),
		WithMaxDepth(3),
		WithLogger(quietLogger()),
		WithFrontierRecorder(frontiers.record),
	)

	result, err := s.Run(context.Background(), "root/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("state is drained", func(t *testing.T) {
		if result.State != model.CrawlDrained {
			t.Errorf("expected drained, got %v", result.State)
		}
		if len(result.Unvisited) != 0 {
			t.Errorf("expected no unvisited prefixes, got %v", result.Unvisited)
		}
	})

	t.Run("mirror files for root, a and b", func(t *testing.T) {
		for _, p := range []string{"root/", "root/a/", "root/b/"} {
			path := filepath.Join("/mirror", filepath.FromSlash(p), mirror.FileName(p))
			if ok, _ := afero.Exists(fsys, path); !ok {
				t.Errorf("expected mirror file %s", path)
			}
			if got := result.MirrorPaths[p]; len(got) != 1 || got[0] != path {
				t.Errorf("MirrorPaths[%q] = %v, expected [%s]", p, got, path)
			}
		}
	})

	t.Run("frontiers", func(t *testing.T) {
		f0, _ := frontiers.get(0)
		f1, _ := frontiers.get(1)
		if !reflect.DeepEqual(f0, []string{"root/"}) {
			t.Errorf("frontier[0] = %v", f0)
		}
		if !reflect.DeepEqual(f1, []string{"root/a/", "root/b/"}) {
			t.Errorf("frontier[1] = %v", f1)
		}
		if f2, ok := frontiers.get(2); ok {
			t.Errorf("frontier[2] should be empty and never dispatched, got %v", f2)
		}
		if len(result.Levels) != 2 || result.Levels[1].Discovered != 0 {
			t.Errorf("unexpected levels %+v", result.Levels)
		}
	})

	t.Run("wanted keys", func(t *testing.T) {
		got := keyfilter.New(".zip", ".CHECKSUM", nil).Select(result.KeyNames())
		if !reflect.DeepEqual(got, []string{"root/a/x.zip"}) {
			t.Errorf("wanted keys = %v, expected [root/a/x.zip]", got)
		}
	})

	t.Run("counters", func(t *testing.T) {
		if result.Visited != 3 || result.Succeeded != 3 || result.Failed != 0 {
			t.Errorf("unexpected counters visited=%d succeeded=%d failed=%d", result.Visited, result.Succeeded, result.Failed)
		}
		if result.RunID == "" {
			t.Error("expected a run id")
		}
	})
}

func TestSchedulerDepthBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		maxDepth int
		fetched  []string
		unvisit  []string
	}{
		{"max depth 1 fetches only the root", 1, []string{"d0/"}, []string{"d0/d1/"}},
		{"max depth 2 stops before depth 2", 2, []string{"d0/", "d0/d1/"}, []string{"d0/d1/d2/"}},
		{"max depth 4 reaches the leaf", 4, []string{"d0/", "d0/d1/", "d0/d1/d2/", "d0/d1/d2/d3/"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tree := newFakeTree().
				node("d0/", []string{"d0/d1/"}, nil).
				node("d0/d1/", []string{"d0/d1/d2/"}, nil).
				node("d0/d1/d2/", []string{"d0/d1/d2/d3/"}, nil).
				node("d0/d1/d2/d3/", nil, []string{"d0/d1/d2/d3/k.zip"})

			s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"),
				WithWorkers(1),
				WithMaxDepth(tt.maxDepth),
				WithLogger(quietLogger()),
			)
			result, err := s.Run(context.Background(), "d0/")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			got := tree.fetchedPrefixes()
			sort.Strings(got)
			if !reflect.DeepEqual(got, tt.fetched) {
				t.Errorf("fetched %v, expected %v", got, tt.fetched)
			}
			if !reflect.DeepEqual(result.Unvisited, tt.unvisit) {
				t.Errorf("unvisited %v, expected %v", result.Unvisited, tt.unvisit)
			}

			wantState := model.CrawlDepthExceeded
			if tt.unvisit == nil {
				wantState = model.CrawlDrained
			}
			if result.State != wantState {
				t.Errorf("state %v, expected %v", result.State, wantState)
			}
		})
	}
}

func TestSchedulerFrontierUnion(t *testing.T) {
	t.Parallel()

	tree := newFakeTree().
		node("r/", []string{"r/a/", "r/b/", "r/c/"}, nil).
		node("r/a/", []string{"r/a/1/", "r/shared/"}, nil).
		node("r/b/", []string{"r/shared/", "r/b/2/"}, nil).
		node("r/c/", []string{"r/a/1/"}, nil)

	frontiers := newFrontierLog()
	s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"),
		WithWorkers(3),
		WithMaxDepth(2),
		WithLogger(quietLogger()),
		WithFrontierRecorder(frontiers.record),
	)

	result, err := s.Run(context.Background(), "r/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"r/a/1/", "r/b/2/", "r/shared/"}
	got, ok := frontiers.get(2)
	if !ok {
		t.Fatal("expected frontier[2] to be recorded as unvisited")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("frontier[2] = %v, expected %v", got, want)
	}
	if result.Levels[1].Discovered != 3 {
		t.Errorf("expected 3 discovered, got %d", result.Levels[1].Discovered)
	}
}

func TestSchedulerFaultInjection(t *testing.T) {
	t.Parallel()

	tree := newFakeTree().
		node("r/", []string{"r/a/", "r/b/", "r/c/"}, nil).
		node("r/a/", []string{"r/a/1/"}, nil).
		node("r/c/", []string{"r/c/1/"}, nil).
		node("r/a/1/", nil, nil).
		node("r/c/1/", nil, nil)
	tree.fail["r/b/"] = errors.New("connection reset")

	frontiers := newFrontierLog()
	l := ledger.New(nil)
	s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"),
		WithWorkers(2),
		WithMaxDepth(5),
		WithLedger(l),
		WithLogger(quietLogger()),
		WithFrontierRecorder(frontiers.record),
	)

	result, err := s.Run(context.Background(), "r/")
	if err != nil {
		t.Fatalf("per-node failures must not fail the run: %v", err)
	}

	f2, _ := frontiers.get(2)
	if !reflect.DeepEqual(f2, []string{"r/a/1/", "r/c/1/"}) {
		t.Errorf("siblings' children missing from frontier[2]: %v", f2)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one ledger entry, got %+v", entries)
	}
	if entries[0].Subject != "r/b/" || entries[0].Kind != model.FailureFetch || entries[0].Depth != 1 {
		t.Errorf("unexpected ledger entry %+v", entries[0])
	}
	if result.Failed != 1 || result.Succeeded != 5 {
		t.Errorf("expected 5 succeeded and 1 failed, got %d and %d", result.Succeeded, result.Failed)
	}
	if result.Levels[1].Failed != 1 || result.Levels[1].Succeeded != 2 {
		t.Errorf("unexpected level stats %+v", result.Levels[1])
	}
	if len(result.Failures) != 1 {
		t.Errorf("result should carry the ledger snapshot, got %d", len(result.Failures))
	}
	if result.State != model.CrawlDrained {
		t.Errorf("expected drained, got %v", result.State)
	}
}

func TestSchedulerSharedLedger(t *testing.T) {
	t.Parallel()

	tree := newFakeTree().node("b/", nil, []string{"b/k.zip"})
	tree.fail["a/"] = errors.New("connection reset")

	l := ledger.New(nil)
	newSched := func() *Scheduler {
		return NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"),
			WithMaxDepth(2),
			WithLedger(l),
			WithLogger(quietLogger()),
		)
	}

	a, err := newSched().Run(context.Background(), "a/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := newSched().Run(context.Background(), "b/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.Failed != 1 || len(a.Failures) != 1 || a.Failures[0].Subject != "a/" {
		t.Errorf("a/ result should carry its own failure, got Failed=%d %+v", a.Failed, a.Failures)
	}
	if b.Failed != 0 || len(b.Failures) != 0 {
		t.Errorf("b/ result must not carry failures of a/, got Failed=%d %+v", b.Failed, b.Failures)
	}
	if l.Len() != 1 {
		t.Errorf("shared ledger should keep every failure, got %d", l.Len())
	}
}

func TestSchedulerParseFailure(t *testing.T) {
	t.Parallel()

	tree := newFakeTree().node("r/", []string{"r/bad/", "r/good/"}, nil).node("r/good/", nil, []string{"r/good/k.zip"})
	tree.pages["r/bad/"] = []string{"<ListBucketResult><CommonPrefixes><Prefix>r/bad/x/"}

	fsys := afero.NewMemMapFs()
	s := NewScheduler(tree, mirror.NewWriter(fsys, "/m"), WithMaxDepth(5), WithLogger(quietLogger()))
	result, err := s.Run(context.Background(), "r/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Failures) != 1 || result.Failures[0].Kind != model.FailureParse {
		t.Fatalf("expected one parse failure, got %+v", result.Failures)
	}
	if tree.fetched("r/bad/x/") != 0 {
		t.Error("a parse failure must contribute no children")
	}
	if len(result.MirrorPaths["r/bad/"]) != 1 {
		t.Error("the raw document must still be mirrored")
	}
	if !reflect.DeepEqual(result.KeyNames(), []string{"r/good/k.zip"}) {
		t.Errorf("unexpected keys %v", result.KeyNames())
	}
}

func TestSchedulerFatalIO(t *testing.T) {
	t.Parallel()

	tree := newFakeTree().
		node("r/", []string{"r/a/", "r/b/"}, nil).
		node("r/a/", []string{"r/a/1/"}, nil).
		node("r/b/", nil, nil)

	t.Run("threshold reached", func(t *testing.T) {
		t.Parallel()

		s := NewScheduler(tree, failingWriter{},
			WithMaxDepth(5),
			WithFatalIOThreshold(1),
			WithLogger(quietLogger()),
		)
		result, err := s.Run(context.Background(), "r/")
		if !errors.Is(err, ErrFatalIO) {
			t.Fatalf("expected ErrFatalIO, got %v", err)
		}
		if result == nil || result.State != model.CrawlFatal {
			t.Fatalf("expected fatal state, got %+v", result)
		}
		if result.Failures[0].Kind != model.FailureIO {
			t.Errorf("expected io failure, got %v", result.Failures[0].Kind)
		}
	})

	t.Run("threshold disabled", func(t *testing.T) {
		t.Parallel()

		s := NewScheduler(tree, failingWriter{},
			WithMaxDepth(5),
			WithFatalIOThreshold(0),
			WithLogger(quietLogger()),
		)
		result, err := s.Run(context.Background(), "r/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.State != model.CrawlDrained {
			t.Errorf("expected drained, got %v", result.State)
		}
	})
}

func TestSchedulerStop(t *testing.T) {
	t.Parallel()

	t.Run("stop flag checked before the next level", func(t *testing.T) {
		t.Parallel()

		tree := twoLevelTree()
		var stop atomic.Bool
		s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"),
			WithMaxDepth(5),
			WithStopFlag(&stop),
			WithLogger(quietLogger()),
			WithLevelObserver(func(stats model.LevelStats) {
				if stats.Level == 0 {
					stop.Store(true)
				}
			}),
		)

		result, err := s.Run(context.Background(), "root/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.State != model.CrawlStopped {
			t.Errorf("expected stopped, got %v", result.State)
		}
		if !reflect.DeepEqual(result.Unvisited, []string{"root/a/", "root/b/"}) {
			t.Errorf("unexpected unvisited %v", result.Unvisited)
		}
		if tree.fetched("root/a/") != 0 {
			t.Error("no prefix of the next level may be fetched after stop")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		tree := twoLevelTree()
		s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"), WithLogger(quietLogger()))
		result, err := s.Run(ctx, "root/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.State != model.CrawlStopped || result.Visited != 0 {
			t.Errorf("expected stopped before any fetch, got %v visited=%d", result.State, result.Visited)
		}
		if !reflect.DeepEqual(result.Unvisited, []string{"root/"}) {
			t.Errorf("unexpected unvisited %v", result.Unvisited)
		}
	})
}

func TestSchedulerIdempotent(t *testing.T) {
	t.Parallel()

	fsys := afero.NewMemMapFs()
	run := func() map[string][]byte {
		s := NewScheduler(twoLevelTree(), mirror.NewWriter(fsys, "/m"), WithLogger(quietLogger()))
		if _, err := s.Run(context.Background(), "root/"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		docs, err := mirror.Documents(context.Background(), fsys, "/m")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := make(map[string][]byte, len(docs))
		for _, d := range docs {
			b, err := afero.ReadFile(fsys, d)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out[d] = b
		}
		return out
	}

	first := run()
	second := run()
	if len(first) != 3 || len(first) != len(second) {
		t.Fatalf("expected 3 files in both runs, got %d and %d", len(first), len(second))
	}
	for path, b := range first {
		if !bytes.Equal(b, second[path]) {
			t.Errorf("%s differs between runs", path)
		}
	}
}

func TestSchedulerPagination(t *testing.T) {
	t.Parallel()

	newTree := func() *fakeTree {
		tree := newFakeTree().node("r/a/", nil, nil).node("r/b/", nil, nil)
		tree.pages["r/"] = []string{
			listingXML("r/", []string{"r/a/"}, nil, true, "r/a/"),
			listingXML("r/", []string{"r/b/"}, []string{"r/k.zip"}, false, ""),
		}
		return tree
	}

	t.Run("enabled follows continuation pages", func(t *testing.T) {
		t.Parallel()

		tree := newTree()
		s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"),
			WithPagination(true),
			WithLogger(quietLogger()),
		)
		result, err := s.Run(context.Background(), "r/")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tree.fetched("r/") != 2 || tree.fetched("r/b/") != 1 {
			t.Errorf("expected both pages and r/b/ to be fetched, calls=%v", tree.calls)
		}
		paths := result.MirrorPaths["r/"]
		if len(paths) != 2 || filepath.Base(paths[1]) != "directory_r_page2.xml" {
			t.Errorf("unexpected mirror paths %v", paths)
		}
	})

	t.Run("disabled reads the first page only", func(t *testing.T) {
		t.Parallel()

		tree := newTree()
		s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"), WithLogger(quietLogger()))
		if _, err := s.Run(context.Background(), "r/"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if tree.fetched("r/") != 1 || tree.fetched("r/b/") != 0 {
			t.Errorf("unexpected calls %v", tree.calls)
		}
	})
}

func TestSchedulerLevelBarrier(t *testing.T) {
	t.Parallel()

	tree := newFakeTree().
		node("r/", []string{"r/a/", "r/b/", "r/c/", "r/d/"}, nil).
		node("r/a/", []string{"r/a/x/"}, nil).
		node("r/b/", nil, nil).
		node("r/c/", nil, nil).
		node("r/d/", nil, nil).
		node("r/a/x/", nil, nil)

	var level1Done atomic.Int32
	var violated atomic.Bool
	tree.hook = func(prefix string) {
		switch prefix {
		case "r/a/", "r/b/", "r/c/", "r/d/":
			time.Sleep(5 * time.Millisecond)
			level1Done.Add(1)
		case "r/a/x/":
			if level1Done.Load() != 4 {
				violated.Store(true)
			}
		}
	}

	s := NewScheduler(tree, mirror.NewWriter(afero.NewMemMapFs(), "/m"), WithWorkers(4), WithLogger(quietLogger()))
	if _, err := s.Run(context.Background(), "r/"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if violated.Load() {
		t.Error("a depth-2 prefix was fetched before depth 1 resolved")
	}
}

func TestSchedulerOverHTTP(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"root/":   listingXML("root/", []string{"root/a/", "root/b/"}, nil, false, ""),
		"root/a/": listingXML("root/a/", nil, []string{"root/a/x.zip"}, false, ""),
		"root/b/": listingXML("root/b/", nil, []string{"root/b/y.zip.CHECKSUM"}, false, ""),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Query().Get("prefix")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	client, err := transport.NewClient(transport.Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fetcher := listing.NewFetcher(client, srv.URL+"/?delimiter=/&prefix=",
		listing.WithRetryPolicy(transport.Policy{Retries: 1, Backoff: time.Millisecond}))

	fsys := afero.NewMemMapFs()
	s := NewScheduler(fetcher, mirror.NewWriter(fsys, "/data"), WithMaxDepth(3), WithLogger(quietLogger()))
	result, err := s.Run(context.Background(), "root/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Succeeded != 3 || result.State != model.CrawlDrained {
		t.Errorf("unexpected result state=%v succeeded=%d", result.State, result.Succeeded)
	}
	b, err := afero.ReadFile(fsys, filepath.Join("/data", "root", "a", "directory_root_a.xml"))
	if err != nil {
		t.Fatalf("mirror file missing: %v", err)
	}
	if string(b) != bodies["root/a/"] {
		t.Error("mirror file is not byte-identical to the response")
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	t.Parallel()

	s := NewScheduler(newFakeTree(), failingWriter{}, WithWorkers(0), WithRunID("fixed"))
	if s.workers != 64 || s.maxDepth != 10 || s.fatalIOThreshold != 10 {
		t.Errorf("unexpected defaults workers=%d depth=%d threshold=%d", s.workers, s.maxDepth, s.fatalIOThreshold)
	}
	if s.runID != "fixed" {
		t.Errorf("expected run id 'fixed', got %q", s.runID)
	}
	if s.Ledger() == nil {
		t.Error("expected a default ledger")
	}
}
