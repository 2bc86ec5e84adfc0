package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/afero"

	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/model"
)

func zipBytes(t *testing.T, members map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range members {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create failed: %v", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("zip write failed: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close failed: %v", err)
	}
	return buf.Bytes()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExtract(t *testing.T) {
	t.Parallel()

	t.Run("extracts next to archive and deletes it", func(t *testing.T) {
		t.Parallel()

		fsys := afero.NewMemMapFs()
		data := zipBytes(t, map[string]string{"BTCUSDT-1m-2024-04-01.csv": "1,2,3\n"})
		if err := afero.WriteFile(fsys, "/dl/a/x.zip", data, 0o644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		if err := afero.WriteFile(fsys, "/dl/b/broken.zip", []byte("not a zip"), 0o644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		archives, err := FindArchives(fsys, "/dl", ".zip")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(archives, []string{"/dl/a/x.zip", "/dl/b/broken.zip"}) {
			t.Fatalf("unexpected archives %v", archives)
		}

		l := ledger.New(nil)
		e := NewExtractor(fsys, WithLedger(l), WithWorkers(2), WithLogger(quietLogger()))
		result, err := e.Extract(context.Background(), archives)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if result.Extracted != 1 || result.Failed != 1 || result.Deleted != 1 || result.Members != 1 {
			t.Errorf("unexpected result %+v", result)
		}
		if result.BytesFreed != int64(len(data)) {
			t.Errorf("expected %d bytes freed, got %d", len(data), result.BytesFreed)
		}
		got, err := afero.ReadFile(fsys, "/dl/a/BTCUSDT-1m-2024-04-01.csv")
		if err != nil || string(got) != "1,2,3\n" {
			t.Errorf("unexpected member content %q (%v)", got, err)
		}
		if ok, _ := afero.Exists(fsys, "/dl/a/x.zip"); ok {
			t.Error("extracted archive should be deleted")
		}
		if ok, _ := afero.Exists(fsys, "/dl/b/broken.zip"); !ok {
			t.Error("failed archive must not be deleted")
		}
		if l.Count(model.FailureExtract) != 1 || !l.Has("/dl/b/broken.zip") {
			t.Errorf("expected extract failure in ledger, got %+v", l.Entries())
		}
	})

	t.Run("keep archives and custom destination", func(t *testing.T) {
		t.Parallel()

		fsys := afero.NewMemMapFs()
		data := zipBytes(t, map[string]string{"nested/member.csv": "x"})
		if err := afero.WriteFile(fsys, "/dl/x.zip", data, 0o644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		e := NewExtractor(fsys, WithKeepArchives(true), WithDestination("/out"), WithLogger(quietLogger()))
		result, err := e.Extract(context.Background(), []string{"/dl/x.zip"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Deleted != 0 || result.BytesFreed != 0 {
			t.Errorf("nothing should be deleted, got %+v", result)
		}
		if ok, _ := afero.Exists(fsys, filepath.Join("/out", "nested", "member.csv")); !ok {
			t.Error("member should be extracted under the destination")
		}
		if ok, _ := afero.Exists(fsys, "/dl/x.zip"); !ok {
			t.Error("archive should be kept")
		}
	})

	t.Run("zip slip is rejected", func(t *testing.T) {
		t.Parallel()

		fsys := afero.NewMemMapFs()
		data := zipBytes(t, map[string]string{"../../escape.txt": "evil"})
		if err := afero.WriteFile(fsys, "/dl/evil.zip", data, 0o644); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		e := NewExtractor(fsys, WithLogger(quietLogger()))
		result, err := e.Extract(context.Background(), []string{"/dl/evil.zip"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Failed != 1 {
			t.Errorf("expected failure, got %+v", result)
		}
		if ok, _ := afero.Exists(fsys, "/escape.txt"); ok {
			t.Error("member escaped the destination")
		}
		if ok, _ := afero.Exists(fsys, "/dl/evil.zip"); !ok {
			t.Error("rejected archive must be kept")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		e := NewExtractor(afero.NewMemMapFs(), WithLogger(quietLogger()))
		if _, err := e.Extract(ctx, []string{"/dl/x.zip"}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestMemberPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		member  string
		wantErr bool
	}{
		{"plain", "a.csv", false},
		{"nested", "dir/a.csv", false},
		{"dot segments inside", "dir/../a.csv", false},
		{"parent escape", "../a.csv", true},
		{"deep escape", "dir/../../a.csv", true},
		{"absolute", "/etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := memberPath("/dest", tt.member)
			if (err != nil) != tt.wantErr {
				t.Errorf("memberPath(%q) error = %v, wantErr %v", tt.member, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnsafeMember) {
				t.Errorf("expected ErrUnsafeMember, got %v", err)
			}
		})
	}
}

// TestFindArchivesMissingDir tests that a missing directory has no archives.
func TestFindArchivesMissingDir(t *testing.T) {
	t.Parallel()

	archives, err := FindArchives(afero.NewMemMapFs(), "/nowhere", ".zip")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(archives) != 0 {
		t.Errorf("expected no archives, got %v", archives)
	}
}
