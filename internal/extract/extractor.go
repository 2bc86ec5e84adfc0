package extract

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/model"
)

// ErrUnsafeMember is returned for a zip member that would be written
// outside the destination directory.
var ErrUnsafeMember = errors.New("zip member escapes destination")

// Extractor unpacks archives concurrently.
type Extractor struct {
	fs      afero.Fs
	dest    string
	keep    bool
	workers int
	ledger  *ledger.Ledger
	logger  *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDestination extracts every archive into dir instead of the
// archive's own directory.
func WithDestination(dir string) Option {
	return func(e *Extractor) {
		e.dest = dir
	}
}

// WithKeepArchives disables deleting archives after extraction.
func WithKeepArchives(keep bool) Option {
	return func(e *Extractor) {
		e.keep = keep
	}
}

// WithWorkers sets the number of archives extracted at once.
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLedger sets the ledger failures are recorded in.
func WithLedger(l *ledger.Ledger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.ledger = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExtractor creates an Extractor working on fsys.
func NewExtractor(fsys afero.Fs, opts ...Option) *Extractor {
	e := &Extractor{
		fs:      fsys,
		workers: 4,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ledger == nil {
		e.ledger = ledger.New(nil)
	}
	return e
}

// FindArchives returns every file under dir ending in suffix, sorted.
// A missing dir yields no archives.
func FindArchives(fsys afero.Fs, dir, suffix string) ([]string, error) {
	out := make([]string, 0)
	if ok, err := afero.DirExists(fsys, dir); err == nil && !ok {
		return out, nil
	}
	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, suffix) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("find archives in %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// Extract unpacks every archive. An archive is deleted only after all of
// its members were written, and only when archives are not kept.
// Per-archive failures are recorded in the ledger; only a cancelled ctx is
// returned as an error.
func (e *Extractor) Extract(ctx context.Context, archives []string) (*model.ExtractResult, error) {
	result := &model.ExtractResult{
		Archives:  len(archives),
		StartedAt: time.Now(),
	}
	var mu sync.Mutex

	e.logger.Info("starting extraction",
		"archives", len(archives),
		"workers", e.workers,
		"keep_archives", e.keep)

	var g errgroup.Group
	g.SetLimit(e.workers)

	for _, archive := range archives {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			members, size, err := e.extractOne(archive)
			if err != nil {
				f := model.NewFailure(archive, model.FailureExtract, -1, err)
				e.ledger.Record(f)
				mu.Lock()
				result.Failed++
				result.Failures = append(result.Failures, f)
				mu.Unlock()
				e.logger.Warn("extraction failed", "archive", archive, "error", err)
				return nil
			}

			deleted := false
			if !e.keep {
				if err := e.fs.Remove(archive); err != nil {
					e.logger.Warn("failed to delete archive", "archive", archive, "error", err)
				} else {
					deleted = true
				}
			}

			mu.Lock()
			result.Extracted++
			result.Members += members
			if deleted {
				result.Deleted++
				result.BytesFreed += size
			}
			mu.Unlock()

			e.logger.Debug("archive extracted", "archive", archive, "members", members, "size", humanize.Bytes(uint64(size)))
			return nil
		})
	}

	_ = g.Wait()
	result.FinishedAt = time.Now()

	e.logger.Info("extraction finished",
		"extracted", result.Extracted,
		"failed", result.Failed,
		"deleted", result.Deleted,
		"freed", humanize.Bytes(uint64(result.BytesFreed)))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// extractOne unpacks archive and returns the member count and archive size.
func (e *Extractor) extractOne(archive string) (int, int64, error) {
	f, err := e.fs.Open(archive)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, err
	}

	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return 0, 0, fmt.Errorf("open zip: %w", err)
	}

	dest := e.dest
	if dest == "" {
		dest = filepath.Dir(archive)
	}
	if err := e.fs.MkdirAll(dest, 0o755); err != nil {
		return 0, 0, err
	}

	members := 0
	for _, zf := range zr.File {
		target, err := memberPath(dest, zf.Name)
		if err != nil {
			return members, 0, err
		}

		if zf.FileInfo().IsDir() {
			if err := e.fs.MkdirAll(target, 0o755); err != nil {
				return members, 0, err
			}
			continue
		}

		if err := e.writeMember(zf, target); err != nil {
			return members, 0, fmt.Errorf("extract %s: %w", zf.Name, err)
		}
		members++
	}

	return members, info.Size(), nil
}

func (e *Extractor) writeMember(zf *zip.File, target string) error {
	if err := e.fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := e.fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = e.fs.Remove(target)
		return err
	}
	return out.Close()
}

// memberPath joins name onto dest and rejects names that escape dest.
func memberPath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeMember, name)
	}
	return target, nil
}
