package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nao1215/bucketcrawl/internal/ledger"
	"github.com/nao1215/bucketcrawl/internal/model"
	"github.com/nao1215/bucketcrawl/internal/transport"
)

const partSuffix = ".part"

// Status is the per-key result reported to a progress callback.
type Status int

const (
	// StatusDownloaded means the archive was fetched and stored.
	StatusDownloaded Status = iota
	// StatusSkipped means the local file already existed.
	StatusSkipped
	// StatusFailed means the key failed and was recorded in the ledger.
	StatusFailed
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDownloaded:
		return "downloaded"
	case StatusSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Downloader downloads archive keys concurrently.
type Downloader struct {
	client         *http.Client
	fs             afero.Fs
	baseURL        string
	dir            string
	userAgent      string
	policy         transport.Policy
	limiter        *rate.Limiter
	workers        int
	verify         bool
	checksumSuffix string
	ledger         *ledger.Ledger
	logger         *slog.Logger
	progress       func(key string, status Status)
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithWorkers sets the number of concurrent downloads.
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// WithRetryPolicy sets the retry count and first backoff interval.
func WithRetryPolicy(p transport.Policy) Option {
	return func(d *Downloader) {
		d.policy = p
	}
}

// WithRateLimiter makes every attempt wait on l first.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(d *Downloader) {
		d.limiter = l
	}
}

// WithChecksumVerification fetches key+suffix for every archive and
// compares its SHA-256 digest to the downloaded bytes.
func WithChecksumVerification(suffix string) Option {
	return func(d *Downloader) {
		d.verify = suffix != ""
		d.checksumSuffix = suffix
	}
}

// WithLedger sets the ledger failures are recorded in.
func WithLedger(l *ledger.Ledger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.ledger = l
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithProgress registers fn to be called once per key as it resolves.
// fn may be called from several goroutines at once.
func WithProgress(fn func(key string, status Status)) Option {
	return func(d *Downloader) {
		d.progress = fn
	}
}

// NewDownloader creates a Downloader that fetches baseURL+key into dir on fsys.
// The client should be created with transport.Options.Streaming set so that
// large bodies are not cut off by the client timeout.
func NewDownloader(client *http.Client, fsys afero.Fs, baseURL, dir string, opts ...Option) *Downloader {
	d := &Downloader{
		client:    client,
		fs:        fsys,
		baseURL:   baseURL,
		dir:       dir,
		userAgent: "bucketcrawl",
		policy:    transport.Policy{Retries: 3, Backoff: 500 * time.Millisecond},
		workers:   8,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.ledger == nil {
		d.ledger = ledger.New(nil)
	}

	return d
}

// LocalPath returns the path key is stored at.
func (d *Downloader) LocalPath(key string) (string, error) {
	path := filepath.Join(d.dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(d.dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafeKey, key)
	}
	return path, nil
}

// Download fetches every key. Per-key failures are recorded in the ledger
// and counted in the result; only a cancelled ctx is returned as an error.
func (d *Downloader) Download(ctx context.Context, keys []string) (*model.DownloadResult, error) {
	result := &model.DownloadResult{
		Requested: len(keys),
		StartedAt: time.Now(),
	}
	var mu sync.Mutex

	d.logger.Info("starting downloads",
		"keys", len(keys),
		"workers", d.workers,
		"dir", d.dir)

	var g errgroup.Group
	g.SetLimit(d.workers)

	for _, key := range keys {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			status, n, kind, err := d.downloadOne(ctx, key)

			mu.Lock()
			switch status {
			case StatusDownloaded:
				result.Downloaded++
				result.Bytes += n
			case StatusSkipped:
				result.Skipped++
			case StatusFailed:
				result.Failed++
			}
			mu.Unlock()

			if status == StatusFailed {
				f := model.NewFailure(key, kind, -1, err)
				d.ledger.Record(f)
				mu.Lock()
				result.Failures = append(result.Failures, f)
				mu.Unlock()
				d.logger.Warn("download failed", "key", key, "kind", kind.String(), "error", err)
			} else {
				d.logger.Debug("download resolved", "key", key, "status", status.String(), "size", humanize.Bytes(uint64(n)))
			}

			if d.progress != nil {
				d.progress(key, status)
			}
			return nil
		})
	}

	_ = g.Wait()
	result.FinishedAt = time.Now()

	d.logger.Info("downloads finished",
		"downloaded", result.Downloaded,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"bytes", humanize.Bytes(uint64(result.Bytes)),
		"duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// downloadOne resolves one key.
func (d *Downloader) downloadOne(ctx context.Context, key string) (Status, int64, model.FailureKind, error) {
	path, err := d.LocalPath(key)
	if err != nil {
		return StatusFailed, 0, model.FailureDownload, err
	}

	if _, err := d.fs.Stat(path); err == nil {
		return StatusSkipped, 0, 0, nil
	}

	if err := d.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StatusFailed, 0, model.FailureIO, err
	}

	part := path + partSuffix
	var (
		n      int64
		digest string
	)
	_, err = d.policy.Do(ctx, func(ctx context.Context, _ int) error {
		var err error
		n, digest, err = d.fetchTo(ctx, d.baseURL+key, part)
		return err
	})
	if err != nil {
		_ = d.fs.Remove(part)
		return StatusFailed, 0, model.FailureDownload, err
	}

	if d.verify {
		if err := d.verifyChecksum(ctx, key, digest); err != nil {
			_ = d.fs.Remove(part)
			return StatusFailed, 0, model.FailureChecksum, err
		}
	}

	if err := d.fs.Rename(part, path); err != nil {
		_ = d.fs.Remove(part)
		return StatusFailed, 0, model.FailureIO, err
	}

	return StatusDownloaded, n, 0, nil
}

// fetchTo streams url into path and returns the byte count and hex SHA-256.
func (d *Downloader) fetchTo(ctx context.Context, url, path string) (int64, string, error) {
	if err := transport.WaitLimiter(ctx, d.limiter); err != nil {
		return 0, "", transport.Permanent(err)
	}

	resp, err := d.get(ctx, url)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	f, err := d.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, "", transport.Permanent(err)
	}

	h := sha256.New()
	n, copyErr := io.Copy(io.MultiWriter(f, h), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		return 0, "", fmt.Errorf("read body: %w", copyErr)
	}
	if closeErr != nil {
		return 0, "", transport.Permanent(closeErr)
	}

	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// verifyChecksum fetches the sidecar of key and compares digests.
func (d *Downloader) verifyChecksum(ctx context.Context, key, actual string) error {
	var body []byte
	_, err := d.policy.Do(ctx, func(ctx context.Context, _ int) error {
		if err := transport.WaitLimiter(ctx, d.limiter); err != nil {
			return transport.Permanent(err)
		}
		resp, err := d.get(ctx, d.baseURL+key+d.checksumSuffix)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch checksum: %w", err)
	}

	expected, err := ParseChecksum(body)
	if err != nil {
		return err
	}
	if expected != actual {
		return &ChecksumError{Key: key, Expected: expected, Actual: actual}
	}
	return nil
}

// get issues a GET and converts non-2xx responses to errors.
// A 404 is permanent: the object does not exist.
func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, transport.Permanent(err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		serr := &transport.StatusError{Code: resp.StatusCode, Status: resp.Status}
		if resp.StatusCode == http.StatusNotFound {
			return nil, transport.Permanent(serr)
		}
		return nil, serr
	}
	return resp, nil
}

// IsChecksumError reports whether err is a digest mismatch.
func IsChecksumError(err error) bool {
	var ce *ChecksumError
	return errors.As(err, &ce)
}
