package listing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/bucketcrawl/internal/model"
	"github.com/nao1215/bucketcrawl/internal/transport"
)

// Cursor addresses one page of a prefix listing.
// The zero Cursor is page 1.
type Cursor struct {
	// Marker is the key after which the listing resumes.
	Marker string
	// Page is the 1-based page number.
	Page int
}

// Fetcher retrieves raw listing documents over HTTP.
// It is safe for concurrent use by multiple workers.
type Fetcher struct {
	client      *http.Client
	baseURL     string
	userAgent   string
	policy      transport.Policy
	limiter     *rate.Limiter
	maxBodySize int64
	logger      *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithRetryPolicy sets the retry count and first backoff interval.
func WithRetryPolicy(p transport.Policy) FetcherOption {
	return func(f *Fetcher) {
		f.policy = p
	}
}

// WithRateLimiter makes every attempt wait on l first.
// The limiter may be shared with other fetchers and downloaders.
func WithRateLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

// WithMaxBodySize limits the size of one listing response.
// Zero or negative disables the limit.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *Fetcher) {
		f.maxBodySize = n
	}
}

// WithLogger sets the logger used for per-attempt diagnostics.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a Fetcher for the listing endpoint baseURL.
//
// In query mode baseURL ends with a query such as "?delimiter=/&prefix="
// and the prefix is appended verbatim. In path mode baseURL has no query
// and the prefix is appended as a path. The client should come from
// transport.NewClient so that each attempt is bounded by a timeout.
func NewFetcher(client *http.Client, baseURL string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      client,
		baseURL:     baseURL,
		userAgent:   "bucketcrawl",
		policy:      transport.Policy{Retries: 3, Backoff: 500 * time.Millisecond},
		maxBodySize: 16 * 1024 * 1024,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// BuildURL returns the listing URL for prefix resuming after marker.
func (f *Fetcher) BuildURL(prefix, marker string) string {
	u := f.baseURL + prefix
	if marker == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "marker=" + url.QueryEscape(marker)
}

// Fetch retrieves one page of the listing for prefix.
//
// Transport errors and non-2xx responses are retried according to the
// retry policy. When every attempt fails, or ctx ends, the returned error
// is a *FetchError. A response larger than the body limit fails at once.
func (f *Fetcher) Fetch(ctx context.Context, prefix string, cur Cursor) (*model.ListingDocument, error) {
	listURL := f.BuildURL(prefix, cur.Marker)

	var (
		body   []byte
		status int
	)
	attempts, err := f.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := transport.WaitLimiter(ctx, f.limiter); err != nil {
			return transport.Permanent(err)
		}

		b, code, err := f.get(ctx, listURL)
		status = code
		if err != nil {
			f.logger.Debug("listing attempt failed",
				"prefix", prefix,
				"attempt", attempt,
				"status", code,
				"error", err)
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, &FetchError{
			Prefix:     prefix,
			URL:        listURL,
			StatusCode: status,
			Attempts:   attempts,
			Err:        err,
		}
	}

	doc := model.NewListingDocument(prefix, listURL, body)
	if cur.Page > 1 {
		doc.Page = cur.Page
	}
	return doc, nil
}

// get performs a single attempt.
func (f *Fetcher) get(ctx context.Context, listURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, 0, transport.Permanent(err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/xml,text/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, resp.StatusCode, &transport.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	reader := io.Reader(resp.Body)
	if f.maxBodySize > 0 {
		reader = io.LimitReader(resp.Body, f.maxBodySize+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if f.maxBodySize > 0 && int64(len(body)) > f.maxBodySize {
		return nil, resp.StatusCode, transport.Permanent(fmt.Errorf("%w: more than %d bytes", transport.ErrBodyTooLarge, f.maxBodySize))
	}

	return body, resp.StatusCode, nil
}

// IsFetchError reports whether err is a terminal fetch failure.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
