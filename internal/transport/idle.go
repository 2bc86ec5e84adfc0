package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// idleTimeoutTransport bounds the gaps between body reads of every
// response. A body that delivers no data for timeout is aborted and its
// reads fail with ErrIdleTimeout.
type idleTimeoutTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *idleTimeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithCancel(req.Context())
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}

	body := &idleTimeoutBody{
		rc:      resp.Body,
		timeout: t.timeout,
		cancel:  cancel,
	}
	body.timer = time.AfterFunc(t.timeout, body.expire)
	resp.Body = body
	return resp, nil
}

// idleTimeoutBody cancels its request when the timer runs out between reads.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	cancel  context.CancelFunc
	timer   *time.Timer

	mu      sync.Mutex
	expired bool
}

func (b *idleTimeoutBody) expire() {
	b.mu.Lock()
	b.expired = true
	b.mu.Unlock()
	b.cancel()
}

func (b *idleTimeoutBody) isExpired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expired
}

// Read reads from the body and restarts the idle timer on progress.
func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	if b.isExpired() {
		return 0, b.idleErr()
	}
	n, err := b.rc.Read(p)
	if b.isExpired() {
		return n, b.idleErr()
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

// Close stops the timer and releases the request.
func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	err := b.rc.Close()
	b.cancel()
	return err
}

func (b *idleTimeoutBody) idleErr() error {
	return fmt.Errorf("%w: no data for %s", ErrIdleTimeout, b.timeout)
}
