package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// Options configures NewClient.
type Options struct {
	// Timeout bounds each attempt. It is applied to dialing, the TLS
	// handshake and the wait for response headers. Unless Streaming is set
	// it also bounds the whole exchange through http.Client.Timeout;
	// with Streaming it bounds every gap between body reads instead.
	Timeout time.Duration

	// ProxyURL routes requests through a socks5 or http(s) proxy.
	ProxyURL string

	// Streaming lifts the bound on the whole exchange, for large archive
	// downloads that outlast Timeout. A body that stops delivering data
	// for Timeout is still aborted with ErrIdleTimeout.
	Streaming bool

	// MaxConnsPerHost caps parallel connections to one host.
	// Zero leaves it to the worker pool size.
	MaxConnsPerHost int
}

// NewClient builds an *http.Client for the given options.
func NewClient(opts Options) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}

	if opts.ProxyURL != "" {
		if err := configureProxy(transport, dialer, opts.ProxyURL); err != nil {
			return nil, err
		}
	}

	var rt http.RoundTripper = transport
	if opts.Streaming && opts.Timeout > 0 {
		rt = &idleTimeoutTransport{base: transport, timeout: opts.Timeout}
	}

	client := &http.Client{
		Transport: rt,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	if !opts.Streaming {
		client.Timeout = opts.Timeout
	}

	return client, nil
}

// configureProxy installs a proxy on transport.
// socks5 proxies replace the dialer; http(s) proxies use the standard
// CONNECT path of http.Transport.
func configureProxy(transport *http.Transport, dialer *net.Dialer, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProxy, raw)
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
		return nil
	case "socks5", "socks5h":
		d, err := proxy.FromURL(u, dialer)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidProxy, err)
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return d.Dial(network, addr)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidProxy, u.Scheme)
	}
}
