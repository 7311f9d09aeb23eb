package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Common errors.
var (
	ErrNotFound         = errors.New("http: resource not found")
	ErrForbidden        = errors.New("http: access forbidden")
	ErrUnauthorized     = errors.New("http: unauthorized")
	ErrServerError      = errors.New("http: server error")
	ErrUnexpectedStatus = errors.New("http: unexpected status code")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout bounds connecting and waiting for response headers. Reading
	// a body has no overall deadline so large objects can stream.
	// Default: 10s
	Timeout time.Duration

	// Proxy is an http, https or socks5 proxy URL. When set, proxy
	// settings from the environment are ignored.
	Proxy string

	// VerifyTLS enables certificate verification. Bucket auditing
	// frequently hits self-signed or misconfigured endpoints, so it is
	// off unless requested.
	VerifyTLS bool

	// RetryAttempts is the maximum number of retry attempts for server
	// errors and transport failures.
	// Default: 0
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             10 * time.Second,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
	}
}

// StatusError is returned for non-2xx responses. It unwraps to one of the
// package sentinel errors.
type StatusError struct {
	URL        string
	StatusCode int
	err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: GET %s: status %d", e.err, e.URL, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.err
}

// Response is a successful GET response. Callers must close Body.
type Response struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// Client is an HTTP client shared by all bucket adapters and download
// workers. It is safe for concurrent use.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) (*Client, error) {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}

	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !opts.VerifyTLS, //nolint:gosec // auditing misconfigured endpoints
		},
	}

	if opts.Proxy != "" {
		proxyURL, err := parseProxy(opts.Proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}, nil
}

// HTTPClient returns the underlying client so SDK-based adapters share the
// same proxy, TLS and timeout settings.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// Get performs a GET request and returns the response if the status code is
// 2xx. header may be nil.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{URL: rawURL, StatusCode: resp.StatusCode, err: ErrServerError}
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, err: err}
		}

		return &Response{
			Body:          resp.Body,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentLength: resp.ContentLength,
		}, nil
	}

	if c.opts.RetryAttempts == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}

// StatusCode extracts the HTTP status code from err, or 0 if err does not
// carry one.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return ErrUnexpectedStatus
	}
}

func parseProxy(raw string) (*url.URL, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy %q has no host", raw)
	}
	return u, nil
}
