// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

// Package proxy fetches third-party pages and relays them with the
// headers that prevent framing removed.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// DefaultUserAgent is sent upstream in place of the client's agent.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// DefaultTimeout bounds one fetch including retries.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxBodySize caps the relayed body.
	DefaultMaxBodySize int64 = 10 << 20
)

var (
	// ErrInvalidURL is returned for targets that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid target URL")

	// ErrBodyTooLarge is returned when the upstream body exceeds the limit.
	ErrBodyTooLarge = errors.New("upstream body too large")
)

// scrubbed lists the response headers never relayed to the client.
var scrubbed = []string{
	"X-Frame-Options",
	"Permissions-Policy",
	"Strict-Transport-Security",
	"Report-To",
	"Nel",
	"Surrogate-Control",
	"Surrogate-Key",
	// hop-by-hop and framing, recomputed by the relay
	"Connection",
	"Keep-Alive",
	"Transfer-Encoding",
	"Content-Length",
}

var frameAncestors = regexp.MustCompile(`frame-ancestors [^;]+;?`)

// Response is an upstream answer ready to be relayed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type options struct {
	userAgent   string
	timeout     time.Duration
	retries     int
	maxBodySize int64
}

// Option configures a Fetcher.
type Option func(*options)

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithTimeout sets the timeout of a fetch.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetries sets the number of retries on connection errors.
func WithRetries(n int) Option {
	return func(o *options) {
		o.retries = n
	}
}

// WithMaxBodySize sets the largest upstream body that is relayed.
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		o.maxBodySize = n
	}
}

// Fetcher performs GET requests on behalf of clients.
type Fetcher struct {
	opts   options
	client *retryablehttp.Client
}

// New returns a Fetcher.
func New(opts ...Option) *Fetcher {
	o := options{
		userAgent:   DefaultUserAgent,
		timeout:     DefaultTimeout,
		retries:     1,
		maxBodySize: DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = o.retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.Logger = nil
	// Upstream error statuses are relayed as-is; only transport
	// failures are retried.
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Fetcher{opts: o, client: client}
}

// Fetch retrieves rawURL and returns the response with the framing
// headers scrubbed.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.opts.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > f.opts.maxBodySize {
		return nil, ErrBodyTooLarge
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     ScrubHeaders(resp.Header),
		Body:       body,
	}, nil
}

// Relay writes the response to w. Upstream headers replace any
// value already set on w under the same name.
func (r *Response) Relay(w http.ResponseWriter) error {
	for k, vs := range r.Header {
		w.Header().Del(k)
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

// ScrubHeaders returns a copy of h without the headers that prevent
// the page from being framed, and with the frame-ancestors directive
// removed from the content security policy.
func ScrubHeaders(h http.Header) http.Header {
	out := h.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, k := range scrubbed {
		out.Del(k)
	}

	const cspKey = "Content-Security-Policy"
	if csp := out.Values(cspKey); len(csp) > 0 {
		out.Del(cspKey)
		for _, v := range csp {
			if v = StripFrameAncestors(v); v != "" {
				out.Add(cspKey, v)
			}
		}
	}
	return out
}

// StripFrameAncestors removes the first frame-ancestors directive
// from a content security policy.
func StripFrameAncestors(csp string) string {
	loc := frameAncestors.FindStringIndex(csp)
	if loc == nil {
		return csp
	}
	return strings.TrimSpace(csp[:loc[0]] + csp[loc[1]:])
}
