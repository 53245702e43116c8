// SPDX-License-Identifier: MIT

// Package fetch is the outbound HTTP client for origin servers. It sends
// browser-shaped requests, re-validates every redirect hop, retries
// transient text failures and paces the outbound request rate.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/kaedera/anigate/internal/guard"
	"github.com/kaedera/anigate/internal/log"
)

// ErrTimeout reports an upstream that did not answer within its deadline.
var ErrTimeout = errors.New("fetch: upstream timeout")

// ErrTextTooLarge reports a text body over the sanity limit. Playlists and
// manifests are small; anything bigger is not worth rewriting.
var ErrTextTooLarge = errors.New("fetch: text body too large")

// maxTextBytes caps buffered text bodies.
const maxTextBytes = 8 << 20

// textAttempts is the total try count for text fetches (one initial plus
// two retries).
const textAttempts = 3

// retryBackoff is the initial delay between text attempts; it doubles each
// retry.
const retryBackoff = 200 * time.Millisecond

// UpstreamError carries a non-2xx origin status for the API layer to mirror.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("fetch: upstream status %d", e.Status)
}

// Options configures the client.
type Options struct {
	UserAgent     string
	TextTimeout   time.Duration // per-attempt deadline for text fetches
	BinaryTimeout time.Duration // response-header deadline for streams
	MaxTimeout    time.Duration // overall budget across text retries
	MaxRedirects  int
	RPS           float64 // outbound pacing; 0 disables
	Burst         int
}

// Meta is the upstream response envelope shared by both fetch modes.
type Meta struct {
	Status        int
	ContentType   string
	ContentLength int64
	ContentRange  string
	FinalURL      *url.URL // post-redirect URL; relative references resolve against it
}

// Text is a fully buffered upstream response.
type Text struct {
	Meta
	Body []byte
}

// Stream is an unbuffered upstream response. The caller owns Body.
type Stream struct {
	Meta
	Body io.ReadCloser
}

// Request names an upstream fetch. URL must be absolute and already
// validated; the dialer and redirect checks remain as backstops.
type Request struct {
	URL     string
	Method  string // GET when empty; HEAD passes through for streams
	Referer string
	Range   string // forwarded verbatim for streams
}

// Client is safe for concurrent use.
type Client struct {
	http    *http.Client
	opts    Options
	limiter *rate.Limiter
}

// New builds the client around g's dial and redirect guards.
func New(opts Options, g *guard.Guard) *Client {
	if opts.TextTimeout <= 0 {
		opts.TextTimeout = 8 * time.Second
	}
	if opts.BinaryTimeout <= 0 {
		opts.BinaryTimeout = 12 * time.Second
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 30 * time.Second
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   g.DialControl,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: opts.BinaryTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Client{
		http: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= opts.MaxRedirects {
					return fmt.Errorf("stopped after %d redirects", opts.MaxRedirects)
				}
				return g.ValidateRedirect(req.Context(), req.URL)
			},
		},
		opts:    opts,
		limiter: limiter,
	}
}

// Text fetches and buffers a text resource (playlist, manifest, subtitle,
// provider JSON). Transient failures are retried within the overall budget;
// origin 4xx statuses are returned immediately as UpstreamError.
func (c *Client) Text(ctx context.Context, req Request) (*Text, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.MaxTimeout)
	defer cancel()

	logger := log.FromContext(ctx)
	backoff := retryBackoff

	var lastErr error
	for attempt := 1; attempt <= textAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, c.mapErr(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		res, retry, err := c.textAttempt(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("event", "fetch.retry").
			Msg("upstream text fetch failed")
	}
	return nil, lastErr
}

// textAttempt performs one buffered fetch. retry reports whether the
// failure is worth another attempt.
func (c *Client) textAttempt(ctx context.Context, req Request) (res *Text, retry bool, err error) {
	if err := c.wait(ctx); err != nil {
		return nil, false, c.mapErr(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.TextTimeout)
	defer cancel()

	hreq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		mapped := c.mapErr(err)
		// Cancellation and policy rejections are final; network hiccups
		// and per-attempt timeouts are not.
		retry := !errors.Is(mapped, context.Canceled) && !errors.Is(mapped, guard.ErrForbidden)
		return nil, retry, mapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		uerr := &UpstreamError{Status: resp.StatusCode}
		return nil, resp.StatusCode >= 500, uerr
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxTextBytes+1))
	if err != nil {
		return nil, true, c.mapErr(err)
	}
	if n > maxTextBytes {
		return nil, false, ErrTextTooLarge
	}

	return &Text{Meta: metaFrom(resp), Body: buf.Bytes()}, false, nil
}

// Stream opens a binary resource without buffering. Range headers forward
// verbatim so partial-content semantics pass through untouched.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	if err := c.wait(ctx); err != nil {
		return nil, c.mapErr(err)
	}

	hreq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(hreq)
	if err != nil {
		return nil, c.mapErr(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode}
	}

	return &Stream{Meta: metaFrom(resp), Body: resp.Body}, nil
}

// CloseIdle releases pooled upstream connections.
func (c *Client) CloseIdle() {
	c.http.CloseIdleConnections()
}

func (c *Client) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}

	ua := c.opts.UserAgent
	if ua == "" {
		ua = "Mozilla/5.0"
	}
	hreq.Header.Set("User-Agent", ua)
	hreq.Header.Set("Accept", "*/*")
	hreq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	if req.Referer != "" {
		hreq.Header.Set("Referer", req.Referer)
		if origin := originOf(req.Referer); origin != "" {
			hreq.Header.Set("Origin", origin)
		}
	}
	if stream {
		// Segments must arrive byte-exact; transparent gzip would break
		// Range math on the way through.
		hreq.Header.Set("Accept-Encoding", "identity")
		if req.Range != "" {
			hreq.Header.Set("Range", req.Range)
		}
	}
	return hreq, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) mapErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return context.Canceled
	default:
		return err
	}
}

func metaFrom(resp *http.Response) Meta {
	return Meta{
		Status:        resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		FinalURL:      resp.Request.URL,
	}
}

func originOf(referer string) string {
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// drain empties a body so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}
