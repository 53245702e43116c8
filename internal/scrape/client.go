// SPDX-License-Identifier: MIT

package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/kaedera/anigate/internal/metrics"
	"github.com/kaedera/anigate/internal/resilience"
)

// maxResponseBytes caps provider responses; descriptors are small JSON.
const maxResponseBytes = 4 << 20

// Provider is the discovery API surface. Every method returns the opaque
// JSON descriptor the provider produced.
type Provider interface {
	Servers(ctx context.Context, episodeID string) (json.RawMessage, error)
	Sources(ctx context.Context, episodeID, category, server string) (json.RawMessage, error)
	Anime(ctx context.Context, id string) (json.RawMessage, error)
	Search(ctx context.Context, q string) (json.RawMessage, error)
	Home(ctx context.Context) (json.RawMessage, error)
}

// ClientOptions configures the HTTP provider client.
type ClientOptions struct {
	// Timeout bounds each provider call. Defaults to 10s.
	Timeout time.Duration
	// UserAgent sent on every request.
	UserAgent string
	// BreakerThreshold and BreakerCooldown tune the circuit breaker;
	// zero values take the breaker defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client talks to the discovery REST API. All calls run through a circuit
// breaker so a dead provider fails fast instead of holding request slots.
type Client struct {
	base    string
	http    *http.Client
	breaker *resilience.Breaker
	ua      string
	timeout time.Duration
}

// NewClient builds a provider client for the given base URL.
func NewClient(base string, opts ClientOptions) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			// The transport-level timeout stays above the per-op context
			// deadline so the context is always the one that fires.
			Timeout: timeout + 5*time.Second,
		},
		breaker: resilience.NewBreaker("provider", opts.BreakerThreshold, opts.BreakerCooldown),
		ua:      opts.UserAgent,
		timeout: timeout,
	}
}

// BreakerState exposes the breaker state for readiness checks.
func (c *Client) BreakerState() string {
	return string(c.breaker.State())
}

func (c *Client) Servers(ctx context.Context, episodeID string) (json.RawMessage, error) {
	q := url.Values{"animeEpisodeId": {episodeID}}
	return c.get(ctx, "servers", "/episode/servers?"+q.Encode())
}

func (c *Client) Sources(ctx context.Context, episodeID, category, server string) (json.RawMessage, error) {
	q := url.Values{
		"animeEpisodeId": {episodeID},
		"category":       {category},
		"server":         {server},
	}
	return c.get(ctx, "sources", "/episode/sources?"+q.Encode())
}

func (c *Client) Anime(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "anime", "/anime/"+url.PathEscape(id))
}

func (c *Client) Search(ctx context.Context, query string) (json.RawMessage, error) {
	// Providers index NFC; composed and decomposed forms of the same title
	// must hit the same results.
	q := url.Values{"q": {norm.NFC.String(query)}}
	return c.get(ctx, "search", "/search?"+q.Encode())
}

func (c *Client) Home(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "home", "/home")
}

// get performs one provider call through the breaker. 4xx responses count
// as provider-healthy (the breaker sees success) but still error out.
func (c *Client) get(ctx context.Context, op, path string) (json.RawMessage, error) {
	start := time.Now()

	var out json.RawMessage
	var opErr error

	err := c.breaker.Execute(func() error {
		body, status, err := c.do(ctx, op, path)
		if err != nil {
			return err
		}
		switch {
		case status >= 500:
			return &ScrapeError{Op: op, Status: status, Err: ErrProviderError}
		case status == http.StatusNotFound:
			opErr = &ScrapeError{Op: op, Status: status, Err: ErrNotFound}
			return nil
		case status >= 400:
			opErr = &ScrapeError{Op: op, Status: status, Err: fmt.Errorf("provider rejected request")}
			return nil
		}

		data, err := extractData(body)
		if err != nil {
			return &ScrapeError{Op: op, Status: status, Err: err}
		}
		out = data
		return nil
	})

	if err == nil && opErr != nil {
		err = opErr
	}
	metrics.RecordScrape(op, err, time.Since(start))

	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return nil, &ScrapeError{Op: op, Err: err}
		}
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, path string) ([]byte, int, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(opCtx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, 0, &ScrapeError{Op: op, Err: err}
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &ScrapeError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, 0, &ScrapeError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if len(body) > maxResponseBytes {
		return nil, 0, &ScrapeError{Op: op, Status: resp.StatusCode, Err: ErrBadResponse}
	}
	return body, resp.StatusCode, nil
}

// extractData unwraps the provider's {data: ...} envelope when present and
// returns the raw body otherwise.
func extractData(body []byte) (json.RawMessage, error) {
	if !json.Valid(body) {
		return nil, ErrBadResponse
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		return env.Data, nil
	}
	return json.RawMessage(body), nil
}
