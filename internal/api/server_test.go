// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaedera/anigate/internal/cache"
	"github.com/kaedera/anigate/internal/config"
	"github.com/kaedera/anigate/internal/fetch"
	"github.com/kaedera/anigate/internal/guard"
	"github.com/kaedera/anigate/internal/health"
	"github.com/kaedera/anigate/internal/scrape"
	"github.com/kaedera/anigate/internal/sign"
)

// testHost is the Host header every test request carries. It keeps the
// loopback test origins from tripping the self-host rule, which compares
// the origin hostname against the incoming Host header.
const testHost = "anigate.test"

type fixture struct {
	api    *httptest.Server
	origin *httptest.Server
	broker *sign.Broker
	tiers  *cache.Tiered
	cfg    config.Config
}

type fixtureOptions struct {
	signing  bool
	origin   http.Handler
	provider scrape.Provider
	mutate   func(*config.Config)
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.PublicHost = testHost
	if fo.mutate != nil {
		fo.mutate(&cfg)
	}

	g, err := guard.New(guard.Config{
		SelfHosts:  []string{testHost},
		AllowCIDRs: []string{"127.0.0.0/8"},
	})
	require.NoError(t, err)

	fetcher := fetch.New(fetch.Options{
		UserAgent:   cfg.Proxy.UserAgent,
		TextTimeout: 500 * time.Millisecond,
		MaxTimeout:  1500 * time.Millisecond,
	}, g)
	t.Cleanup(fetcher.CloseIdle)

	tiers := cache.NewTiered(cache.NewMemoryCache(1<<20, 0), nil)
	t.Cleanup(func() { _ = tiers.Close() })

	f := &fixture{tiers: tiers, cfg: cfg}

	if fo.origin != nil {
		f.origin = httptest.NewServer(fo.origin)
		t.Cleanup(f.origin.Close)
	}

	deps := Deps{
		Guard:   g,
		Fetcher: fetcher,
		Tiers:   tiers,
		Health:  health.NewManager("test"),
	}

	if fo.signing {
		f.broker = sign.New([]byte("0123456789abcdef0123456789abcdef"), time.Minute, 1000)
		deps.Broker = f.broker
	}

	if fo.provider != nil {
		store, serr := scrape.OpenStore(t.TempDir(), 7*24*time.Hour)
		require.NoError(t, serr)
		t.Cleanup(func() { _ = store.Close() })

		svc := scrape.NewService(store, nil,
			func() (scrape.Provider, error) { return fo.provider, nil },
			scrape.ServiceOptions{FreshFor: 30 * time.Minute})
		pre := scrape.NewPrewarmer(svc, scrape.PrewarmerOptions{Workers: 1})
		t.Cleanup(pre.Stop)

		deps.Scraper = svc
		deps.Prewarmer = pre
	}

	srv := New(cfg, deps)
	f.api = httptest.NewServer(srv.Handler())
	t.Cleanup(f.api.Close)

	return f
}

// get issues a request against the API under test with the fixed Host
// header. The caller owns nothing; the body is closed at test cleanup.
func (f *fixture) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, f.api.URL+path, body)
	require.NoError(t, err)
	req.Host = testHost

	res, err := f.api.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	return f.do(t, http.MethodGet, path, nil)
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

// errMessage decodes the error envelope.
func errMessage(t *testing.T, res *http.Response) string {
	t.Helper()
	var env struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return env.Error
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	res := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, readBody(t, res), `"status"`)

	res = f.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	res := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, readBody(t, res), "anigate_")
}

func TestPreflightShortCircuits(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	req, err := http.NewRequest(http.MethodOptions, f.api.URL+"/m3u8", nil)
	require.NoError(t, err)
	req.Host = testHost
	req.Header.Set("Origin", "https://player.example")

	res, err := f.api.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, res.Header.Get("Access-Control-Allow-Methods"), "GET")
}

func TestCrossCuttingHeaders(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	res := f.get(t, "/healthz")
	assert.NotEmpty(t, res.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", res.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func TestServerStartAndShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Listen = "127.0.0.1:0"

	g, err := guard.New(guard.Config{AllowCIDRs: []string{"127.0.0.0/8"}})
	require.NoError(t, err)
	fetcher := fetch.New(fetch.Options{}, g)
	defer fetcher.CloseIdle()
	tiers := cache.NewTiered(cache.NewMemoryCache(1<<20, 0), nil)
	defer tiers.Close()

	srv := New(cfg, Deps{
		Guard:   g,
		Fetcher: fetcher,
		Tiers:   tiers,
		Health:  health.NewManager("test"),
	})

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	// Start binds asynchronously; shutdown must terminate it either way.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case serr := <-errc:
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			t.Fatalf("unexpected serve error: %v", serr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}
