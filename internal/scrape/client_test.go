// SPDX-License-Identifier: MIT

package scrape

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaedera/anigate/internal/resilience"
)

func TestClientServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/episode/servers", r.URL.Path)
		assert.Equal(t, "solo-leveling-18718?ep=94", r.URL.Query().Get("animeEpisodeId"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "anigate-test", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":200,"data":{"sub":[{"serverName":"hd-1"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{UserAgent: "anigate-test"})

	data, err := c.Servers(context.Background(), "solo-leveling-18718?ep=94")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sub":[{"serverName":"hd-1"}]}`, string(data))
}

func TestClientSources(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/episode/sources", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "ep-1", q.Get("animeEpisodeId"))
		assert.Equal(t, "dub", q.Get("category"))
		assert.Equal(t, "hd-2", q.Get("server"))

		_, _ = w.Write([]byte(`{"data":{"sources":[{"url":"https://cdn.example/master.m3u8"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	data, err := c.Sources(context.Background(), "ep-1", "dub", "hd-2")
	require.NoError(t, err)
	assert.Contains(t, string(data), "master.m3u8")
}

func TestClientAnime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/anime/solo-leveling-18718", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"info":{"name":"Solo Leveling"}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	data, err := c.Anime(context.Background(), "solo-leveling-18718")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Solo Leveling")
}

func TestClientSearchNormalizesNFC(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		_, _ = w.Write([]byte(`{"data":{"animes":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	// Decomposed e + combining acute must reach the provider composed.
	_, err := c.Search(context.Background(), "Pokémon")
	require.NoError(t, err)
	assert.Equal(t, "Pokémon", gotQuery)
}

func TestClientNoEnvelopePassesBodyThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"animes":[{"id":"one-piece-100"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	data, err := c.Home(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"animes":[{"id":"one-piece-100"}]}`, string(data))
}

func TestClientInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	_, err := c.Home(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestClientProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	_, err := c.Servers(context.Background(), "ep-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderError)

	var se *ScrapeError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "servers", se.Op)
	assert.Equal(t, http.StatusBadGateway, se.Status)
}

func TestClientNotFoundDoesNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 5 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{BreakerThreshold: 3})

	// Five 404s exceed the failure threshold but are provider-healthy
	// responses, so the breaker must stay closed.
	for i := 0; i < 5; i++ {
		_, err := c.Anime(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	_, err := c.Anime(context.Background(), "found")
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls.Load(), "all calls must reach the provider")
}

func TestClientBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{BreakerThreshold: 3})

	for i := 0; i < 3; i++ {
		_, err := c.Home(context.Background())
		assert.ErrorIs(t, err, ErrProviderError)
	}

	// Breaker is open now: the call fails fast without a request.
	_, err := c.Home(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrOpen)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "open", c.BreakerState())
}

func TestClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.Home(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClientRespectsCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, ClientOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Home(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
