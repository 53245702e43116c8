// SPDX-License-Identifier: MIT
package middleware

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/kaedera/anigate/internal/telemetry"
)

func setupNoopTracing(t *testing.T) {
	t.Helper()
	_, err := telemetry.NewProvider(context.Background(), telemetry.Config{
		Enabled:     false,
		ServiceName: "test",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
}

func TestTracing_SpanInContext(t *testing.T) {
	setupNoopTracing(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if span := trace.SpanFromContext(r.Context()); span == nil {
			t.Error("expected span in context")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("#EXTM3U\n"))
	})

	traced := Tracing("anigate-test")(handler)

	req := httptest.NewRequest(http.MethodGet, "/m3u8?url=https%3A%2F%2Fcdn.example%2Fmaster.m3u8", nil)
	rec := httptest.NewRecorder()

	traced.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "#EXTM3U\n" {
		t.Errorf("body altered by tracing middleware: %q", rec.Body.String())
	}
}

func TestTracing_ServerError(t *testing.T) {
	setupNoopTracing(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	traced := Tracing("anigate-test")(handler)

	req := httptest.NewRequest(http.MethodGet, "/episode/sources", nil)
	rec := httptest.NewRecorder()

	traced.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", rec.Code)
	}
}

func TestTracing_ClientError(t *testing.T) {
	setupNoopTracing(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	traced := Tracing("anigate-test")(handler)

	req := httptest.NewRequest(http.MethodGet, "/s/expired-handle", nil)
	rec := httptest.NewRecorder()

	traced.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

type testResponseWriter struct {
	*httptest.ResponseRecorder
}

func (t testResponseWriter) Flush() {}

func (t testResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, errors.New("not implemented")
}

// Segment streaming needs Flusher; losing it behind the span wrapper
// would stall live playlists.
func TestTracing_PreservesResponseWriterInterfaces(t *testing.T) {
	setupNoopTracing(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, ok := w.(http.Flusher); !ok {
			t.Error("expected ResponseWriter to implement http.Flusher")
		}
		w.WriteHeader(http.StatusOK)
	})

	traced := Tracing("anigate-test")(handler)
	req := httptest.NewRequest(http.MethodGet, "/s/abc123", nil)
	rec := testResponseWriter{ResponseRecorder: httptest.NewRecorder()}
	traced.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}
