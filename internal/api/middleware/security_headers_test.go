// SPDX-License-Identifier: MIT

package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeaders_Defaults(t *testing.T) {
	handler := SecurityHeaders("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/m3u8", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	want := map[string]string{
		"Content-Security-Policy": DefaultCSP,
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
	}
	for header, value := range want {
		if got := w.Header().Get(header); got != value {
			t.Errorf("%s: expected %q, got %q", header, value, got)
		}
	}

	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("expected no HSTS over plain HTTP, got %q", got)
	}
}

func TestSecurityHeaders_CustomCSP(t *testing.T) {
	csp := "default-src 'none'; media-src 'self'"
	handler := SecurityHeaders(csp)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/m3u8", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Content-Security-Policy"); got != csp {
		t.Errorf("expected custom CSP %q, got %q", csp, got)
	}
}

func TestSecurityHeaders_HSTSOverTLS(t *testing.T) {
	handler := SecurityHeaders("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "https://proxy.example/m3u8", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("expected HSTS header over TLS")
	}
}

func TestSecurityHeaders_HSTSBehindTerminatingProxy(t *testing.T) {
	handler := SecurityHeaders("")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/m3u8", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("expected HSTS header when the edge terminated TLS")
	}
}
