// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the sliding window for counting requests.
	WindowSize time.Duration
	// KeyFuncs extract the limiter key from the request. Defaults to
	// client IP when empty.
	KeyFuncs []httprate.KeyFunc
}

// RateLimit creates a rate limiting middleware using httprate's sliding
// window counter. Rejected requests get a 429 with Retry-After and the
// standard error envelope.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFuncs := cfg.KeyFuncs
	if len(keyFuncs) == 0 {
		keyFuncs = []httprate.KeyFunc{httprate.KeyByIP}
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFuncs...),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(cfg.WindowSize.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
		}),
	)
}

// APIRateLimit bounds request rates per client IP and endpoint. rps is
// the sustained budget per second; burst pads the window so a player
// fetching a run of segments at startup does not trip the limit. When
// disabled it returns a pass-through.
func APIRateLimit(enabled bool, rps, burst int) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	if rps <= 0 {
		rps = 50
	}
	if burst < 0 {
		burst = 0
	}

	return RateLimit(RateLimitConfig{
		RequestLimit: rps + burst,
		WindowSize:   time.Second,
		KeyFuncs:     []httprate.KeyFunc{httprate.KeyByIP, httprate.KeyByEndpoint},
	})
}
