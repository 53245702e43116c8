// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, HEAD, OPTIONS"
	// Range must be allowed or browsers refuse to send ranged segment
	// requests cross-origin; Content-Range must be exposed or players
	// cannot read 206 responses.
	corsAllowHeaders  = "Content-Type, Range, X-Request-ID"
	corsExposeHeaders = "Content-Length, Content-Range"
)

// CORS returns a middleware that sets Cross-Origin Resource Sharing
// headers for media players embedded in third-party pages.
//
// With "*" in the allowed list the literal wildcard is emitted, so one
// cached copy of a playlist or segment serves every origin. With an
// explicit allowlist the matched origin is echoed and Vary: Origin is
// set to keep shared caches from handing one origin's grant to another.
// Preflight OPTIONS requests short-circuit with 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	allowAll := allowed["*"]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				// Unknown origins get no Allow-Origin header; the
				// browser blocks the read on its side.
				addVaryOrigin(w.Header())
			}

			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")

			if r.Method == http.MethodOptions {
				w.Header().Set("Allow", corsMethods)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func addVaryOrigin(h http.Header) {
	vary := h.Get("Vary")
	switch {
	case vary == "":
		h.Set("Vary", "Origin")
	case !strings.Contains(vary, "Origin"):
		h.Set("Vary", vary+", Origin")
	}
}
