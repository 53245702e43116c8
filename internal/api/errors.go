// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kaedera/anigate/internal/fetch"
	"github.com/kaedera/anigate/internal/guard"
	"github.com/kaedera/anigate/internal/log"
	"github.com/kaedera/anigate/internal/resilience"
	"github.com/kaedera/anigate/internal/rewrite"
	"github.com/kaedera/anigate/internal/scrape"
	"github.com/kaedera/anigate/internal/sign"
)

// badRequestError carries a client-facing message for malformed input.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// mapError translates pipeline errors onto HTTP status and envelope
// message. Handle failures all collapse to one 404 so probes cannot
// distinguish forged from expired.
func mapError(err error) (int, string) {
	var badReq *badRequestError
	if errors.As(err, &badReq) {
		return http.StatusBadRequest, badReq.msg
	}

	if errors.Is(err, guard.ErrForbidden) {
		return http.StatusForbidden, "Forbidden host"
	}

	if errors.Is(err, sign.ErrMalformedHandle) ||
		errors.Is(err, sign.ErrBadSignature) ||
		errors.Is(err, sign.ErrExpiredHandle) ||
		errors.Is(err, sign.ErrUnknownHandle) {
		return http.StatusNotFound, "handle not found"
	}

	if errors.Is(err, fetch.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream timeout"
	}

	var upstream *fetch.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Status, fmt.Sprintf("upstream status %d", upstream.Status)
	}

	if errors.Is(err, fetch.ErrTextTooLarge) {
		return http.StatusBadGateway, "upstream body too large"
	}

	if errors.Is(err, rewrite.ErrEmptyUpstream) {
		return http.StatusBadGateway, "empty upstream body"
	}

	if errors.Is(err, scrape.ErrUnavailable) || errors.Is(err, resilience.ErrOpen) {
		return http.StatusServiceUnavailable, "provider unavailable"
	}

	if errors.Is(err, scrape.ErrNotFound) {
		return http.StatusNotFound, "not found"
	}

	var scrapeErr *scrape.ScrapeError
	if errors.As(err, &scrapeErr) {
		return http.StatusBadGateway, "discovery failed"
	}

	return http.StatusInternalServerError, "internal server error"
}

// writeError maps err and writes the {"error": message} envelope.
// Server-side faults log at error level, client mistakes at debug.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)

	logger := log.WithComponentFromContext(r.Context(), "api")
	evt := logger.Debug()
	if status >= 500 {
		evt = logger.Error()
	}
	evt.Err(err).
		Str("event", "request.failed").
		Str("path", r.URL.Path).
		Int("status", status).
		Msg("request failed")

	writeJSON(w, status, map[string]string{"error": msg})
}
