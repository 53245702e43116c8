// SPDX-License-Identifier: MIT

package scrape

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the API boundary.
	ErrUnavailable   = errors.New("scrape: provider unavailable")
	ErrNotFound      = errors.New("scrape: resource not found")
	ErrProviderError = errors.New("scrape: provider internal error")
	ErrBadResponse   = errors.New("scrape: malformed provider response")
)

// ScrapeError carries the operation and upstream status alongside the
// underlying error so handlers can map it while logs keep the detail.
type ScrapeError struct {
	Op     string
	Status int
	Err    error
}

func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("scrape: %s", e.Op)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}
