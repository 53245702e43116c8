// SPDX-License-Identifier: MIT

// Package rewrite turns the URL references inside streaming manifests into
// proxy URLs while leaving every other byte untouched.
package rewrite

import (
	"net/url"
	"strings"
)

// Resolve turns href into an absolute URL against base. Precedence: absolute
// stays; protocol-relative gets the base scheme; root-relative gets the base
// scheme and host; anything else joins with base per RFC 3986.
func Resolve(base *url.URL, href string) (string, error) {
	switch {
	case hasHTTPScheme(href):
		return href, nil
	case strings.HasPrefix(href, "//"):
		return base.Scheme + ":" + href, nil
	case strings.HasPrefix(href, "/"):
		return base.Scheme + "://" + base.Host + href, nil
	default:
		ref, err := url.Parse(href)
		if err != nil {
			return "", err
		}
		return base.ResolveReference(ref).String(), nil
	}
}

func hasHTTPScheme(s string) bool {
	if len(s) >= 7 && strings.EqualFold(s[:7], "http://") {
		return true
	}
	if len(s) >= 8 && strings.EqualFold(s[:8], "https://") {
		return true
	}
	return false
}

// proxyable reports whether an already-resolved reference points at a target
// the proxy can fetch. Non-http URIs (data:, skd: DRM keys) must be left
// alone.
func proxyable(abs string) bool {
	return hasHTTPScheme(abs)
}

// MintFunc converts an absolute origin URL into the proxy URL the client
// should request instead. The pass-through and signed-handle strategies both
// implement it.
type MintFunc func(absURL string) string
