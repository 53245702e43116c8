// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation errors surfaced to the operator at startup and on reload.
var (
	ErrListenRequired  = errors.New("listen address is required")
	ErrSecretTooShort  = errors.New("signing secret must be at least 32 bytes when signing is enabled")
	ErrBadPlaylistTTL  = errors.New("playlist TTL must be between 1s and the playlist max TTL")
	ErrBadMemoryBudget = errors.New("cache memory budget must be positive")
)

// Validate rejects configurations that would misbehave at runtime. It is run
// on startup and before every hot-reload swap.
func Validate(cfg Config) error {
	if cfg.Listen == "" {
		return ErrListenRequired
	}

	if cfg.Signing.Enabled && len(cfg.Signing.Secret) < 32 {
		return ErrSecretTooShort
	}

	if cfg.Cache.PlaylistTTL < time.Second || cfg.Cache.PlaylistTTL > cfg.Cache.PlaylistMaxTTL {
		return ErrBadPlaylistTTL
	}
	if cfg.Cache.PlaylistMaxTTL > 15*time.Second {
		return fmt.Errorf("playlist max TTL %s exceeds live-edge safety bound of 15s", cfg.Cache.PlaylistMaxTTL)
	}
	if cfg.Cache.MemoryBudget <= 0 {
		return ErrBadMemoryBudget
	}
	if cfg.Cache.RemoteMaxBytes <= 0 {
		return fmt.Errorf("remote cache size cap must be positive, got %d", cfg.Cache.RemoteMaxBytes)
	}

	if cfg.Scrape.BaseURL != "" {
		u, err := url.Parse(cfg.Scrape.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("scrape base URL %q is not an absolute http(s) URL", cfg.Scrape.BaseURL)
		}
	}
	if cfg.Scrape.PrewarmWorkers < 1 {
		return fmt.Errorf("prewarm worker count must be at least 1, got %d", cfg.Scrape.PrewarmWorkers)
	}

	if cfg.Proxy.TextTimeout <= 0 || cfg.Proxy.BinaryTimeout <= 0 || cfg.Proxy.MaxTimeout <= 0 {
		return errors.New("proxy timeouts must be positive")
	}
	if cfg.Proxy.TextTimeout > cfg.Proxy.MaxTimeout || cfg.Proxy.BinaryTimeout > cfg.Proxy.MaxTimeout {
		return errors.New("proxy text/binary timeouts must not exceed the max timeout")
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.RPS <= 0 {
		return errors.New("rate limit rps must be positive when enabled")
	}

	return nil
}
