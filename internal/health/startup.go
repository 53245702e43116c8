// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kaedera/anigate/internal/config"
	"github.com/kaedera/anigate/internal/log"
)

// PerformStartupChecks validates the environment before the server starts
// accepting traffic. It fails fast on misconfiguration that would otherwise
// surface as runtime errors under load.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkListenAddr(logger, cfg.Listen); err != nil {
		return fmt.Errorf("listen address check failed: %w", err)
	}

	if err := checkDataDir(logger, cfg.Scrape.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}

	if err := checkProviderBase(logger, cfg.Scrape.BaseURL); err != nil {
		return fmt.Errorf("provider base URL check failed: %w", err)
	}

	if err := checkSigning(logger, cfg.Signing); err != nil {
		return fmt.Errorf("signing config check failed: %w", err)
	}

	if cfg.Redis.Addr == "" {
		logger.Info().Msg("no Redis address configured; caching is memory-only")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, addr string) error {
	if addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	logger.Info().Str("addr", addr).Msg("listen address is valid")
	return nil
}

func checkDataDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("data directory is not configured")
	}

	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("cannot create data directory %s: %w", path, err)
	}

	// Confirm write permission with a probe file.
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(path)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", path).
			Msg("data directory is under temp; scrape records may be lost on reboot")
	}

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkProviderBase(logger zerolog.Logger, base string) error {
	if base == "" {
		logger.Warn().Msg("provider base URL not configured; episode and catalog endpoints are disabled")
		return nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid provider base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("provider base URL scheme must be http or https, got: %s", u.Scheme)
	}
	logger.Info().Str("url", base).Msg("provider base URL is valid")
	return nil
}

func checkSigning(logger zerolog.Logger, cfg config.SigningConfig) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Secret == "" {
		return fmt.Errorf("signing is enabled but no secret is configured")
	}
	if len(cfg.Secret) < 16 {
		return fmt.Errorf("signing secret must be at least 16 bytes, got %d", len(cfg.Secret))
	}
	if cfg.TTL <= 0 {
		return fmt.Errorf("signing TTL must be positive, got %s", cfg.TTL)
	}
	logger.Info().Dur("ttl", cfg.TTL).Int("max_handles", cfg.MaxHandles).Msg("signed handles enabled")
	return nil
}
