// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.Cache.PlaylistTTL)
	assert.Equal(t, 15*time.Second, cfg.Cache.PlaylistMaxTTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.SegmentTTL)
	assert.Equal(t, int64(10<<20), cfg.Cache.RemoteMaxBytes)
	assert.Equal(t, 8*time.Second, cfg.Proxy.TextTimeout)
	assert.Equal(t, 12*time.Second, cfg.Proxy.BinaryTimeout)
	assert.Equal(t, 30*time.Second, cfg.Proxy.MaxTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Signing.TTL)
	assert.Equal(t, 100_000, cfg.Signing.MaxHandles)
	assert.Equal(t, 30*time.Minute, cfg.Scrape.FreshFor)
	assert.Equal(t, "test", cfg.Version)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ANIGATE_LISTEN", ":9090")
	t.Setenv("ANIGATE_CACHE_PLAYLIST_TTL", "12s")
	t.Setenv("ANIGATE_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ANIGATE_REDIS_ADDR", "redis:6379")
	t.Setenv("ANIGATE_PREWARM_WORKERS", "2")

	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, 12*time.Second, cfg.Cache.PlaylistTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Scrape.PrewarmWorkers)
}

func TestLoadFileLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	body := `
listen: ":7070"
defaultReferer: "https://megacloud.example/"
cache:
  playlistTTL: 11s
scrape:
  baseURL: "https://sources.internal:8443"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "https://megacloud.example/", cfg.DefaultReferer)
	assert.Equal(t, 11*time.Second, cfg.Cache.PlaylistTTL)
	assert.Equal(t, "https://sources.internal:8443", cfg.Scrape.BaseURL)
	// untouched fields keep their defaults
	assert.Equal(t, 24*time.Hour, cfg.Cache.SegmentTTL)
}

func TestEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":7070\"\n"), 0o600))

	t.Setenv("ANIGATE_LISTEN", ":6060")

	cfg, err := NewLoader(path, "test").Load()
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.Listen)
}

func TestLoadFileStrict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listne: \":7070\"\n"), 0o600))

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anigate.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen = \":7070\"\n"), 0o600))

	_, err := NewLoader(path, "test").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing listen",
			mutate:  func(c *Config) { c.Listen = "" },
			wantErr: ErrListenRequired,
		},
		{
			name: "signing enabled with short secret",
			mutate: func(c *Config) {
				c.Signing.Enabled = true
				c.Signing.Secret = "short"
			},
			wantErr: ErrSecretTooShort,
		},
		{
			name:    "playlist TTL too low",
			mutate:  func(c *Config) { c.Cache.PlaylistTTL = 100 * time.Millisecond },
			wantErr: ErrBadPlaylistTTL,
		},
		{
			name:    "playlist TTL above max",
			mutate:  func(c *Config) { c.Cache.PlaylistTTL = 20 * time.Second },
			wantErr: ErrBadPlaylistTTL,
		},
		{
			name:    "zero memory budget",
			mutate:  func(c *Config) { c.Cache.MemoryBudget = 0 },
			wantErr: ErrBadMemoryBudget,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRejectsBadScrapeURL(t *testing.T) {
	cfg := Default()
	cfg.Scrape.BaseURL = "ftp://sources.internal"
	require.Error(t, Validate(cfg))

	cfg.Scrape.BaseURL = "not a url"
	require.Error(t, Validate(cfg))

	cfg.Scrape.BaseURL = "https://sources.internal"
	require.NoError(t, Validate(cfg))
}

func TestValidateRejectsLongPlaylistMaxTTL(t *testing.T) {
	cfg := Default()
	cfg.Cache.PlaylistMaxTTL = time.Minute
	cfg.Cache.PlaylistTTL = 10 * time.Second
	require.Error(t, Validate(cfg))
}
