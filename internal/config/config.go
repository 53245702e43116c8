// SPDX-License-Identifier: MIT

// Package config loads the service configuration with the precedence
// ENV > file > defaults and supports hot reloading of the file layer.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the effective service configuration after merging all layers.
type Config struct {
	Version string `yaml:"-"`

	Listen         string   `yaml:"listen"`
	PublicHost     string   `yaml:"publicHost"`
	CORSOrigins    []string `yaml:"corsOrigins"`
	DefaultReferer string   `yaml:"defaultReferer"`
	LogLevel       string   `yaml:"logLevel"`

	Proxy     ProxyConfig     `yaml:"proxy"`
	Cache     CacheConfig     `yaml:"cache"`
	Redis     RedisConfig     `yaml:"redis"`
	Scrape    ScrapeConfig    `yaml:"scrape"`
	Signing   SigningConfig   `yaml:"signing"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ProxyConfig bounds outbound fetches.
type ProxyConfig struct {
	TextTimeout   time.Duration `yaml:"textTimeout"`
	BinaryTimeout time.Duration `yaml:"binaryTimeout"`
	MaxTimeout    time.Duration `yaml:"maxTimeout"`
	MaxRedirects  int           `yaml:"maxRedirects"`
	UserAgent     string        `yaml:"userAgent"`
	OutboundRPS   float64       `yaml:"outboundRPS"` // 0 disables outbound pacing
	OutboundBurst int           `yaml:"outboundBurst"`
}

// CacheConfig describes both cache tiers and their TTL policy.
type CacheConfig struct {
	MemoryBudget   int64         `yaml:"memoryBudget"` // bytes
	PlaylistTTL    time.Duration `yaml:"playlistTTL"`
	PlaylistMaxTTL time.Duration `yaml:"playlistMaxTTL"`
	SegmentTTL     time.Duration `yaml:"segmentTTL"`
	RemoteMaxBytes int64         `yaml:"remoteMaxBytes"`
}

// RedisConfig locates the shared remote cache. An empty Addr disables the
// remote tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ScrapeConfig drives episode source discovery and its durable cache.
type ScrapeConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	Timeout        time.Duration `yaml:"timeout"`
	FreshFor       time.Duration `yaml:"freshFor"`
	DataDir        string        `yaml:"dataDir"`
	Retention      time.Duration `yaml:"retention"`
	PrewarmWorkers int           `yaml:"prewarmWorkers"`
	PrewarmRPS     float64       `yaml:"prewarmRPS"`
	PrewarmBurst   int           `yaml:"prewarmBurst"`
}

// SigningConfig controls the signed-handle strategy for segment URLs.
type SigningConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Secret     string        `yaml:"secret"`
	TTL        time.Duration `yaml:"ttl"`
	MaxHandles int           `yaml:"maxHandles"`
}

// RateLimitConfig bounds inbound API traffic.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	RPS     int  `yaml:"rps"`
	Burst   int  `yaml:"burst"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "http" or "grpc"
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate"`
	Environment string  `yaml:"environment"`
}

// Default returns the built-in defaults, before file and ENV layers apply.
func Default() Config {
	return Config{
		Listen:      ":8080",
		CORSOrigins: []string{"*"},
		LogLevel:    "info",
		Proxy: ProxyConfig{
			TextTimeout:   8 * time.Second,
			BinaryTimeout: 12 * time.Second,
			MaxTimeout:    30 * time.Second,
			MaxRedirects:  10,
			UserAgent:     defaultUserAgent,
			OutboundBurst: 8,
		},
		Cache: CacheConfig{
			MemoryBudget:   256 << 20,
			PlaylistTTL:    10 * time.Second,
			PlaylistMaxTTL: 15 * time.Second,
			SegmentTTL:     24 * time.Hour,
			RemoteMaxBytes: 10 << 20,
		},
		Scrape: ScrapeConfig{
			Timeout:        10 * time.Second,
			FreshFor:       30 * time.Minute,
			DataDir:        "data",
			Retention:      7 * 24 * time.Hour,
			PrewarmWorkers: 4,
			PrewarmRPS:     4,
			PrewarmBurst:   8,
		},
		Signing: SigningConfig{
			TTL:        10 * time.Minute,
			MaxHandles: 100_000,
		},
		RateLimit: RateLimitConfig{
			RPS:   50,
			Burst: 100,
		},
		Telemetry: TelemetryConfig{
			Exporter:    "http",
			SampleRate:  1.0,
			Environment: "production",
		},
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Loader loads configuration with the precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a configuration loader. configPath may be empty for
// ENV-only operation.
func NewLoader(configPath, version string) *Loader {
	return &Loader{configPath: configPath, version: version}
}

// Load builds the effective configuration: defaults, then the file layer,
// then environment overrides, then validation.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if cfg.Scrape.DataDir != "" {
		if abs, err := filepath.Abs(cfg.Scrape.DataDir); err == nil {
			cfg.Scrape.DataDir = abs
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes the YAML file over cfg with strict parsing; unknown fields
// are an error so misspelled keys fail fast.
func (l *Loader) loadFile(cfg *Config) error {
	path := filepath.Clean(l.configPath)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- config file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

// mergeEnv applies environment overrides on top of the current values.
func (l *Loader) mergeEnv(cfg *Config) {
	cfg.Listen = ParseString("ANIGATE_LISTEN", cfg.Listen)
	cfg.PublicHost = ParseString("ANIGATE_PUBLIC_HOST", cfg.PublicHost)
	cfg.CORSOrigins = ParseStringSlice("ANIGATE_CORS_ORIGINS", cfg.CORSOrigins)
	cfg.DefaultReferer = ParseString("ANIGATE_DEFAULT_REFERER", cfg.DefaultReferer)
	cfg.LogLevel = ParseString("ANIGATE_LOG_LEVEL", cfg.LogLevel)

	cfg.Proxy.TextTimeout = ParseDuration("ANIGATE_PROXY_TEXT_TIMEOUT", cfg.Proxy.TextTimeout)
	cfg.Proxy.BinaryTimeout = ParseDuration("ANIGATE_PROXY_BINARY_TIMEOUT", cfg.Proxy.BinaryTimeout)
	cfg.Proxy.MaxTimeout = ParseDuration("ANIGATE_PROXY_MAX_TIMEOUT", cfg.Proxy.MaxTimeout)
	cfg.Proxy.MaxRedirects = ParseInt("ANIGATE_PROXY_MAX_REDIRECTS", cfg.Proxy.MaxRedirects)
	cfg.Proxy.UserAgent = ParseString("ANIGATE_PROXY_USER_AGENT", cfg.Proxy.UserAgent)
	cfg.Proxy.OutboundRPS = ParseFloat("ANIGATE_PROXY_OUTBOUND_RPS", cfg.Proxy.OutboundRPS)
	cfg.Proxy.OutboundBurst = ParseInt("ANIGATE_PROXY_OUTBOUND_BURST", cfg.Proxy.OutboundBurst)

	cfg.Cache.MemoryBudget = ParseInt64("ANIGATE_CACHE_MEMORY_BUDGET", cfg.Cache.MemoryBudget)
	cfg.Cache.PlaylistTTL = ParseDuration("ANIGATE_CACHE_PLAYLIST_TTL", cfg.Cache.PlaylistTTL)
	cfg.Cache.PlaylistMaxTTL = ParseDuration("ANIGATE_CACHE_PLAYLIST_MAX_TTL", cfg.Cache.PlaylistMaxTTL)
	cfg.Cache.SegmentTTL = ParseDuration("ANIGATE_CACHE_SEGMENT_TTL", cfg.Cache.SegmentTTL)
	cfg.Cache.RemoteMaxBytes = ParseInt64("ANIGATE_CACHE_REMOTE_MAX_BYTES", cfg.Cache.RemoteMaxBytes)

	cfg.Redis.Addr = ParseString("ANIGATE_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = ParseString("ANIGATE_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = ParseInt("ANIGATE_REDIS_DB", cfg.Redis.DB)

	cfg.Scrape.BaseURL = ParseString("ANIGATE_SCRAPE_URL", cfg.Scrape.BaseURL)
	cfg.Scrape.Timeout = ParseDuration("ANIGATE_SCRAPE_TIMEOUT", cfg.Scrape.Timeout)
	cfg.Scrape.FreshFor = ParseDuration("ANIGATE_SCRAPE_FRESH_FOR", cfg.Scrape.FreshFor)
	cfg.Scrape.DataDir = ParseString("ANIGATE_DATA_DIR", cfg.Scrape.DataDir)
	cfg.Scrape.Retention = ParseDuration("ANIGATE_SCRAPE_RETENTION", cfg.Scrape.Retention)
	cfg.Scrape.PrewarmWorkers = ParseInt("ANIGATE_PREWARM_WORKERS", cfg.Scrape.PrewarmWorkers)
	cfg.Scrape.PrewarmRPS = ParseFloat("ANIGATE_PREWARM_RPS", cfg.Scrape.PrewarmRPS)
	cfg.Scrape.PrewarmBurst = ParseInt("ANIGATE_PREWARM_BURST", cfg.Scrape.PrewarmBurst)

	cfg.Signing.Enabled = ParseBool("ANIGATE_SIGNING_ENABLED", cfg.Signing.Enabled)
	cfg.Signing.Secret = ParseString("ANIGATE_SIGNING_SECRET", cfg.Signing.Secret)
	cfg.Signing.TTL = ParseDuration("ANIGATE_SIGNING_TTL", cfg.Signing.TTL)
	cfg.Signing.MaxHandles = ParseInt("ANIGATE_SIGNING_MAX_HANDLES", cfg.Signing.MaxHandles)

	cfg.RateLimit.Enabled = ParseBool("ANIGATE_RATELIMIT_ENABLED", cfg.RateLimit.Enabled)
	cfg.RateLimit.RPS = ParseInt("ANIGATE_RATELIMIT_RPS", cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = ParseInt("ANIGATE_RATELIMIT_BURST", cfg.RateLimit.Burst)

	cfg.Telemetry.Enabled = ParseBool("ANIGATE_OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = ParseString("ANIGATE_OTEL_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = ParseString("ANIGATE_OTEL_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SampleRate = ParseFloat("ANIGATE_OTEL_SAMPLE_RATE", cfg.Telemetry.SampleRate)
	cfg.Telemetry.Environment = ParseString("ANIGATE_OTEL_ENVIRONMENT", cfg.Telemetry.Environment)
}
