// SPDX-License-Identifier: MIT

// anigate proxies HLS media through a rewriting cache and fronts the
// episode discovery provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaedera/anigate/internal/api"
	"github.com/kaedera/anigate/internal/cache"
	"github.com/kaedera/anigate/internal/config"
	"github.com/kaedera/anigate/internal/fetch"
	"github.com/kaedera/anigate/internal/guard"
	"github.com/kaedera/anigate/internal/health"
	"github.com/kaedera/anigate/internal/log"
	"github.com/kaedera/anigate/internal/metrics"
	"github.com/kaedera/anigate/internal/scrape"
	"github.com/kaedera/anigate/internal/sign"
	"github.com/kaedera/anigate/internal/telemetry"
	"github.com/kaedera/anigate/internal/version"
)

// statsInterval paces the memory-tier gauge updates.
const statsInterval = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("anigate %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	// -config beats ANIGATE_CONFIG; both are optional, the service runs
	// on ENV and defaults alone.
	effectivePath := strings.TrimSpace(*configPath)
	if effectivePath == "" {
		effectivePath = strings.TrimSpace(os.Getenv("ANIGATE_CONFIG"))
	}

	loader := config.NewLoader(effectivePath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		log.Configure(log.Config{Service: "anigate"})
		fallback := log.WithComponent("main")
		fallback.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectivePath).
			Msg("failed to load configuration")
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "anigate"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := health.PerformStartupChecks(cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("startup checks failed; verify configuration and permissions")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.Listen).
		Msg("starting anigate")

	logger.Info().Msgf("→ CORS origins: %s", strings.Join(cfg.CORSOrigins, ", "))
	if cfg.Scrape.BaseURL != "" {
		logger.Info().Msgf("→ Provider: %s", cfg.Scrape.BaseURL)
	} else {
		logger.Warn().Msg("→ Provider: not configured (episode and catalog endpoints disabled)")
	}
	if cfg.Signing.Enabled {
		logger.Info().Msgf("→ Signed handles: enabled (ttl: %s)", cfg.Signing.TTL)
	} else {
		logger.Info().Msg("→ Signed handles: disabled (pass-through URLs)")
	}
	if cfg.Redis.Addr != "" {
		logger.Info().Msgf("→ Redis tier: %s (db %d)", cfg.Redis.Addr, cfg.Redis.DB)
	} else {
		logger.Info().Msg("→ Redis tier: disabled (memory-only cache)")
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "anigate",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init_failed").
			Msg("failed to initialize tracing")
	}

	g, err := guard.New(guard.Config{
		SelfHosts: []string{cfg.PublicHost, cfg.Listen},
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "guard.init_failed").
			Msg("invalid self-host configuration")
	}

	fetcher := fetch.New(fetch.Options{
		UserAgent:     cfg.Proxy.UserAgent,
		TextTimeout:   cfg.Proxy.TextTimeout,
		BinaryTimeout: cfg.Proxy.BinaryTimeout,
		MaxTimeout:    cfg.Proxy.MaxTimeout,
		MaxRedirects:  cfg.Proxy.MaxRedirects,
		RPS:           cfg.Proxy.OutboundRPS,
		Burst:         cfg.Proxy.OutboundBurst,
	}, g)

	mem := cache.NewMemoryCache(cfg.Cache.MemoryBudget, time.Minute)
	var remote *cache.RedisCache
	if cfg.Redis.Addr != "" {
		remote, err = cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			MaxBytes: cfg.Cache.RemoteMaxBytes,
		}, log.WithComponent("cache"))
		if err != nil {
			// The remote tier is an optimization; a dead Redis must not
			// keep the proxy down.
			logger.Warn().
				Err(err).
				Str("event", "redis.unavailable").
				Msg("Redis tier unreachable, continuing memory-only")
			remote = nil
		}
	}
	tiers := cache.NewTiered(mem, remote)

	var broker *sign.Broker
	if cfg.Signing.Enabled {
		broker = sign.New([]byte(cfg.Signing.Secret), cfg.Signing.TTL, cfg.Signing.MaxHandles)
	}

	hm := health.NewManager(version.Version)
	hm.RegisterChecker(health.NewPingChecker("cache", false, tiers.HealthCheck))

	var (
		svc   *scrape.Service
		pre   *scrape.Prewarmer
		store *scrape.Store
	)
	if cfg.Scrape.BaseURL != "" {
		store, err = scrape.OpenStore(cfg.Scrape.DataDir, cfg.Scrape.Retention)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("event", "store.open_failed").
				Str("dir", cfg.Scrape.DataDir).
				Msg("failed to open scrape record store")
		}

		svc = scrape.NewService(store, tiers,
			func() (scrape.Provider, error) {
				return scrape.NewClient(cfg.Scrape.BaseURL, scrape.ClientOptions{
					Timeout:   cfg.Scrape.Timeout,
					UserAgent: cfg.Proxy.UserAgent,
				}), nil
			},
			scrape.ServiceOptions{FreshFor: cfg.Scrape.FreshFor})

		pre = scrape.NewPrewarmer(svc, scrape.PrewarmerOptions{
			Workers: cfg.Scrape.PrewarmWorkers,
			RPS:     cfg.Scrape.PrewarmRPS,
			Burst:   cfg.Scrape.PrewarmBurst,
		})
		pre.Start(ctx)

		hm.RegisterChecker(health.NewPingChecker("store", true, store.HealthCheck))
		hm.RegisterChecker(health.NewBreakerChecker("provider", svc.ProviderState))
	}

	// Hot reload: watch the config file and honor SIGHUP. Only the log
	// level applies in place; everything else needs a restart.
	holder := config.NewHolder(cfg, loader, effectivePath)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().
			Err(err).
			Str("event", "config.watcher_failed").
			Msg("config file watching disabled")
	}
	defer holder.Stop()

	reloads := make(chan config.Config, 1)
	holder.RegisterListener(reloads)
	go applyReloads(ctx, logger, reloads)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info().Str("event", "config.sighup").Msg("SIGHUP received, reloading configuration")
				_ = holder.Reload(ctx)
			}
		}
	}()

	go publishCacheStats(ctx, tiers)

	srv := api.New(cfg, api.Deps{
		Guard:     g,
		Fetcher:   fetcher,
		Tiers:     tiers,
		Broker:    broker,
		Scraper:   svc,
		Prewarmer: pre,
		Health:    hm,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown.signal").Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().
				Err(err).
				Str("event", "server.failed").
				Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().
			Err(err).
			Str("event", "shutdown.drain_failed").
			Msg("http server did not drain cleanly")
	}
	if pre != nil {
		pre.Stop()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Str("event", "store.close_failed").Msg("scrape store close failed")
		}
	}
	if err := tiers.Close(); err != nil {
		logger.Warn().Err(err).Str("event", "cache.close_failed").Msg("cache close failed")
	}
	fetcher.CloseIdle()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Str("event", "telemetry.shutdown_failed").Msg("tracer shutdown failed")
	}

	logger.Info().Str("event", "shutdown.complete").Msg("anigate exited")
}

// applyReloads consumes config reload notifications for the process
// lifetime.
func applyReloads(ctx context.Context, logger zerolog.Logger, ch <-chan config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg := <-ch:
			if lvl, err := zerolog.ParseLevel(newCfg.LogLevel); err == nil && lvl != zerolog.GlobalLevel() {
				zerolog.SetGlobalLevel(lvl)
				logger.Info().
					Str("event", "config.level_applied").
					Str("level", lvl.String()).
					Msg("log level updated")
			}
			logger.Info().
				Str("event", "config.applied").
				Msg("configuration reloaded; structural changes take effect on restart")
		}
	}
}

// publishCacheStats mirrors the memory tier's counters into the gauges.
func publishCacheStats(ctx context.Context, tiers *cache.Tiered) {
	t := time.NewTicker(statsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := tiers.MemoryStats()
			metrics.SetCacheMemoryStats(st.Bytes, st.Entries)
		}
	}
}
