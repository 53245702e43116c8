// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the anigate proxy: the media
// pipeline endpoints, the episode discovery API, and the operational
// endpoints (health, readiness, metrics).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/kaedera/anigate/internal/api/middleware"
	"github.com/kaedera/anigate/internal/cache"
	"github.com/kaedera/anigate/internal/config"
	"github.com/kaedera/anigate/internal/fetch"
	"github.com/kaedera/anigate/internal/guard"
	"github.com/kaedera/anigate/internal/health"
	"github.com/kaedera/anigate/internal/log"
	"github.com/kaedera/anigate/internal/scrape"
	"github.com/kaedera/anigate/internal/sign"
)

// Deps carries the constructed subsystems the server serves from.
// Broker is nil when signing is disabled; Scraper and Prewarmer are nil
// when no provider base URL is configured.
type Deps struct {
	Guard     *guard.Guard
	Fetcher   *fetch.Client
	Tiers     *cache.Tiered
	Broker    *sign.Broker
	Scraper   *scrape.Service
	Prewarmer *scrape.Prewarmer
	Health    *health.Manager
}

// Server is the anigate HTTP server.
type Server struct {
	cfg     config.Config
	guard   *guard.Guard
	fetcher *fetch.Client
	tiers   *cache.Tiered
	broker  *sign.Broker
	scraper *scrape.Service
	prewarm *scrape.Prewarmer
	health  *health.Manager
	logger  zerolog.Logger

	handler http.Handler
	httpSrv *http.Server
}

// New assembles the server and its route tree.
func New(cfg config.Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		guard:   deps.Guard,
		fetcher: deps.Fetcher,
		tiers:   deps.Tiers,
		broker:  deps.Broker,
		scraper: deps.Scraper,
		prewarm: deps.Prewarmer,
		health:  deps.Health,
		logger:  log.WithComponent("api"),
	}
	s.handler = s.routes()
	return s
}

// Handler exposes the route tree, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins:        s.cfg.CORSOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "anigate-api",
		EnableLogging:         true,
		RateLimitEnabled:      s.cfg.RateLimit.Enabled,
		RateLimitRPS:          s.cfg.RateLimit.RPS,
		RateLimitBurst:        s.cfg.RateLimit.Burst,
	})

	// HEAD requests route to the GET handlers; net/http drops the body
	// on the wire.
	r.Use(chimw.GetHead)

	s.registerSystemRoutes(r)
	s.registerProxyRoutes(r)
	s.registerEpisodeRoutes(r)

	return r
}

func (s *Server) registerSystemRoutes(r chi.Router) {
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
}

func (s *Server) registerProxyRoutes(r chi.Router) {
	r.Get("/m3u8", s.handleProxy)
	r.Get("/s/{handle}", s.handleSigned)
}

func (s *Server) registerEpisodeRoutes(r chi.Router) {
	r.Get("/episode/servers", s.handleEpisodeServers)
	r.Get("/episode/sources", s.handleEpisodeSources)
	r.Post("/episode/prewarm", s.handlePrewarm)
	r.Get("/anime/{id}", s.handleAnime)
	r.Get("/search", s.handleSearch)
	r.Get("/home", s.handleHome)
}

// Start serves on cfg.Listen until Shutdown or listener failure. The
// write timeout stays zero: segment responses stream for as long as the
// player keeps reading.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info().
		Str("event", "server.listening").
		Str("addr", s.cfg.Listen).
		Msg("http server listening")

	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info().Str("event", "server.shutdown").Msg("draining http server")
	return s.httpSrv.Shutdown(ctx)
}
