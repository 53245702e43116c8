// SPDX-License-Identifier: MIT

package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kaedera/anigate/internal/cache"
	"github.com/kaedera/anigate/internal/log"
	"github.com/kaedera/anigate/internal/metrics"
)

// SourcesResult is the answer to a sources lookup. Stale marks a record
// served past its freshness window after a failed refresh.
type SourcesResult struct {
	Data      json.RawMessage
	FromCache bool
	Stale     bool
}

// ServiceOptions configures the scrape service.
type ServiceOptions struct {
	// FreshFor is the record freshness window. Defaults to 30m.
	FreshFor time.Duration
	// MirrorTTL bounds the remote-cache mirror of records. Defaults to
	// FreshFor.
	MirrorTTL time.Duration
}

// Option adjusts Service construction.
type Option func(*Service)

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service answers discovery queries from the freshest available layer:
// local store, remote mirror, then the provider. The provider is built
// lazily on first use so the proxy starts (and proxies) even while the
// discovery API is down.
type Service struct {
	store    *Store
	tiers    *cache.Tiered
	freshFor time.Duration
	mirror   time.Duration

	newProvider func() (Provider, error)

	mu       sync.RWMutex
	provider Provider

	initG  singleflight.Group
	flight singleflight.Group

	now    func() time.Time
	logger zerolog.Logger
}

// NewService wires the service. newProvider runs at most once per failed
// attempt; tiers may be nil to disable the remote mirror.
func NewService(store *Store, tiers *cache.Tiered, newProvider func() (Provider, error), opts ServiceOptions, options ...Option) *Service {
	freshFor := opts.FreshFor
	if freshFor <= 0 {
		freshFor = 30 * time.Minute
	}
	mirror := opts.MirrorTTL
	if mirror <= 0 {
		mirror = freshFor
	}

	s := &Service{
		store:       store,
		tiers:       tiers,
		freshFor:    freshFor,
		mirror:      mirror,
		newProvider: newProvider,
		now:         time.Now,
		logger:      log.WithComponent("scrape"),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Sources returns source descriptors for one (episode, category, server)
// triple. Fresh records short-circuit; stale records trigger a refresh and
// survive as a fallback when the refresh fails.
func (s *Service) Sources(ctx context.Context, episodeID, category, server string) (*SourcesResult, error) {
	key := CompositeKey(episodeID, category, server)

	rec := s.lookup(ctx, key)
	if rec.Fresh(s.now(), s.freshFor) {
		return &SourcesResult{Data: rec.Payload, FromCache: true}, nil
	}

	refreshed, err := s.refresh(ctx, key, episodeID, category, server)
	if err != nil {
		if rec != nil {
			// A dead provider must not take down playback for episodes
			// we already know about.
			metrics.RecordStaleServed()
			s.logger.Warn().
				Err(err).
				Str("event", "scrape.stale_served").
				Str("key", key).
				Time("fetched_at", rec.FetchedAt).
				Msg("refresh failed, serving stale record")
			return &SourcesResult{Data: rec.Payload, FromCache: true, Stale: true}, nil
		}
		return nil, err
	}

	return &SourcesResult{Data: refreshed.Payload, FromCache: false}, nil
}

// Servers lists hosting servers for an episode. Not record-cached: server
// lists are cheap and volatile.
func (s *Service) Servers(ctx context.Context, episodeID string) (json.RawMessage, error) {
	p, err := s.getProvider(ctx)
	if err != nil {
		return nil, err
	}
	return p.Servers(ctx, episodeID)
}

// Anime returns the detail descriptor for one catalog entry.
func (s *Service) Anime(ctx context.Context, id string) (json.RawMessage, error) {
	p, err := s.getProvider(ctx)
	if err != nil {
		return nil, err
	}
	return p.Anime(ctx, id)
}

// Search queries the catalog.
func (s *Service) Search(ctx context.Context, q string) (json.RawMessage, error) {
	p, err := s.getProvider(ctx)
	if err != nil {
		return nil, err
	}
	return p.Search(ctx, q)
}

// Home returns the landing-page descriptor.
func (s *Service) Home(ctx context.Context) (json.RawMessage, error) {
	p, err := s.getProvider(ctx)
	if err != nil {
		return nil, err
	}
	return p.Home(ctx)
}

// FreshFor exposes the freshness window (prewarm skips fresh keys).
func (s *Service) FreshFor() time.Duration {
	return s.freshFor
}

// ProviderState reports the breaker state when the provider is the HTTP
// client, "uninitialized" before first use.
func (s *Service) ProviderState() string {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()

	if p == nil {
		return "uninitialized"
	}
	if c, ok := p.(*Client); ok {
		return c.BreakerState()
	}
	return "closed"
}

// lookup reads the local store, then the remote mirror. Mirror hits are
// written back to the local store so freshness survives a restart of this
// instance even when a sibling did the fetch.
func (s *Service) lookup(ctx context.Context, key string) *Record {
	rec, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", "scrape.store_error").Str("key", key).Msg("record read failed")
	}
	if rec.Fresh(s.now(), s.freshFor) {
		return rec
	}

	if mirrored := s.readMirror(key); mirrored != nil {
		if mirrored.FetchedAt.After(fetchedAt(rec)) {
			if err := s.store.Upsert(ctx, mirrored); err != nil {
				s.logger.Warn().Err(err).Str("event", "scrape.store_error").Str("key", key).Msg("mirror writeback failed")
			}
			return mirrored
		}
	}
	return rec
}

// refresh fetches sources from the provider and persists the new record.
// Concurrent refreshes of one key collapse into a single provider call.
func (s *Service) refresh(ctx context.Context, key, episodeID, category, server string) (*Record, error) {
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		p, err := s.getProvider(ctx)
		if err != nil {
			return nil, err
		}

		data, err := p.Sources(ctx, episodeID, category, server)
		if err != nil {
			return nil, err
		}

		rec := &Record{
			CompositeKey: key,
			EpisodeID:    episodeID,
			Category:     category,
			Server:       server,
			Payload:      data,
			FetchedAt:    s.now(),
		}
		s.persist(ctx, rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// persist stores the record locally and mirrors it to the remote cache.
// Persistence failures degrade to logs: the caller already has the data.
func (s *Service) persist(ctx context.Context, rec *Record) {
	if err := s.store.Upsert(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("event", "scrape.store_error").Str("key", rec.CompositeKey).Msg("record write failed")
	}
	s.writeMirror(rec)
}

func (s *Service) readMirror(key string) *Record {
	if s.tiers == nil {
		return nil
	}

	it, _, ok := s.tiers.Get(cache.NSSource+key, s.mirror)
	if !ok {
		return nil
	}

	var rec Record
	if err := json.Unmarshal(it.Payload, &rec); err != nil || rec.CompositeKey != key {
		return nil
	}
	return &rec
}

func (s *Service) writeMirror(rec *Record) {
	if s.tiers == nil {
		return
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.tiers.Set(cache.NSSource+rec.CompositeKey, cache.Item{
		Payload:     buf,
		ContentType: "application/json",
		StoredAt:    rec.FetchedAt,
	}, s.mirror)
}

// getProvider returns the provider, constructing it on first use. All
// concurrent first calls share one construction attempt; failure leaves the
// service uninitialized so the next request retries.
func (s *Service) getProvider(ctx context.Context) (Provider, error) {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v, err, _ := s.initG.Do("init", func() (interface{}, error) {
		built, err := s.newProvider()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.mu.Lock()
		s.provider = built
		s.mu.Unlock()
		s.logger.Info().Str("event", "scrape.provider_ready").Msg("discovery provider initialized")
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

func fetchedAt(rec *Record) time.Time {
	if rec == nil {
		return time.Time{}
	}
	return rec.FetchedAt
}
