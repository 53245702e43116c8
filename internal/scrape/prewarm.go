// SPDX-License-Identifier: MIT

package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kaedera/anigate/internal/log"
	"github.com/kaedera/anigate/internal/metrics"
)

const defaultQueueDepth = 256

type prewarmJob struct {
	episodeID string
	category  string
	server    string
}

// PrewarmerOptions tunes the background source fetcher.
type PrewarmerOptions struct {
	// Workers is the fetch concurrency. Defaults to 4.
	Workers int
	// RPS paces provider calls across all workers; 0 disables pacing.
	RPS float64
	// Burst is the pacing burst. Defaults to Workers.
	Burst int
	// QueueDepth bounds pending jobs. Defaults to 256.
	QueueDepth int
}

// Prewarmer fetches sources for episode lists in the background so later
// playback requests hit warm records. Scheduling never blocks the caller:
// a full queue drops jobs instead of queueing the HTTP handler.
type Prewarmer struct {
	svc     *Service
	queue   chan prewarmJob
	workers int
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPrewarmer builds a prewarmer over the scrape service.
func NewPrewarmer(svc *Service, opts PrewarmerOptions) *Prewarmer {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = workers
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Prewarmer{
		svc:     svc,
		queue:   make(chan prewarmJob, depth),
		workers: workers,
		limiter: limiter,
		logger:  log.WithComponent("prewarm"),
	}
}

// Start launches the workers. ctx cancellation makes remaining jobs no-ops;
// Stop still must be called to reclaim the goroutines.
func (p *Prewarmer) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Schedule enqueues unique episode IDs and reports how many were accepted.
// Duplicate IDs within one call collapse; jobs already fresh are skipped by
// the workers, so re-scheduling is idempotent.
func (p *Prewarmer) Schedule(episodeIDs []string, category, server string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}

	seen := make(map[string]struct{}, len(episodeIDs))
	scheduled := 0

	for _, id := range episodeIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		select {
		case p.queue <- prewarmJob{episodeID: id, category: category, server: server}:
			metrics.IncPrewarmQueue()
			scheduled++
		default:
			metrics.RecordPrewarmJob("dropped")
			p.logger.Warn().
				Str("event", "prewarm.queue_full").
				Str("episode_id", id).
				Msg("prewarm queue full, dropping job")
		}
	}

	return scheduled
}

// Stop closes the queue and waits for the workers to drain it.
func (p *Prewarmer) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Prewarmer) worker(ctx context.Context) {
	defer p.wg.Done()

	for job := range p.queue {
		metrics.DecPrewarmQueue()

		if ctx.Err() != nil {
			// Shutting down: drain the queue without provider calls.
			continue
		}

		p.run(ctx, job)
	}
}

func (p *Prewarmer) run(ctx context.Context, job prewarmJob) {
	key := CompositeKey(job.episodeID, job.category, job.server)

	if rec := p.svc.lookup(ctx, key); rec.Fresh(p.svc.now(), p.svc.freshFor) {
		metrics.RecordPrewarmJob("deduped")
		return
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			metrics.RecordPrewarmJob("failed")
			return
		}
	}

	start := time.Now()
	if _, err := p.svc.refresh(ctx, key, job.episodeID, job.category, job.server); err != nil {
		metrics.RecordPrewarmJob("failed")
		p.logger.Warn().
			Err(err).
			Str("event", "prewarm.failed").
			Str("key", key).
			Msg("prewarm fetch failed")
		return
	}

	metrics.RecordPrewarmJob("done")
	p.logger.Debug().
		Str("event", "prewarm.done").
		Str("key", key).
		Dur("took", time.Since(start)).
		Msg("sources prewarmed")
}
