// SPDX-License-Identifier: MIT

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	scrapeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_scrape_requests_total",
		Help: "Total provider API calls, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"}) // outcome=success|failure

	scrapeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anigate_scrape_latency_seconds",
		Help:    "Provider API call latency, by endpoint.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
	}, []string{"endpoint"})

	staleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anigate_scrape_stale_served_total",
		Help: "Total responses served from stale scrape records after provider failures.",
	})

	prewarmJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_prewarm_jobs_total",
		Help: "Total prewarm jobs, by result.",
	}, []string{"result"}) // result=done|failed|deduped|dropped

	prewarmQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anigate_prewarm_queue_depth",
		Help: "Prewarm jobs waiting for a worker.",
	})
)

// RecordScrape records one provider call.
func RecordScrape(endpoint string, err error, d time.Duration) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	scrapeRequests.WithLabelValues(endpoint, outcome).Inc()
	scrapeLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

// RecordStaleServed counts a response built from an expired scrape record.
func RecordStaleServed() {
	staleServed.Inc()
}

// RecordPrewarmJob counts a prewarm job result.
func RecordPrewarmJob(result string) {
	prewarmJobs.WithLabelValues(result).Inc()
}

// IncPrewarmQueue tracks a job entering the queue.
func IncPrewarmQueue() {
	prewarmQueueDepth.Inc()
}

// DecPrewarmQueue tracks a job leaving the queue.
func DecPrewarmQueue() {
	prewarmQueueDepth.Dec()
}

// GetPrewarmQueueDepth returns the current gauge value (for testing).
func GetPrewarmQueueDepth() float64 {
	var m dto.Metric
	if err := prewarmQueueDepth.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
