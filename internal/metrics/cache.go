// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_cache_hits_total",
		Help: "Total cache hits, by tier and key namespace.",
	}, []string{"tier", "namespace"})

	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_cache_misses_total",
		Help: "Total cache misses that went to origin, by key namespace.",
	}, []string{"namespace"})

	cacheMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anigate_cache_memory_bytes",
		Help: "Bytes held by the in-process cache tier.",
	})

	cacheMemoryEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anigate_cache_memory_entries",
		Help: "Entries held by the in-process cache tier.",
	})
)

// RecordCacheHit counts a hit on the given tier.
func RecordCacheHit(tier, namespace string) {
	cacheHits.WithLabelValues(tier, namespace).Inc()
}

// RecordCacheMiss counts a miss that reached origin.
func RecordCacheMiss(namespace string) {
	cacheMisses.WithLabelValues(namespace).Inc()
}

// SetCacheMemoryStats updates the in-process tier gauges.
func SetCacheMemoryStats(bytes int64, entries int) {
	cacheMemoryBytes.Set(float64(bytes))
	cacheMemoryEntries.Set(float64(entries))
}
