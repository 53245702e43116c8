// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the anigate proxy.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

var (
	// ProxyRequestsTotal counts proxied fetches by payload kind, serving
	// cache tier and response status.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_proxy_requests_total",
		Help: "Total proxied requests, by payload kind, cache tier and status.",
	}, []string{"kind", "cache", "status"})

	// ProxyUpstreamLatency tracks time to fetch a resource from origin.
	ProxyUpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "anigate_proxy_upstream_latency_seconds",
		Help:    "Origin fetch latency, by payload kind.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13},
	}, []string{"kind"})

	// ProxyResponseBytes counts bytes returned to clients.
	ProxyResponseBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_proxy_response_bytes_total",
		Help: "Total bytes served to clients, by payload kind.",
	}, []string{"kind"})

	// RewriteFailuresTotal counts manifest bodies that could not be rewritten.
	RewriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_rewrite_failures_total",
		Help: "Total manifest rewrite failures, by payload kind.",
	}, []string{"kind"})

	// SignedHandles tracks the current size of the handle table.
	SignedHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "anigate_signed_handles",
		Help: "Current number of live signed playback handles.",
	})

	// HandleRedeemTotal counts handle redemptions by outcome.
	HandleRedeemTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anigate_handle_redeem_total",
		Help: "Total signed handle redemptions, by outcome.",
	}, []string{"result"}) // result=ok|expired|bad_signature|unknown|malformed
)

// RecordProxyRequest records one proxied request.
func RecordProxyRequest(kind, cacheTier string, status int) {
	if cacheTier == "" {
		cacheTier = "none"
	}
	ProxyRequestsTotal.WithLabelValues(kind, cacheTier, strconv.Itoa(status)).Inc()
}

// ObserveUpstreamLatency records an origin fetch duration.
func ObserveUpstreamLatency(kind string, d time.Duration) {
	ProxyUpstreamLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// AddProxyResponseBytes accumulates bytes served to clients.
func AddProxyResponseBytes(kind string, n int64) {
	if n > 0 {
		ProxyResponseBytes.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordRewriteFailure counts a manifest body the rewriter rejected.
func RecordRewriteFailure(kind string) {
	RewriteFailuresTotal.WithLabelValues(kind).Inc()
}

// SetSignedHandles sets the handle table gauge.
func SetSignedHandles(n int) {
	SignedHandles.Set(float64(n))
}

// RecordHandleRedeem counts a handle redemption outcome.
func RecordHandleRedeem(result string) {
	HandleRedeemTotal.WithLabelValues(result).Inc()
}

// GetSignedHandles returns the current gauge value (for testing).
func GetSignedHandles() float64 {
	var m dto.Metric
	if err := SignedHandles.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}
