// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared across spans so dashboards can group on them.
const (
	// HTTP server attributes
	HTTPMethodKey = "http.method"
	HTTPRouteKey  = "http.route"
	HTTPURLKey    = "http.url"
	HTTPStatusKey = "http.status_code"

	// Proxy attributes
	ProxyKindKey      = "proxy.kind"
	ProxyCacheTierKey = "proxy.cache_tier"
	ProxyStatusKey    = "http.status_code"

	// Upstream fetch attributes
	UpstreamHostKey    = "upstream.host"
	UpstreamKindKey    = "upstream.kind"
	UpstreamAttemptKey = "upstream.attempt"

	// Provider scrape attributes
	ScrapeEndpointKey = "scrape.endpoint"
	ScrapeAnimeIDKey  = "scrape.anime_id"
	ScrapeStaleKey    = "scrape.stale"

	// Prewarm attributes
	PrewarmEpisodeKey  = "prewarm.episode_id"
	PrewarmCategoryKey = "prewarm.category"
	PrewarmServerKey   = "prewarm.server"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes describes one inbound HTTP request. Route should be the
// registered pattern, not the raw path, to keep span cardinality bounded.
func HTTPAttributes(method, route, url string, status int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusKey, status),
	}
}

// ProxyAttributes describes one proxied media request.
func ProxyAttributes(kind, cacheTier string, status int) []attribute.KeyValue {
	if cacheTier == "" {
		cacheTier = "none"
	}
	return []attribute.KeyValue{
		attribute.String(ProxyKindKey, kind),
		attribute.String(ProxyCacheTierKey, cacheTier),
		attribute.Int(ProxyStatusKey, status),
	}
}

// UpstreamAttributes describes one outbound fetch attempt.
func UpstreamAttributes(host, kind string, attempt int) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if host != "" {
		attrs = append(attrs, attribute.String(UpstreamHostKey, host))
	}
	if kind != "" {
		attrs = append(attrs, attribute.String(UpstreamKindKey, kind))
	}
	attrs = append(attrs, attribute.Int(UpstreamAttemptKey, attempt))
	return attrs
}

// ScrapeAttributes describes one provider API call.
func ScrapeAttributes(endpoint, animeID string, stale bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ScrapeEndpointKey, endpoint),
		attribute.String(ScrapeAnimeIDKey, animeID),
		attribute.Bool(ScrapeStaleKey, stale),
	}
}

// PrewarmAttributes describes one prewarm job.
func PrewarmAttributes(episodeID, category, server string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(PrewarmEpisodeKey, episodeID),
		attribute.String(PrewarmCategoryKey, category),
		attribute.String(PrewarmServerKey, server),
	}
}

// ErrorAttributes marks a span failed. The error value itself stays out of
// attributes to keep cardinality bounded; errorType is a coarse class like
// "timeout" or "upstream_4xx".
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
