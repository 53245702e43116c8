// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID     = "request_id"
	FieldCorrelationID = "correlation_id"
	FieldJobID         = "job_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Proxy fields
	FieldURLHash        = "url_hash"
	FieldKind           = "kind"
	FieldCacheTier      = "cache_tier"
	FieldUpstreamStatus = "upstream_status"
	FieldHandle         = "handle"

	// Scrape fields
	FieldEpisodeID = "episode_id"
	FieldCategory  = "category"
	FieldServer    = "server"
	FieldStale     = "stale"
)
