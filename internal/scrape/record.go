// SPDX-License-Identifier: MIT

// Package scrape discovers episode streaming sources through the configured
// provider API and keeps the results in a durable, freshness-windowed store.
package scrape

import (
	"encoding/json"
	"time"
)

// Record is one discovery result, keyed by episode, audio category and
// server. Payload stays opaque JSON: the proxy never interprets source
// descriptors, it only hands them to clients.
type Record struct {
	CompositeKey string          `json:"compositeKey"`
	EpisodeID    string          `json:"episodeId"`
	Category     string          `json:"category"`
	Server       string          `json:"server"`
	Payload      json.RawMessage `json:"payload"`
	FetchedAt    time.Time       `json:"fetchedAt"`
}

// CompositeKey builds the canonical record key.
func CompositeKey(episodeID, category, server string) string {
	return episodeID + "::" + category + "::" + server
}

// Fresh reports whether the record is inside the freshness window.
func (r *Record) Fresh(now time.Time, window time.Duration) bool {
	if r == nil || r.FetchedAt.IsZero() {
		return false
	}
	return now.Sub(r.FetchedAt) < window
}
