// SPDX-License-Identifier: MIT

package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeKey(t *testing.T) {
	key := CompositeKey("solo-leveling-18718?ep=94", "sub", "hd-1")
	assert.Equal(t, "solo-leveling-18718?ep=94::sub::hd-1", key)
}

func TestCompositeKey_DistinctPerDimension(t *testing.T) {
	base := CompositeKey("ep-1", "sub", "hd-1")
	assert.NotEqual(t, base, CompositeKey("ep-2", "sub", "hd-1"))
	assert.NotEqual(t, base, CompositeKey("ep-1", "dub", "hd-1"))
	assert.NotEqual(t, base, CompositeKey("ep-1", "sub", "hd-2"))
}

func TestRecordFresh(t *testing.T) {
	now := time.Unix(1756200000, 0)
	window := 30 * time.Minute

	tests := []struct {
		name      string
		rec       *Record
		wantFresh bool
	}{
		{
			name:      "nil record",
			rec:       nil,
			wantFresh: false,
		},
		{
			name:      "zero fetchedAt",
			rec:       &Record{},
			wantFresh: false,
		},
		{
			name:      "just fetched",
			rec:       &Record{FetchedAt: now.Add(-time.Second)},
			wantFresh: true,
		},
		{
			name:      "inside window",
			rec:       &Record{FetchedAt: now.Add(-29 * time.Minute)},
			wantFresh: true,
		},
		{
			name:      "exactly at window",
			rec:       &Record{FetchedAt: now.Add(-window)},
			wantFresh: false,
		},
		{
			name:      "stale",
			rec:       &Record{FetchedAt: now.Add(-2 * time.Hour)},
			wantFresh: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantFresh, tt.rec.Fresh(now, window))
		})
	}
}
