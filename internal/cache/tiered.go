// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"time"
)

// Tier names the cache layer that served a hit.
type Tier string

const (
	TierMemory Tier = "memory"
	TierRedis  Tier = "redis"
	TierNone   Tier = ""
)

// Tiered reads through the memory tier into Redis and backfills on remote
// hits. The remote tier is optional; without it Tiered degrades to the
// in-process LRU.
type Tiered struct {
	mem    *MemoryCache
	remote *RedisCache
}

// NewTiered composes the two tiers. remote may be nil.
func NewTiered(mem *MemoryCache, remote *RedisCache) *Tiered {
	return &Tiered{mem: mem, remote: remote}
}

// Get returns the item for key and the tier that held it. Remote hits are
// backfilled into memory for backfillTTL, clamped to the entry's remaining
// remote TTL so freshness never extends.
func (t *Tiered) Get(key string, backfillTTL time.Duration) (Item, Tier, bool) {
	if it, ok := t.mem.Get(key); ok {
		return it, TierMemory, true
	}
	if t.remote == nil {
		return Item{}, TierNone, false
	}

	it, remaining, ok := t.remote.GetWithTTL(key)
	if !ok {
		return Item{}, TierNone, false
	}
	ttl := backfillTTL
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	t.mem.Set(key, it, ttl)
	return it, TierRedis, true
}

// Set writes the item to both tiers.
func (t *Tiered) Set(key string, it Item, ttl time.Duration) {
	t.mem.Set(key, it, ttl)
	if t.remote != nil {
		t.remote.Set(key, it, ttl)
	}
}

// Delete drops key from both tiers.
func (t *Tiered) Delete(key string) {
	t.mem.Delete(key)
	if t.remote != nil {
		t.remote.Delete(key)
	}
}

// MemoryStats snapshots the in-process tier.
func (t *Tiered) MemoryStats() CacheStats {
	return t.mem.Stats()
}

// HealthCheck reports remote tier reachability; a missing remote is healthy.
func (t *Tiered) HealthCheck(ctx context.Context) error {
	if t.remote == nil {
		return nil
	}
	return t.remote.HealthCheck(ctx)
}

// Close releases the remote tier and stops the memory janitor.
func (t *Tiered) Close() error {
	t.mem.Stop()
	if t.remote != nil {
		return t.remote.Close()
	}
	return nil
}
