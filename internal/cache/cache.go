// SPDX-License-Identifier: MIT

// Package cache provides the two-tier response cache: a byte-budget
// in-process LRU in front of an optional shared Redis tier.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Key namespaces. Playlists, media segments and scraped source lists carry
// different TTL classes and must never collide.
const (
	NSPlaylist = "m3u8:"
	NSSegment  = "seg:"
	NSSource   = "src:"
)

// Key derives the cache key for url under ns. The referer participates in
// the key because upstreams vary responses on it.
func Key(ns, url, ref string) string {
	sum := sha256.Sum256([]byte(url))
	k := ns + hex.EncodeToString(sum[:8])
	if ref != "" {
		k += "::ref=" + ref
	}
	return k
}

// Item is a cached upstream response body.
type Item struct {
	Payload     []byte
	ContentType string
	Binary      bool
	StoredAt    time.Time
}

// size approximates the memory footprint of a cached entry.
func (it Item) size(key string) int64 {
	return int64(len(it.Payload) + len(it.ContentType) + len(key) + 96)
}

// Cache is the contract both tiers implement.
type Cache interface {
	// Get retrieves an item. Returns false if not found or expired.
	Get(key string) (Item, bool)
	// Set stores an item with the specified TTL.
	Set(key string, it Item, ttl time.Duration)
	// Delete removes an item.
	Delete(key string)
	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Hits      int64 // Successful Get operations
	Misses    int64 // Failed Get operations (not found or expired)
	Sets      int64 // Set operations
	Evictions int64 // Entries dropped for budget or expiry
	Entries   int   // Current number of cached entries
	Bytes     int64 // Approximate bytes held (memory tier only)
}

// memEntry is a cached item plus its LRU bookkeeping.
type memEntry struct {
	key    string
	item   Item
	expiry time.Time
	size   int64
}

// MemoryCache is the in-process tier: an LRU bounded by a byte budget with
// per-entry TTLs. Expired entries drop lazily on read and in bulk via the
// janitor.
type MemoryCache struct {
	budget int64
	now    func() time.Time

	mu      sync.Mutex
	used    int64
	order   *list.List
	items   map[string]*list.Element
	stats   CacheStats
	janitor *janitor
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates the in-process tier. The cleanupInterval determines
// how often expired entries are swept; 0 disables the janitor.
func NewMemoryCache(budget int64, cleanupInterval time.Duration) *MemoryCache {
	c := &MemoryCache{
		budget: budget,
		now:    time.Now,
		order:  list.New(),
		items:  make(map[string]*list.Element),
	}

	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c)
	}

	return c
}

// Get retrieves an item from the cache.
func (c *MemoryCache) Get(key string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.items[key]
	if !found {
		c.stats.Misses++
		return Item{}, false
	}

	ent := el.Value.(*memEntry)
	if c.now().After(ent.expiry) {
		c.removeLocked(el)
		c.stats.Misses++
		return Item{}, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return ent.item, true
}

// Set stores an item, evicting least-recently-used entries until the budget
// holds. Items larger than the whole budget are not cached.
func (c *MemoryCache) Set(key string, it Item, ttl time.Duration) {
	size := it.size(key)
	if size > c.budget || ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.items[key]; found {
		c.removeLocked(el)
	}
	ent := &memEntry{key: key, item: it, expiry: c.now().Add(ttl), size: size}
	c.items[key] = c.order.PushFront(ent)
	c.used += size
	c.stats.Sets++

	for c.used > c.budget {
		el := c.order.Back()
		if el == nil {
			break
		}
		c.removeLocked(el)
		c.stats.Evictions++
	}
}

// Delete removes an item from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.items[key]; found {
		c.removeLocked(el)
	}
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = c.order.Len()
	stats.Bytes = c.used
	return stats
}

// deleteExpired removes all expired entries. Returns the number deleted.
func (c *MemoryCache) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if ent := el.Value.(*memEntry); now.After(ent.expiry) {
			c.removeLocked(el)
			count++
		}
		el = prev
	}

	c.stats.Evictions += int64(count)
	return count
}

// Stop stops the background cleanup goroutine.
func (c *MemoryCache) Stop() {
	if c.janitor != nil {
		c.janitor.stop <- struct{}{}
	}
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	ent := c.order.Remove(el).(*memEntry)
	delete(c.items, ent.key)
	c.used -= ent.size
}

// janitor performs periodic cleanup of expired entries.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
}

// run starts the cleanup loop.
func (j *janitor) run(c *MemoryCache) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-j.stop:
			return
		}
	}
}
