// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Hash fields for cached entries.
const (
	fieldPayload = "payload"
	fieldCType   = "ctype"
	fieldBinary  = "bin"
	fieldAt      = "at"
)

// opTimeout bounds every Redis round trip. The remote tier is an
// accelerator; a slow Redis must degrade to misses, never stall a response.
const opTimeout = 2 * time.Second

// RedisCache is the shared Redis tier. Entries are stored as hashes so the
// payload stays raw bytes next to its metadata.
type RedisCache struct {
	client   *redis.Client
	maxBytes int64
	logger   zerolog.Logger
	stats    struct {
		hits   atomic.Int64
		misses atomic.Int64
		sets   atomic.Int64
	}
}

var _ Cache = (*RedisCache)(nil)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	MaxBytes int64  // Largest payload written to this tier
}

// NewRedisCache connects the shared tier and verifies the server responds.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis cache")

	return &RedisCache{
		client:   client,
		maxBytes: config.MaxBytes,
		logger:   logger,
	}, nil
}

// Get retrieves an item from the Redis tier.
func (c *RedisCache) Get(key string) (Item, bool) {
	it, _, ok := c.GetWithTTL(key)
	return it, ok
}

// GetWithTTL also reports the remaining TTL so the memory tier can backfill
// without extending freshness. The TTL is 0 when unknown.
func (c *RedisCache) GetWithTTL(key string) (Item, time.Duration, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	pipe := c.client.Pipeline()
	getCmd := pipe.HGetAll(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		c.stats.misses.Add(1)
		return Item{}, 0, false
	}

	fields := getCmd.Val()
	if len(fields) == 0 {
		c.stats.misses.Add(1)
		return Item{}, 0, false
	}

	it := Item{
		Payload:     []byte(fields[fieldPayload]),
		ContentType: fields[fieldCType],
		Binary:      fields[fieldBinary] == "1",
	}
	if at, err := strconv.ParseInt(fields[fieldAt], 10, 64); err == nil {
		it.StoredAt = time.Unix(at, 0)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	c.stats.hits.Add(1)
	return it, ttl, true
}

// Set stores an item with TTL. Payloads over the byte limit are skipped so
// one oversized segment cannot crowd out the shared tier.
func (c *RedisCache) Set(key string, it Item, ttl time.Duration) {
	if c.maxBytes > 0 && int64(len(it.Payload)) > c.maxBytes {
		c.logger.Debug().Str("key", key).Int("bytes", len(it.Payload)).Msg("payload exceeds remote cache limit")
		return
	}
	if ttl <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	at := it.StoredAt
	if at.IsZero() {
		at = time.Now()
	}
	bin := "0"
	if it.Binary {
		bin = "1"
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key,
		fieldPayload, it.Payload,
		fieldCType, it.ContentType,
		fieldBinary, bin,
		fieldAt, strconv.FormatInt(at.Unix(), 10),
	)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}

	c.stats.sets.Add(1)
}

// Delete removes an item from the Redis tier.
func (c *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// Stats returns cache statistics.
func (c *RedisCache) Stats() CacheStats {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("redis dbsize failed")
		size = 0
	}

	return CacheStats{
		Hits:    c.stats.hits.Load(),
		Misses:  c.stats.misses.Load(),
		Sets:    c.stats.sets.Load(),
		Entries: int(size),
	}
}

// HealthCheck checks if Redis is available.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
