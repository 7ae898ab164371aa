// Package cachekv is the Config Cache: a two-tier (in-process + Redis)
// store of pre-joined per-(flag, environment) snapshots. Grounded on the
// teacher's cmd/edge-evaluator/internal/cache/config_cache.go, restructured
// from whole-environment caching to the spec's per-(flag, environment) key
// schema with pattern-based bulk invalidation.
package cachekv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/flagforge/platform/pkg/store"
)

// TTL is the Redis-side safety net for stale keys; it is not the primary
// freshness mechanism (spec.md §4.4).
const TTL = 300 * time.Second

// Stats mirrors the teacher's CacheStats shape.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// Cache is the two-tier Config Cache.
type Cache struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu      sync.RWMutex
	entries map[string]*store.Snapshot

	hits, misses, evictions int64
}

// New wires a Cache over an already-connected Redis client.
func New(redisClient *redis.Client, logger zerolog.Logger) *Cache {
	return &Cache{
		redis:   redisClient,
		logger:  logger.With().Str("component", "config_cache").Logger(),
		entries: make(map[string]*store.Snapshot),
	}
}

func key(flagKey, environment string) string {
	return fmt.Sprintf("flag_config:%s:%s", flagKey, environment)
}

// Get checks the in-process tier, then Redis. The second return value
// reports whether the snapshot was found in either tier.
func (c *Cache) Get(ctx context.Context, flagKey, environment string) (*store.Snapshot, bool) {
	k := key(flagKey, environment)

	c.mu.RLock()
	if snap, ok := c.entries[k]; ok {
		c.mu.RUnlock()
		c.recordHit()
		return snap, true
	}
	c.mu.RUnlock()

	raw, err := c.redis.Get(ctx, k).Result()
	if err != nil {
		c.recordMiss()
		if err != redis.Nil {
			c.logger.Warn().Err(err).Str("key", k).Msg("redis read failed")
		}
		return nil, false
	}

	var snap store.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		c.logger.Warn().Err(err).Str("key", k).Msg("corrupt cache entry")
		c.recordMiss()
		return nil, false
	}

	c.mu.Lock()
	c.entries[k] = &snap
	c.mu.Unlock()
	c.recordHit()
	return &snap, true
}

// Set fills both tiers. Redis failures are logged, not fatal — a cache
// write failure must never fail the evaluation request that triggered it
// (spec.md §4.5 step 4).
func (c *Cache) Set(ctx context.Context, flagKey, environment string, snap *store.Snapshot) {
	k := key(flagKey, environment)

	c.mu.Lock()
	c.entries[k] = snap
	c.mu.Unlock()

	raw, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", k).Msg("failed to encode snapshot")
		return
	}
	if err := c.redis.Set(ctx, k, raw, TTL).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", k).Msg("failed to write cache entry to redis")
	}
}

// Invalidate deletes one (flag, environment) key from both tiers. Must be
// called by the Control Plane strictly after the store transaction commits
// and strictly before the mutation response is returned (spec.md §4.4).
func (c *Cache) Invalidate(ctx context.Context, flagKey, environment string) error {
	k := key(flagKey, environment)

	c.mu.Lock()
	if _, ok := c.entries[k]; ok {
		delete(c.entries, k)
		c.evictions++
	}
	c.mu.Unlock()

	if err := c.redis.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", k, err)
	}
	return nil
}

// InvalidateLocal drops one (flag, environment) key from the in-process
// tier only, without touching Redis. Used by the NATS cross-replica
// invalidation subscriber: the publishing node already cleared Redis, so
// every other replica only needs to evict its own L1 entry (spec.md §4.4
// invariant 6 — otherwise a replica that cached a snapshot before the
// mutation would keep serving it, since the L1 tier has no TTL).
func (c *Cache) InvalidateLocal(flagKey, environment string) {
	k := key(flagKey, environment)
	c.mu.Lock()
	if _, ok := c.entries[k]; ok {
		delete(c.entries, k)
		c.evictions++
	}
	c.mu.Unlock()
}

// InvalidateFlag deletes every environment's key for flagKey, used by the
// kill switch. Scans rather than KEYS to avoid blocking Redis under load.
func (c *Cache) InvalidateFlag(ctx context.Context, flagKey string) error {
	pattern := fmt.Sprintf("flag_config:%s:*", flagKey)

	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, fmt.Sprintf("flag_config:%s:", flagKey)) {
			delete(c.entries, k)
			c.evictions++
		}
	}
	c.mu.Unlock()

	var cursor uint64
	for {
		keys, next, err := c.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete matched keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Stats returns hit/miss/eviction counters and in-process size, used by
// /stats and GET /cache.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions, Size: len(c.entries)}
}

// ListCached returns every flag:environment pair currently resident in the
// in-process tier (diagnostic).
func (c *Cache) ListCached() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}
