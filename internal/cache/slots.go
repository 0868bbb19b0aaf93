// Package cache keeps short-lived slot availability grids in redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SlotCache stores computed availability grids per (venue, date).
// A nil client disables caching; every call is then a miss or a no-op.
type SlotCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewSlotCache constructs a cache. ttl <= 0 disables it.
func NewSlotCache(client *redis.Client, ttl time.Duration) *SlotCache {
	return &SlotCache{redis: client, ttl: ttl}
}

func slotKey(venueID, date string) string {
	return fmt.Sprintf("slots:%s:%s", venueID, date)
}

func (c *SlotCache) enabled() bool {
	return c != nil && c.redis != nil && c.ttl > 0
}

// Get reads a grid into out and reports whether it was found.
func (c *SlotCache) Get(ctx context.Context, venueID, date string, out any) bool {
	if !c.enabled() {
		return false
	}
	val, err := c.redis.Get(ctx, slotKey(venueID, date)).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

// Set writes a grid. Errors are ignored; the cache is advisory.
func (c *SlotCache) Set(ctx context.Context, venueID, date string, val any) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, slotKey(venueID, date), data, c.ttl).Err()
}

// Invalidate drops the grid of (venue, date).
func (c *SlotCache) Invalidate(ctx context.Context, venueID, date string) {
	if !c.enabled() {
		return
	}
	_ = c.redis.Del(ctx, slotKey(venueID, date)).Err()
}

// Ping checks the redis connection. A disabled cache is always healthy.
func (c *SlotCache) Ping(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}
