package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const generationKey = "analytics:generation"

// AnalyticsCache memoizes computed analytics responses.
// Entries are namespaced by a generation counter; bumping the counter after a sync
// orphans every earlier entry at once, and TTL expiry reclaims them.
type AnalyticsCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewAnalyticsCache creates a new analytics cache instance. redis may be nil.
func NewAnalyticsCache(redis *RedisClient, ttl time.Duration) *AnalyticsCache {
	return &AnalyticsCache{
		redis: redis,
		ttl:   ttl,
	}
}

// Enabled reports whether a Redis backend is configured.
func (c *AnalyticsCache) Enabled() bool {
	return c != nil && c.redis.ready()
}

func (c *AnalyticsCache) key(ctx context.Context, kind string, params interface{}) (string, error) {
	gen, err := c.redis.GetInt(ctx, generationKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("analytics:%d:%s:%s", gen, kind, GenerateParamsHash(params)), nil
}

// Get loads a cached result into dest. It reports false on any miss or error.
func (c *AnalyticsCache) Get(ctx context.Context, kind string, params interface{}, dest interface{}) bool {
	if !c.Enabled() {
		return false
	}
	key, err := c.key(ctx, kind, params)
	if err != nil {
		return false
	}
	return c.redis.Get(ctx, key, dest) == nil
}

// Set stores a computed result. Failures are logged and otherwise ignored.
func (c *AnalyticsCache) Set(ctx context.Context, kind string, params interface{}, value interface{}) {
	if !c.Enabled() {
		return
	}
	key, err := c.key(ctx, kind, params)
	if err != nil {
		zap.L().Debug("Analytics cache key failed", zap.String("kind", kind), zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, key, value, c.ttl); err != nil {
		zap.L().Debug("Analytics cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate bumps the generation so every cached result is recomputed on next read.
func (c *AnalyticsCache) Invalidate(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	gen, err := c.redis.Incr(ctx, generationKey)
	if err != nil {
		zap.L().Warn("Failed to invalidate analytics cache", zap.Error(err))
		return
	}
	zap.L().Debug("Analytics cache invalidated", zap.Int64("generation", gen))
}

// GenerateParamsHash creates a short stable hash of request parameters
func GenerateParamsHash(params interface{}) string {
	jsonData, _ := json.Marshal(params)
	return fmt.Sprintf("%x", md5.Sum(jsonData))[:12]
}
