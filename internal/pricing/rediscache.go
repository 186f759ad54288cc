package pricing

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisKey is the single key the pricing overlay is stored under; the
// TTL on the key itself enforces the one-hour remote refresh window so
// multiple collector replicas share one fetch.
const redisKey = "usage-collector:pricing:overlay"

// RedisCache is an optional L2 cache for the remote pricing overlay,
// letting multiple collector instances share one llm-prices.com fetch
// per TTL window instead of each hitting the network independently.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing *redis.Client. Passing a nil client is
// allowed and yields a cache that always misses, matching the "Redis is
// optional" contract.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Load returns the cached overlay and true if present and unexpired.
func (c *RedisCache) Load(ctx context.Context) (map[string]Price, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).Debug("pricing: redis cache read failed")
		}
		return nil, false
	}
	var prices map[string]Price
	if err := json.Unmarshal(raw, &prices); err != nil {
		log.WithError(err).Warn("pricing: redis cache decode failed")
		return nil, false
	}
	return prices, true
}

// Store writes the overlay with the remote TTL so it naturally expires
// alongside the in-process cache.
func (c *RedisCache) Store(ctx context.Context, prices map[string]Price) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(prices)
	if err != nil {
		log.WithError(err).Warn("pricing: redis cache encode failed")
		return
	}
	if err := c.client.Set(ctx, redisKey, raw, remoteTTL).Err(); err != nil {
		log.WithError(err).Debug("pricing: redis cache write failed")
	}
}
