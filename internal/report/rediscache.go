package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/opencode-ai/opencode/pkg/types"
)

// RedisCache is the Cache implementation selected by Config.Report.Backend
// == "redis". It lets multiple service instances share the AI-enriched
// report overflow tier instead of each keeping its own file-backed copy,
// the same multi-node sharing rationale the registry's replicated-map/Redis
// pairing in the goa-ai example uses for toolset state.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a RedisCache against a Redis instance at addr.
func NewRedisCache(addr string) *RedisCache {
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func redisKey(key Key) string {
	return fmt.Sprintf("report:%s:%s:%s", key.UserID, key.DumpID, key.LLMKey)
}

// Get returns the cached snapshot for key, or (nil, false, nil) on a miss.
func (c *RedisCache) Get(ctx context.Context, key Key) (*types.ReportSnapshot, bool, error) {
	data, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("report: redis get: %w", err)
	}
	var snap types.ReportSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("report: unmarshal cached snapshot: %w", err)
	}
	return &snap, true, nil
}

// Put persists snap under key with no expiry — an entry is removed only by
// Delete, never by TTL, matching the file-backed cache's lifetime semantics.
// Store.InvalidateOnWatchChange does not touch this tier.
func (c *RedisCache) Put(ctx context.Context, key Key, snap types.ReportSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("report: marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("report: redis set: %w", err)
	}
	return nil
}

// Delete removes the cached snapshot for key, if present.
func (c *RedisCache) Delete(ctx context.Context, key Key) error {
	if err := c.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("report: redis del: %w", err)
	}
	return nil
}
