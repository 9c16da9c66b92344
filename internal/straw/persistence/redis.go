// Package persistence caches recent AnalyseResults in Redis so a
// reconnecting local controller can re-fetch a report it missed
// (SPEC_FULL.md §8; grounded on the teacher's internal/persistence/redis.go
// and internal/db/redis.go). This is strictly a cache, never the system
// of record — see ResultCache's doc comment.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"straw/internal/straw/analysable"
)

// ResultCache wraps a *redis.Client with the one operation the engine
// needs: cache the final AnalyseResult of a run under its run id, with a
// bounded TTL. It never backs a read path the Master depends on to
// function — only a best-effort re-fetch for a controller that
// disconnected before receiving the report over the control channel.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache parses redisURL (redis://[:password@]host:port/db) and
// verifies connectivity before returning.
func NewResultCache(ctx context.Context, redisURL string, ttl time.Duration) (*ResultCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("straw: parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("straw: ping redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{client: client, ttl: ttl}, nil
}

func resultKey(runID string) string {
	return fmt.Sprintf("straw:results:%s", runID)
}

// Put caches result under runID.
func (c *ResultCache) Put(ctx context.Context, runID string, result *analysable.Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("straw: encode cached result: %w", err)
	}
	return c.client.Set(ctx, resultKey(runID), encoded, c.ttl).Err()
}

// Get fetches a previously cached result, returning (nil, nil) on a
// cache miss rather than an error — a miss is an expected outcome, not a
// failure.
func (c *ResultCache) Get(ctx context.Context, runID string) (*analysable.Result, error) {
	data, err := c.client.Get(ctx, resultKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("straw: get cached result: %w", err)
	}
	var result analysable.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("straw: decode cached result: %w", err)
	}
	return &result, nil
}

// Close releases the underlying connection pool.
func (c *ResultCache) Close() error {
	return c.client.Close()
}
