// Package cache provides the Redis-backed idempotency index for ingest
// submissions.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "bridge:idem:"

// IdempotencyCache maps client idempotency keys to job ids so a resubmitted
// request returns the original job instead of starting a new one.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Lookup returns the job id recorded for the key, if any.
func (c *IdempotencyCache) Lookup(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil || key == "" {
		return "", false
	}
	jobID, err := c.client.Get(ctx, idempotencyPrefix+key).Result()
	if err != nil || jobID == "" {
		return "", false
	}
	return jobID, true
}

// Reserve records jobID for the key unless another job already holds it; the
// winning job id is returned either way.
func (c *IdempotencyCache) Reserve(ctx context.Context, key, jobID string) (string, error) {
	if c == nil || c.client == nil || key == "" {
		return jobID, nil
	}
	ok, err := c.client.SetNX(ctx, idempotencyPrefix+key, jobID, c.ttl).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return jobID, nil
	}
	existing, err := c.client.Get(ctx, idempotencyPrefix+key).Result()
	if err != nil {
		return "", err
	}
	return existing, nil
}
