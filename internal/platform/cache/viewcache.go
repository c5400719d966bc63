package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ViewCache is a short-TTL read-through cache for derived views. It is a
// read-path optimization only: the ledger in Postgres remains the source of
// truth, and the transaction coordinator never consults it. Writers
// invalidate keys after commit; the TTL bounds staleness if an invalidation
// is lost.
type ViewCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewViewCache constructs a ViewCache. A nil client disables caching.
func NewViewCache(client *redis.Client, ttl time.Duration) *ViewCache {
	return &ViewCache{client: client, ttl: ttl}
}

// GetOrCompute returns the cached bytes for key, computing and storing them
// on a miss. Concurrent misses for the same key are coalesced into a single
// compute call. Compute errors are returned as-is and never cached.
func (c *ViewCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if c == nil || c.client == nil {
		return compute(ctx)
	}

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		return data, nil
	}

	resultChan := c.group.DoChan(key, func() (any, error) {
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		// Best effort: a failed SET only costs a recompute later.
		_ = c.client.Set(ctx, key, data, c.ttl).Err()
		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Invalidate drops the given keys. Failures are ignored; the TTL caps how
// long a stale view can survive.
func (c *ViewCache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.client == nil || len(keys) == 0 {
		return
	}
	_ = c.client.Del(ctx, keys...).Err()
}
