package querycache

import (
	"bytes"
	"context"
	"time"

	"github.com/Keksclan/querycache/cache"
	"github.com/Keksclan/querycache/tracing"
)

// Get looks key up in the in-process tier, then the remote tier. A remote
// hit is copied into the in-process tier for the rest of its remote
// lifetime. Remote failures are reported as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := c.tracing.Start(ctx, "get", tracing.AttrKey.String(key))
	defer span.End()

	if !c.ready() {
		tracing.Served(span, tracing.TierNone)
		return nil, false
	}
	v, tier, ok := c.lookup(ctx, key, 0)
	tracing.Served(span, tier)
	return v, ok
}

// Set stores val in both tiers for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ctx, span := c.tracing.Start(ctx, "set", tracing.AttrKey.String(key))
	defer span.End()

	if !c.ready() {
		return
	}
	c.store(ctx, key, val, ttl)
}

// GetOrSet returns the cached value for key or, on a miss in both tiers,
// calls fetch and caches its result for ttl.
//
// With ttl <= 0, fetch is called and nothing is cached. An error from fetch
// is returned as is and nothing is cached. Unless WithSingleflight is set,
// concurrent misses for the same key each call fetch and the last write
// wins.
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) ([]byte, error) {
	ctx, span := c.tracing.Start(ctx, "get_or_set", tracing.AttrKey.String(key))
	v, tier, err := c.getOrSet(ctx, key, ttl, fetch)
	tracing.Served(span, tier)
	tracing.End(span, err)
	return v, err
}

func (c *Cache) getOrSet(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) ([]byte, string, error) {
	if ttl <= 0 || !c.ready() {
		v, err := fetch(ctx)
		return v, tracing.TierFetch, err
	}

	if v, tier, ok := c.lookup(ctx, key, ttl); ok {
		return v, tier, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, tracing.TierNone, err
	}

	if !c.cfg.singleflight {
		v, err := c.fill(ctx, key, ttl, fetch)
		return v, tracing.TierFetch, err
	}
	shared, err, _ := c.group.Do(key, func() (any, error) {
		return c.fill(ctx, key, ttl, fetch)
	})
	if err != nil {
		return nil, tracing.TierFetch, err
	}
	return bytes.Clone(shared.([]byte)), tracing.TierFetch, nil
}

// lookup reads the in-process tier, then the remote tier. A remote hit is
// promoted with promoteTTL, or with its remaining remote lifetime when
// promoteTTL is zero.
func (c *Cache) lookup(ctx context.Context, key string, promoteTTL time.Duration) ([]byte, string, bool) {
	if v, ok := c.l1.Get(key); ok {
		c.counters.L1Hit()
		return v, tracing.TierL1, true
	}
	c.counters.L1Miss()

	var (
		item  cache.Item
		found bool
	)
	attempted := c.remote(ctx, "get", key, func(ctx context.Context) error {
		var err error
		item, found, err = c.l2.Get(ctx, key)
		return err
	})
	if !attempted {
		return nil, tracing.TierNone, false
	}
	if !found {
		c.counters.L2Miss()
		return nil, tracing.TierNone, false
	}
	c.counters.L2Hit()

	ttl := promoteTTL
	if ttl <= 0 {
		ttl = item.TTL
	}
	c.setL1(key, item.Value, ttl)
	return item.Value, tracing.TierL2, true
}

// fill calls fetch and stores a successful result.
func (c *Cache) fill(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) ([]byte, error) {
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, v, ttl)
	return v, nil
}

func (c *Cache) store(ctx context.Context, key string, val []byte, ttl time.Duration) {
	c.setL1(key, val, ttl)
	c.remote(ctx, "set", key, func(ctx context.Context) error {
		return c.l2.Set(ctx, key, val, ttl)
	})
	c.counters.Set()
}
