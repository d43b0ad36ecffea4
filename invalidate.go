package querycache

import (
	"context"

	"github.com/Keksclan/querycache/tracing"
	"go.uber.org/zap"
)

// Invalidate removes key from both tiers and returns how many entries were
// removed, counting each tier separately.
func (c *Cache) Invalidate(ctx context.Context, key string) int {
	ctx, span := c.tracing.Start(ctx, "invalidate", tracing.AttrKey.String(key))
	defer span.End()

	if !c.ready() {
		return 0
	}
	removed := c.invalidateKey(ctx, key)
	span.SetAttributes(tracing.AttrRemoved.Int(removed))
	return removed
}

// InvalidatePattern removes every key matching the glob pattern from both
// tiers and returns how many entries were removed, counting each tier
// separately. "*" matches within a key segment and across segments alike,
// so "gmp:dashboard:*" removes "gmp:dashboard:V5:2026".
//
// A pattern that does not compile is logged once and treated as an exact
// key.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int {
	ctx, span := c.tracing.Start(ctx, "invalidate_pattern", tracing.AttrPattern.String(pattern))
	defer span.End()

	if !c.ready() {
		return 0
	}

	p, err := c.patterns.Compile(pattern)
	if err != nil {
		if _, seen := c.badPatterns.LoadOrStore(pattern, struct{}{}); !seen {
			c.log.Warn("invalid invalidation pattern, treating it as a key",
				zap.String("pattern", pattern), zap.Error(err))
		}
		removed := c.invalidateKey(ctx, pattern)
		span.SetAttributes(tracing.AttrRemoved.Int(removed))
		return removed
	}

	removed := c.l1.DeleteMatching(p)
	c.remote(ctx, "invalidate", pattern, func(ctx context.Context) error {
		n, err := c.l2.DeleteMatching(ctx, p)
		removed += n
		return err
	})
	c.counters.Invalidation()
	c.publish(ctx, invalidation{Pattern: pattern})

	span.SetAttributes(tracing.AttrRemoved.Int(removed))
	return removed
}

func (c *Cache) invalidateKey(ctx context.Context, key string) int {
	removed := 0
	if c.l1.Delete(key) {
		removed++
	}
	c.remote(ctx, "invalidate", key, func(ctx context.Context) error {
		n, err := c.l2.Delete(ctx, key)
		removed += n
		return err
	})
	c.counters.Invalidation()
	c.publish(ctx, invalidation{Keys: []string{key}})
	return removed
}

// purgeLocal applies an invalidation to the in-process tier only.
func (c *Cache) purgeLocal(msg invalidation) int {
	removed := 0
	for _, key := range msg.Keys {
		if c.l1.Delete(key) {
			removed++
		}
	}
	if msg.Pattern == "" {
		return removed
	}
	p, err := c.patterns.Compile(msg.Pattern)
	if err != nil {
		if c.l1.Delete(msg.Pattern) {
			removed++
		}
		return removed
	}
	return removed + c.l1.DeleteMatching(p)
}
