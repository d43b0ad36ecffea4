package querycache

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GetOrSetJSON is GetOrSet for values serialized as JSON. Errors from fetch
// are returned unchanged.
func GetOrSetJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.GetOrSet(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("querycache: encode %q: %w", key, err)
		}
		return b, nil
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("querycache: decode %q: %w", key, err)
	}
	return out, nil
}

// GetJSON is Get for values serialized as JSON. A value that does not decode
// into T is reported as an error, not a miss.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var out T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("querycache: decode %q: %w", key, err)
	}
	return out, true, nil
}

// SetJSON is Set for values serialized as JSON.
func SetJSON(ctx context.Context, c *Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("querycache: encode %q: %w", key, err)
	}
	c.Set(ctx, key, b, ttl)
	return nil
}
