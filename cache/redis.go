package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultIndexPrefix = "querycache:idx:"
	defaultScanCount   = 100
	deleteBatch        = 500

	// indexSkew keeps index members this long past their expiry, covering
	// clock differences between the instances writing one namespace.
	indexSkew = time.Minute
)

// L2 is the Redis-backed shared tier. Unlike the facade built on top of it,
// L2 reports every failure to its caller; deciding that a failure is a miss
// is left to the facade.
//
// Each stored key is also added to a per-namespace sorted set scored by its
// expiry in unix milliseconds, so that pattern deletes with a literal
// namespace do not need to scan the keyspace. Members expired for longer than
// indexSkew are trimmed on every write to the namespace.
type L2 struct {
	rdb         *redis.Client
	indexPrefix string
	scanCount   int64
	nowFunc     func() time.Time
}

// L2Option configures an L2 store.
type L2Option func(*L2)

// WithIndexPrefix sets the key prefix of the namespace index sets.
func WithIndexPrefix(prefix string) L2Option {
	return func(l *L2) { l.indexPrefix = prefix }
}

// WithScanCount sets the COUNT hint used when a pattern delete has to scan.
func WithScanCount(n int64) L2Option {
	return func(l *L2) {
		if n > 0 {
			l.scanCount = n
		}
	}
}

// WithIndexClock replaces the clock used to score and trim index entries.
func WithIndexClock(now func() time.Time) L2Option {
	return func(l *L2) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

// NewL2 creates a Redis-backed L2 store. No connection is made until the
// first command.
func NewL2(opts *redis.Options, l2opts ...L2Option) *L2 {
	l := &L2{
		rdb:         redis.NewClient(opts),
		indexPrefix: defaultIndexPrefix,
		scanCount:   defaultScanCount,
		nowFunc:     time.Now,
	}
	for _, o := range l2opts {
		o(l)
	}
	return l
}

// NewL2FromURL creates an L2 store from a redis:// URL. A non-empty password
// overrides the one embedded in the URL.
func NewL2FromURL(rawURL, password string, l2opts ...L2Option) (*L2, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("l2: parse url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	return NewL2(opts, l2opts...), nil
}

// Ping checks the Redis connection.
func (l *L2) Ping(ctx context.Context) error {
	if err := l.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("l2 ping: %w", err)
	}
	return nil
}

// Get reads key and its remaining lifetime. A missing key is reported as
// (Item{}, false, nil).
func (l *L2) Get(ctx context.Context, key string) (Item, bool, error) {
	pipe := l.rdb.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Item{}, false, fmt.Errorf("l2 get %q: %w", key, err)
	}

	val, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("l2 get %q: %w", key, err)
	}
	return Item{Value: val, TTL: ttlCmd.Val()}, true, nil
}

// Set stores val under key with a server-side expiry of ttl and records the
// key in its namespace index. A non-positive ttl stores nothing.
func (l *L2) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	idx := l.indexKey(key)
	now := l.nowFunc()

	pipe := l.rdb.Pipeline()
	pipe.Set(ctx, key, val, ttl)
	pipe.ZAdd(ctx, idx, redis.Z{Score: float64(now.Add(ttl).UnixMilli()), Member: key})
	pipe.ZRemRangeByScore(ctx, idx, "-inf", msScore(now.Add(-indexSkew)))
	idxTTL := pipe.PTTL(ctx, idx)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("l2 set %q: %w", key, err)
	}

	// The index must outlive every key it lists.
	if idxTTL.Val() < ttl {
		if err := l.rdb.PExpire(ctx, idx, ttl).Err(); err != nil {
			return fmt.Errorf("l2 set %q: index expiry: %w", key, err)
		}
	}
	return nil
}

// Delete removes keys and returns how many existed.
func (l *L2) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := l.rdb.Pipeline()
	del := pipe.Del(ctx, keys...)
	for _, k := range keys {
		pipe.ZRem(ctx, l.indexKey(k), k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("l2 delete: %w", err)
	}
	return int(del.Val()), nil
}

// DeleteMatching removes every key matched by p and returns how many were
// removed. Patterns with a literal namespace are resolved through the
// namespace index; others fall back to a cursor scan.
func (l *L2) DeleteMatching(ctx context.Context, p Pattern) (int, error) {
	if ns, ok := p.Namespace(); ok {
		return l.deleteIndexed(ctx, ns, p)
	}
	return l.deleteScanned(ctx, p)
}

func (l *L2) deleteIndexed(ctx context.Context, ns string, p Pattern) (int, error) {
	members, err := l.rdb.ZRangeByScore(ctx, l.indexPrefix+ns, &redis.ZRangeBy{
		Min: "(" + msScore(l.nowFunc().Add(-indexSkew)),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("l2 delete %q: index: %w", p, err)
	}
	var matched []string
	for _, k := range members {
		if p.Match(k) {
			matched = append(matched, k)
		}
	}
	return l.deleteBatched(ctx, matched)
}

func (l *L2) deleteScanned(ctx context.Context, p Pattern) (int, error) {
	var matched []string
	iter := l.rdb.Scan(ctx, 0, scanMatch(p), l.scanCount).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); p.Match(k) {
			matched = append(matched, k)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("l2 delete %q: scan: %w", p, err)
	}
	return l.deleteBatched(ctx, matched)
}

func (l *L2) deleteBatched(ctx context.Context, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += deleteBatch {
		end := min(start+deleteBatch, len(keys))
		n, err := l.Delete(ctx, keys[start:end]...)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Publish sends payload on a pub/sub channel.
func (l *L2) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := l.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("l2 publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a subscription on channel. The caller owns the returned
// PubSub and must close it.
func (l *L2) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return l.rdb.Subscribe(ctx, channel)
}

// Close closes the underlying Redis client.
func (l *L2) Close() error {
	return l.rdb.Close()
}

func (l *L2) indexKey(key string) string {
	return l.indexPrefix + Namespace(key)
}

// scanMatch narrows a scan to the pattern's literal prefix. Redis glob has no
// alternatives and negates classes with '^', so the pattern itself is only
// applied client side.
func scanMatch(p Pattern) string {
	return redisGlobEscaper.Replace(p.Prefix()) + "*"
}

var redisGlobEscaper = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`,
)

func msScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
