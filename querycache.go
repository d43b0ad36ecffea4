// Package querycache is a two-tier cache-aside cache for expensive query
// results. Reads go to a bounded in-process LRU tier first, then to an
// optional shared Redis tier, and finally to the caller's fetch function.
//
// The remote tier is strictly best effort: when it is unreachable, slow or
// failing, the cache keeps working on the in-process tier alone and callers
// never see a remote error.
//
//	c, err := querycache.New(
//		querycache.WithRemote(l2),
//		querycache.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	c.Init(ctx)
//	defer c.Close()
//
//	v, err := c.GetOrSet(ctx, "gmp:dashboard:V5", querycache.TTLShort, loadDashboard)
package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Keksclan/querycache/breaker"
	"github.com/Keksclan/querycache/cache"
	"github.com/Keksclan/querycache/internal/logging"
	"github.com/Keksclan/querycache/retry"
	"github.com/Keksclan/querycache/stats"
	"github.com/Keksclan/querycache/tracing"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Fetcher computes a value on a cache miss.
type Fetcher func(ctx context.Context) ([]byte, error)

// Cache is the two-tier query cache. Create it with New, call Init once
// before use and Close when done. All methods are safe for concurrent use.
type Cache struct {
	cfg config

	l1       *cache.L1
	l2       *cache.L2
	patterns *cache.Patterns
	counters stats.Counters
	breaker  *breaker.Breaker
	group    singleflight.Group

	log       *zap.Logger
	remoteLog *logging.Throttled
	tracing   *tracing.Config
	collector *stats.Collector

	// origin identifies this instance in invalidation broadcasts.
	origin string

	initOnce    sync.Once
	closeOnce   sync.Once
	initialized atomic.Bool
	connected   atomic.Bool
	closed      atomic.Bool

	misuseOnce  sync.Once
	badPatterns sync.Map

	mu  sync.Mutex
	sub *subscriber
}

// New creates a Cache. It fails only for invalid options; no connection is
// made until Init.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	l1, err := cache.NewL1(cfg.l1Capacity, cache.WithClock(cfg.now))
	if err != nil {
		return nil, fmt.Errorf("querycache: %w", err)
	}
	patterns, err := cache.NewPatterns(patternMemoSize)
	if err != nil {
		return nil, fmt.Errorf("querycache: pattern memo: %w", err)
	}

	log := cfg.logger.Named(loggerName)
	c := &Cache{
		cfg:       cfg,
		l1:        l1,
		l2:        cfg.remote,
		patterns:  patterns,
		log:       log,
		remoteLog: logging.NewThrottled(log, remoteLogRate, remoteLogBurst),
		origin:    uuid.NewString(),
	}
	if cfg.tracerProvider != nil {
		c.tracing = &tracing.Config{TracerProvider: cfg.tracerProvider}
	}

	bcfg := cfg.breaker
	onChange := bcfg.OnStateChange
	bcfg.OnStateChange = func(from, to breaker.State) {
		if to == breaker.Open {
			c.log.Warn("remote tier disabled after repeated failures", zap.Stringer("breaker", to))
		} else {
			c.log.Info("remote tier breaker changed state", zap.Stringer("from", from), zap.Stringer("to", to))
		}
		if onChange != nil {
			onChange(from, to)
		}
	}
	c.breaker = breaker.New(bcfg)

	if cfg.registerer != nil {
		c.collector = stats.NewCollector(c)
		if err := cfg.registerer.Register(c.collector); err != nil {
			patterns.Close()
			return nil, fmt.Errorf("querycache: register metrics: %w", err)
		}
	}
	return c, nil
}

// Init connects the remote tier, if one is configured, and marks the cache
// ready. Only the first call has any effect. A failed connection is logged
// and the cache runs on the in-process tier for the rest of its life.
func (c *Cache) Init(ctx context.Context) {
	c.initOnce.Do(func() {
		defer c.initialized.Store(true)

		if c.l2 == nil || c.closed.Load() {
			c.log.Info("running without remote tier")
			return
		}

		err := retry.DoErr(ctx, c.connectRetryConfig(), func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return c.l2.Ping(ctx)
		})
		if err != nil {
			c.log.Warn("remote tier unavailable, running in-process only", zap.Error(err))
			return
		}
		c.connected.Store(true)
		c.log.Info("remote tier connected")

		if c.cfg.channel != "" {
			if err := c.subscribe(ctx); err != nil {
				c.log.Warn("invalidation broadcasts disabled", zap.String("channel", c.cfg.channel), zap.Error(err))
			}
		}
	})
}

func (c *Cache) connectRetryConfig() retry.Config {
	rc := c.cfg.connectRetry
	onRetry := rc.OnRetry
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Debug("remote connect failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	return rc
}

// Close stops the broadcast listener and releases the remote connection.
// The in-process tier keeps its entries; later calls run without the remote
// tier.
func (c *Cache) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.connected.Store(false)

		c.mu.Lock()
		sub := c.sub
		c.sub = nil
		c.mu.Unlock()
		if sub != nil {
			err = multierr.Append(err, sub.stop())
		}
		if c.l2 != nil {
			err = multierr.Append(err, c.l2.Close())
		}
		if c.collector != nil {
			c.cfg.registerer.Unregister(c.collector)
		}
		c.patterns.Close()
	})
	return err
}

// HasRemote reports whether the remote tier is in use: it connected during
// Init, the cache is not closed and its breaker is not open.
func (c *Cache) HasRemote() bool {
	return c.connected.Load() && c.breaker.State() != breaker.Open
}

// Stats returns a snapshot of the counters and tier state.
func (c *Cache) Stats() stats.Snapshot {
	s := c.counters.Snapshot()
	s.L1Size = c.l1.Len()
	s.HasRemote = c.HasRemote()
	return s
}

// ready reports whether Init has run. Use before Init is logged once.
func (c *Cache) ready() bool {
	if c.initialized.Load() {
		return true
	}
	c.misuseOnce.Do(func() {
		c.log.Warn("cache used before Init, bypassing cache")
	})
	return false
}

// remote runs fn against the remote tier under the remote timeout and the
// breaker. It reports whether the remote tier answered, successfully or not;
// a call skipped by the breaker or abandoned by the caller reports false.
// Failures are counted, logged and otherwise swallowed.
func (c *Cache) remote(ctx context.Context, op, subject string, fn func(context.Context) error) bool {
	if !c.connected.Load() || ctx.Err() != nil {
		return false
	}

	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.remoteTimeout)
		defer cancel()
		return fn(rctx)
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, breaker.ErrOpen), ctx.Err() != nil:
		return false
	}

	c.counters.RemoteError()
	fields := []zap.Field{zap.String("op", op), zap.String("subject", subject), zap.Error(err)}
	if errors.Is(err, context.DeadlineExceeded) {
		fields = append(fields, zap.Duration("timeout", c.cfg.remoteTimeout))
	}
	if !c.remoteLog.Warn("remote tier call failed", fields...) {
		c.log.Debug("remote tier call failed", fields...)
	}
	return true
}

// setL1 writes to the in-process tier, applying the lifetime cap.
func (c *Cache) setL1(key string, val []byte, ttl time.Duration) {
	if limit := c.cfg.l1MaxTTL; limit > 0 && ttl > limit {
		ttl = limit
	}
	c.counters.Evicted(c.l1.Set(key, val, ttl))
}
