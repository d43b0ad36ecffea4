package querycache

import (
	"time"

	"github.com/Keksclan/querycache/breaker"
	"github.com/Keksclan/querycache/cache"
	"github.com/Keksclan/querycache/retry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures a Cache.
type Option func(*config)

// WithL1Capacity sets how many entries the in-process tier holds before it
// evicts the least recently used one. New fails for n <= 0.
func WithL1Capacity(n int) Option {
	return func(c *config) { c.l1Capacity = n }
}

// WithL1MaxTTL caps how long an entry may live in the in-process tier,
// whatever TTL it was written with. Zero disables the cap.
func WithL1MaxTTL(d time.Duration) Option {
	return func(c *config) { c.l1MaxTTL = max(d, 0) }
}

// WithRemote enables the shared Redis tier. The connection is established by
// Init and released by Close.
func WithRemote(l2 *cache.L2) Option {
	return func(c *config) { c.remote = l2 }
}

// WithRemoteTimeout bounds each remote tier call. Non-positive values are
// ignored.
func WithRemoteTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.remoteTimeout = d
		}
	}
}

// WithBreaker sets the circuit breaker guarding the remote tier.
func WithBreaker(cfg breaker.Config) Option {
	return func(c *config) { c.breaker = cfg }
}

// WithConnectRetry sets how Init retries the initial remote connection.
func WithConnectRetry(cfg retry.Config) Option {
	return func(c *config) { c.connectRetry = cfg }
}

// WithBroadcast publishes every invalidation on channel and applies the
// invalidations other instances publish there to the local in-process tier.
// It has no effect without a remote tier.
func WithBroadcast(channel string) Option {
	return func(c *config) { c.channel = channel }
}

// WithSingleflight makes concurrent GetOrSet misses for the same key share
// one fetch.
func WithSingleflight() Option {
	return func(c *config) { c.singleflight = true }
}

// WithLogger sets the logger. The cache logs under the "querycache" name.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracerProvider records a span for every cache operation.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) { c.tracerProvider = tp }
}

// WithRegisterer registers the cache's Prometheus collector with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) { c.registerer = r }
}

// WithClock replaces time.Now for in-process expiry. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
