package querycache

import (
	"time"

	"github.com/Keksclan/querycache/breaker"
	"github.com/Keksclan/querycache/retry"
)

const (
	// DefaultL1Capacity is the number of entries the in-process tier holds.
	DefaultL1Capacity = 500

	// DefaultRemoteTimeout bounds every remote tier call.
	DefaultRemoteTimeout = 100 * time.Millisecond

	connectTimeout  = 2 * time.Second
	patternMemoSize = 256
	remoteLogRate   = 1
	remoteLogBurst  = 5
	loggerName      = "querycache"
)

// DefaultConnectRetry is the retry policy used when connecting to the
// remote tier in Init.
func DefaultConnectRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
		Jitter:      0.2,
	}
}

// DefaultOptions returns the settings New starts from: a 500-entry
// in-process tier, a 100ms remote timeout, the default breaker and connect
// retry policy. No remote tier and no broadcast channel are configured.
func DefaultOptions() []Option {
	return []Option{
		WithL1Capacity(DefaultL1Capacity),
		WithRemoteTimeout(DefaultRemoteTimeout),
		WithBreaker(breaker.DefaultConfig()),
		WithConnectRetry(DefaultConnectRetry()),
	}
}
