// Package breaker stops the cache from calling a remote tier that keeps
// failing.
//
// The breaker starts Closed. After FailureThreshold consecutive failures it
// opens and rejects calls for OpenTimeout; it then lets up to
// HalfOpenMaxSuccess concurrent probe calls through (HalfOpen) and closes
// again after HalfOpenMaxSuccess consecutive successes. Any failure while
// probing opens it again.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Do when the breaker rejects a call.
var ErrOpen = errors.New("breaker: open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker thresholds.
type Config struct {
	FailureThreshold   int
	OpenTimeout        time.Duration
	HalfOpenMaxSuccess int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker lock released.
	OnStateChange func(from, to State)
}

// DefaultConfig returns the thresholds used for the remote cache tier.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 1,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	probes    int // in-flight calls admitted while HalfOpen
	openedAt  time.Time

	nowFunc func() time.Time // for testing; defaults to time.Now
}

// New creates a closed Breaker. Non-positive thresholds are raised to 1.
func New(cfg Config) *Breaker {
	cfg.FailureThreshold = max(cfg.FailureThreshold, 1)
	cfg.HalfOpenMaxSuccess = max(cfg.HalfOpenMaxSuccess, 1)
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// State returns the current position, moving from Open to HalfOpen once the
// open period has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	from, to := b.state, b.advance()
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// Allow reports whether a call may go through right now. A call admitted
// while HalfOpen holds a probe slot until Success, Failure or Release.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	from, to := b.state, b.advance()
	ok := to == Closed
	if to == HalfOpen && b.successes+b.probes < b.cfg.HalfOpenMaxSuccess {
		b.probes++
		ok = true
	}
	b.mu.Unlock()
	b.notify(from, to)
	return ok
}

// Success records a call that completed without a remote failure.
func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.releaseProbe()
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			b.state = Closed
			b.failures, b.successes = 0, 0
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Release gives back a probe slot without recording an outcome, for calls
// that were abandoned before the remote answered.
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state == HalfOpen {
		b.releaseProbe()
	}
	b.mu.Unlock()
}

// Do runs fn if the breaker allows it and records the outcome. It returns
// ErrOpen without calling fn when the breaker rejects the call. An error
// returned after ctx is done is not counted as a failure.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.Success()
	case ctx.Err() != nil:
		b.Release()
	default:
		b.Failure()
	}
	return err
}

// advance moves Open to HalfOpen when due and returns the resulting state.
// Must be called with b.mu held.
func (b *Breaker) advance() State {
	if b.state == Open && b.nowFunc().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.state = HalfOpen
		b.successes, b.probes = 0, 0
	}
	return b.state
}

// trip must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.nowFunc()
	b.successes, b.probes = 0, 0
}

// releaseProbe must be called with b.mu held.
func (b *Breaker) releaseProbe() {
	b.probes = max(b.probes-1, 0)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
