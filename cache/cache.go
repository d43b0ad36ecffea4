// Package cache provides the two storage tiers behind the query cache: a
// bounded in-process L1 with LRU eviction and lazy expiry, and a Redis-backed
// L2 shared across processes. Both tiers store opaque byte payloads.
package cache

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidCapacity is returned by NewL1 when the capacity is not positive.
var ErrInvalidCapacity = errors.New("cache: capacity must be positive")

// Entry is a value held by the L1 store.
type Entry struct {
	Value      []byte
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Item is a value read from the L2 store together with its remaining
// server-side lifetime. TTL is negative when Redis reports no expiry.
type Item struct {
	Value []byte
	TTL   time.Duration
}

// Namespace returns the first colon-delimited segment of key, or the whole
// key when it has no colon.
func Namespace(key string) string {
	ns, _, _ := strings.Cut(key, ":")
	return ns
}
