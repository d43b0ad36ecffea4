package cache

import (
	"bytes"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// L1 is the bounded in-process tier. Entries are kept in recency order and
// the least recently used entry is evicted once the store grows past its
// capacity. Expired entries are removed lazily when they are read.
//
// All methods are safe for concurrent use.
type L1 struct {
	mu  sync.Mutex
	lru *simplelru.LRU[string, Entry]

	nowFunc func() time.Time // for testing; defaults to time.Now
}

// L1Option configures an L1 store.
type L1Option func(*L1)

// WithClock replaces the clock used for expiry checks.
func WithClock(now func() time.Time) L1Option {
	return func(l *L1) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

// NewL1 creates an L1 store holding at most capacity entries.
func NewL1(capacity int, opts ...L1Option) (*L1, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	lru, err := simplelru.NewLRU[string, Entry](capacity, nil)
	if err != nil {
		return nil, err
	}
	l := &L1{lru: lru, nowFunc: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Get returns a copy of the value stored under key. A hit marks the key as
// most recently used; an expired entry is dropped and reported as a miss.
func (l *L1) Get(key string) ([]byte, bool) {
	now := l.nowFunc()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	if e.Expired(now) {
		l.lru.Remove(key)
		return nil, false
	}
	return bytes.Clone(e.Value), true
}

// Peek returns the entry stored under key without touching its recency or
// checking its expiry.
func (l *L1) Peek(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Peek(key)
}

// Set stores a copy of val under key for ttl and marks it most recently used.
// A non-positive ttl stores nothing. It returns the number of entries evicted
// to stay within capacity.
func (l *L1) Set(key string, val []byte, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	now := l.nowFunc()
	e := Entry{
		Value:      bytes.Clone(val),
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lru.Add(key, e) {
		return 1
	}
	return 0
}

// Delete removes key and reports whether it was present.
func (l *L1) Delete(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Remove(key)
}

// DeleteMatching removes every key matched by p and returns how many were
// removed.
func (l *L1) DeleteMatching(p Pattern) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, k := range l.lru.Keys() {
		if p.Match(k) && l.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Keys returns the stored keys from least to most recently used.
func (l *L1) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Keys()
}

// Len returns the number of stored entries, including expired entries that
// have not been read since they expired.
func (l *L1) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}
