// Package stats counts what the query cache does. Counters only ever grow;
// a Snapshot can be taken at any time without resetting them.
package stats

import "go.uber.org/atomic"

// Counters holds the live counters of one cache instance. The zero value is
// ready to use and all methods are safe for concurrent use.
type Counters struct {
	l1Hits             atomic.Uint64
	l1Misses           atomic.Uint64
	l2Hits             atomic.Uint64
	l2Misses           atomic.Uint64
	sets               atomic.Uint64
	evictions          atomic.Uint64
	invalidations      atomic.Uint64
	remoteErrors       atomic.Uint64
	broadcastsReceived atomic.Uint64
}

func (c *Counters) L1Hit() { c.l1Hits.Inc() }
func (c *Counters) L1Miss() { c.l1Misses.Inc() }
func (c *Counters) L2Hit() { c.l2Hits.Inc() }
func (c *Counters) L2Miss() { c.l2Misses.Inc() }
func (c *Counters) Set() { c.sets.Inc() }
func (c *Counters) Evicted(n int) { c.evictions.Add(uint64(n)) }
func (c *Counters) Invalidation() { c.invalidations.Inc() }
func (c *Counters) RemoteError() { c.remoteErrors.Inc() }
func (c *Counters) BroadcastReceived() { c.broadcastsReceived.Inc() }

// Snapshot is a point-in-time copy of the counters plus tier state.
type Snapshot struct {
	L1Hits             uint64 `json:"l1Hits"`
	L1Misses           uint64 `json:"l1Misses"`
	L2Hits             uint64 `json:"l2Hits"`
	L2Misses           uint64 `json:"l2Misses"`
	Sets               uint64 `json:"sets"`
	Evictions          uint64 `json:"evictions"`
	Invalidations      uint64 `json:"invalidations"`
	RemoteErrors       uint64 `json:"remoteErrors"`
	BroadcastsReceived uint64 `json:"broadcastsReceived"`

	L1Size    int  `json:"l1Size"`
	HasRemote bool `json:"hasRemote"`
}

// Snapshot copies the current counter values. Tier state is filled in by
// the owner of the counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		L1Hits:             c.l1Hits.Load(),
		L1Misses:           c.l1Misses.Load(),
		L2Hits:             c.l2Hits.Load(),
		L2Misses:           c.l2Misses.Load(),
		Sets:               c.sets.Load(),
		Evictions:          c.evictions.Load(),
		Invalidations:      c.invalidations.Load(),
		RemoteErrors:       c.remoteErrors.Load(),
		BroadcastsReceived: c.broadcastsReceived.Load(),
	}
}

// Hits returns the hits across both tiers.
func (s Snapshot) Hits() uint64 { return s.L1Hits + s.L2Hits }

// HitRate returns the fraction of lookups served from either tier, in [0, 1].
// A lookup that misses L1 and then hits L2 counts once, as a hit.
func (s Snapshot) HitRate() float64 {
	hits := s.Hits()
	total := s.L1Hits + s.L1Misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
