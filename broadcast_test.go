package querycache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "cache:invalidate"

func TestBroadcast_PurgesOtherInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRemoteOn(t, mr, WithBroadcast(testChannel))
	b := newRemoteOn(t, mr, WithBroadcast(testChannel))

	a.Set(t.Context(), "gmp:dashboard:V5", []byte("v"), TTLShort)
	_, ok := b.Get(t.Context(), "gmp:dashboard:V5")
	require.True(t, ok)
	require.Equal(t, 1, b.Stats().L1Size)

	a.InvalidatePattern(t.Context(), "gmp:*")

	require.Eventually(t, func() bool {
		return b.Stats().BroadcastsReceived == 1
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, b.Stats().L1Size)
	assert.Zero(t, b.Stats().Invalidations)
	assert.Zero(t, a.Stats().BroadcastsReceived)
	assert.Equal(t, uint64(1), a.Stats().Invalidations)
}

func TestBroadcast_ExactKey(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRemoteOn(t, mr, WithBroadcast(testChannel))
	b := newRemoteOn(t, mr, WithBroadcast(testChannel))

	b.Set(t.Context(), "products:1", []byte("v"), TTLLong)
	b.Set(t.Context(), "products:2", []byte("v"), TTLLong)
	a.Invalidate(t.Context(), "products:1")

	require.Eventually(t, func() bool {
		return b.Stats().BroadcastsReceived == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"products:2"}, b.l1.Keys())
}

func TestBroadcast_DisabledWithoutChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newRemoteOn(t, mr)
	newRemoteOn(t, mr, WithBroadcast(testChannel))

	assert.Equal(t, 1, mr.PubSubNumSub(testChannel)[testChannel], "only the broadcasting instance subscribes")
	assert.Equal(t, "", a.cfg.channel)
}

func TestReceive_IgnoresOwnAndMalformedMessages(t *testing.T) {
	c := newInitialized(t)
	c.Set(t.Context(), "k", []byte("v"), TTLShort)

	c.receive([]byte(`{"origin":"` + c.origin + `","keys":["k"]}`))
	c.receive([]byte(`not json`))
	assert.Equal(t, 1, c.Stats().L1Size)
	assert.Zero(t, c.Stats().BroadcastsReceived)

	c.receive([]byte(`{"origin":"other","pattern":"k*"}`))
	assert.Zero(t, c.Stats().L1Size)
	assert.Equal(t, uint64(1), c.Stats().BroadcastsReceived)
}
