package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/atomic"
)

func countingFetch(calls *atomic.Int64, val string) Fetcher {
	return func(context.Context) ([]byte, error) {
		calls.Inc()
		return []byte(val), nil
	}
}

func TestGetOrSet_FetchesOnceWithinTTL(t *testing.T) {
	c := newInitialized(t)
	var calls atomic.Int64

	for range 5 {
		v, err := c.GetOrSet(t.Context(), "app:objectives:summary:V007:2026", TTLMedium, countingFetch(&calls, "42"))
		require.NoError(t, err)
		assert.Equal(t, "42", string(v))
	}

	assert.Equal(t, int64(1), calls.Load())
	s := c.Stats()
	assert.Equal(t, uint64(4), s.L1Hits)
	assert.Equal(t, uint64(1), s.L1Misses)
	assert.Equal(t, uint64(1), s.Sets)
}

func TestGetOrSet_RefetchesAfterTTL(t *testing.T) {
	clock := newFakeClock()
	c := newInitialized(t, WithClock(clock.Now))
	var calls atomic.Int64

	_, err := c.GetOrSet(t.Context(), "k", TTLShort, countingFetch(&calls, "v"))
	require.NoError(t, err)

	clock.Advance(TTLShort)
	_, err = c.GetOrSet(t.Context(), "k", TTLShort, countingFetch(&calls, "v"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestGetOrSet_RealtimeNeverCaches(t *testing.T) {
	c, mr := newRemote(t)
	var calls atomic.Int64

	for range 3 {
		_, err := c.GetOrSet(t.Context(), "live:ticker", TTLRealtime, countingFetch(&calls, "v"))
		require.NoError(t, err)
	}

	assert.Equal(t, int64(3), calls.Load())
	assert.False(t, mr.Exists("live:ticker"))
	s := c.Stats()
	assert.Zero(t, s.Sets)
	assert.Zero(t, s.L1Hits+s.L1Misses)
	assert.Zero(t, s.L1Size)
}

func TestGetOrSet_FetchErrorPropagatesAndCachesNothing(t *testing.T) {
	c, mr := newRemote(t)
	errUpstream := errors.New("database unavailable")

	_, err := c.GetOrSet(t.Context(), "gmp:dashboard:V5", TTLShort, func(context.Context) ([]byte, error) {
		return nil, fmt.Errorf("load dashboard: %w", errUpstream)
	})
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, "load dashboard: database unavailable", err.Error())

	_, ok := c.l1.Peek("gmp:dashboard:V5")
	assert.False(t, ok)
	assert.False(t, mr.Exists("gmp:dashboard:V5"))
	assert.Zero(t, c.Stats().Sets)
}

func TestGetOrSet_WritesBothTiers(t *testing.T) {
	c, mr := newRemote(t)

	_, err := c.GetOrSet(t.Context(), "products:list", TTLLong, func(context.Context) ([]byte, error) {
		return []byte(`["a","b"]`), nil
	})
	require.NoError(t, err)

	got, err := mr.Get("products:list")
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, got)
	assert.Equal(t, TTLLong, mr.TTL("products:list"))

	s := c.Stats()
	assert.Equal(t, uint64(1), s.L1Misses)
	assert.Equal(t, uint64(1), s.L2Misses)
	assert.Equal(t, uint64(1), s.Sets)
}

func TestGetOrSet_PromotesRemoteHit(t *testing.T) {
	mr := miniredis.RunT(t)
	writer := newRemoteOn(t, mr)
	reader := newRemoteOn(t, mr)

	writer.Set(t.Context(), "gmp:dashboard:V5", []byte(`{"total":100}`), TTLShort)

	var calls atomic.Int64
	for range 2 {
		v, err := reader.GetOrSet(t.Context(), "gmp:dashboard:V5", TTLShort, countingFetch(&calls, "unused"))
		require.NoError(t, err)
		assert.Equal(t, `{"total":100}`, string(v))
	}

	assert.Zero(t, calls.Load())
	s := reader.Stats()
	assert.Equal(t, uint64(1), s.L2Hits)
	assert.Equal(t, uint64(1), s.L1Hits)
	assert.Equal(t, uint64(1), s.L1Misses)
	assert.Zero(t, s.Sets)
}

func TestGet_PromotesWithRemainingRemoteTTL(t *testing.T) {
	clock := newFakeClock()
	c, mr := newRemote(t, WithClock(clock.Now))
	require.NoError(t, mr.Set("gmp:dashboard:V5", "cached"))
	mr.SetTTL("gmp:dashboard:V5", 30*time.Second)

	v, ok := c.Get(t.Context(), "gmp:dashboard:V5")
	require.True(t, ok)
	assert.Equal(t, "cached", string(v))

	e, ok := c.l1.Peek("gmp:dashboard:V5")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(30*time.Second), e.ExpiresAt)
}

func TestGet_RemoteKeyWithoutExpiryIsNotPromoted(t *testing.T) {
	c, mr := newRemote(t)
	require.NoError(t, mr.Set("static:config", "v"))

	_, ok := c.Get(t.Context(), "static:config")
	require.True(t, ok)
	assert.Zero(t, c.Stats().L1Size)
}

func TestDashboardShortTTL(t *testing.T) {
	clock := newFakeClock()
	c, mr := newRemote(t, WithClock(clock.Now))

	c.Set(t.Context(), "gmp:dashboard:V5", []byte(`{"total":100}`), TTLShort)
	v, ok := c.Get(t.Context(), "gmp:dashboard:V5")
	require.True(t, ok)
	assert.JSONEq(t, `{"total":100}`, string(v))

	clock.Advance(61 * time.Second)
	mr.FastForward(61 * time.Second)

	_, ok = c.Get(t.Context(), "gmp:dashboard:V5")
	assert.False(t, ok)
}

func TestSet_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newInitialized(t)

	for i := range DefaultL1Capacity + 1 {
		c.Set(t.Context(), fmt.Sprintf("q:%d", i), []byte("v"), TTLMedium)
	}

	s := c.Stats()
	assert.Equal(t, DefaultL1Capacity, s.L1Size)
	assert.Equal(t, uint64(1), s.Evictions)
	_, ok := c.Get(t.Context(), "q:0")
	assert.False(t, ok)
	_, ok = c.Get(t.Context(), fmt.Sprintf("q:%d", DefaultL1Capacity))
	assert.True(t, ok)
}

func TestSet_L1MaxTTLCapsLocalLifetime(t *testing.T) {
	clock := newFakeClock()
	c, mr := newRemote(t, WithClock(clock.Now), WithL1MaxTTL(TTLShort))

	c.Set(t.Context(), "products:1", []byte("v"), TTLStatic)
	e, ok := c.l1.Peek("products:1")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(TTLShort), e.ExpiresAt)
	assert.Equal(t, TTLStatic, mr.TTL("products:1"))

	clock.Advance(TTLShort + time.Second)
	_, ok = c.Get(t.Context(), "products:1")
	assert.True(t, ok, "remote tier still holds the value")
	assert.Equal(t, uint64(1), c.Stats().L2Hits)
}

func TestSet_ReturnedValuesAreCopies(t *testing.T) {
	c := newInitialized(t)
	val := []byte("original")
	c.Set(t.Context(), "k", val, TTLShort)
	val[0] = 'X'

	got, _ := c.Get(t.Context(), "k")
	assert.Equal(t, "original", string(got))
	got[0] = 'Y'

	again, _ := c.Get(t.Context(), "k")
	assert.Equal(t, "original", string(again))
}

func TestGetOrSet_ConcurrentMissesFetchIndependently(t *testing.T) {
	c := newInitialized(t)
	var calls atomic.Int64
	release := make(chan struct{})

	fetch := func(context.Context) ([]byte, error) {
		calls.Inc()
		<-release
		return []byte("v"), nil
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrSet(context.Background(), "k", TTLShort, fetch)
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 4 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, uint64(4), c.Stats().Sets)
}

func TestGetOrSet_SingleflightSharesOneFetch(t *testing.T) {
	c := newInitialized(t, WithSingleflight())
	var calls atomic.Int64
	release := make(chan struct{})

	fetch := func(context.Context) ([]byte, error) {
		calls.Inc()
		<-release
		return []byte("shared"), nil
	}

	const n = 8
	results := make([][]byte, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrSet(context.Background(), "k", TTLShort, fetch)
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "shared", string(v))
	}
	results[0][0] = 'X'
	assert.Equal(t, "shared", string(results[1]), "callers must not share a buffer")
}

func TestGetOrSet_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	c := newInitialized(t, WithTracerProvider(tp))

	var calls atomic.Int64
	for range 2 {
		_, err := c.GetOrSet(t.Context(), "k", TTLShort, countingFetch(&calls, "v"))
		require.NoError(t, err)
	}

	spans := rec.Ended()
	require.Len(t, spans, 2)
	tiers := make([]string, 0, 2)
	for _, s := range spans {
		assert.Equal(t, "querycache.get_or_set", s.Name())
		for _, a := range s.Attributes() {
			if a.Key == "cache.tier" {
				tiers = append(tiers, a.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"fetch", "l1"}, tiers)
}

func TestGetOrSet_CancelledContextSkipsRemoteAndFetch(t *testing.T) {
	c, _ := newRemote(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var calls atomic.Int64
	_, err := c.GetOrSet(ctx, "gmp:dashboard:02", TTLShort, countingFetch(&calls, "v"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
	s := c.Stats()
	assert.Equal(t, uint64(1), s.L1Misses)
	assert.Zero(t, s.L2Misses)
	assert.Zero(t, s.RemoteErrors)
	assert.True(t, c.HasRemote())
}
