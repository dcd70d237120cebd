package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_RejectsSecondHolder(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, err := l.TryAcquire(ctx, "p1")
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "p1")
	assert.ErrorIs(t, err, ErrHeld)

	other, err := l.TryAcquire(ctx, "p2")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	held, _ := l.Held(ctx, "p1")
	assert.True(t, held)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	held, _ = l.Held(ctx, "p1")
	assert.False(t, held)

	again, err := l.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocal_ConcurrentAcquireHasOneWinner(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.TryAcquire(ctx, "same"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, "127.0.0.1:1", "", 0, time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
}

func newRedisLocker(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(t.Context(), mr.Addr(), "", 0, ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_AcquireConflictRelease(t *testing.T) {
	ctx := t.Context()
	r, mr := newRedisLocker(t, time.Minute)

	first, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(keyPrefix+"p1"))

	_, err = r.TryAcquire(ctx, "p1")
	assert.ErrorIs(t, err, ErrHeld)

	held, err := r.Held(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))
	held, err = r.Held(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, held)

	again, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedis_RenewsWhileHeld(t *testing.T) {
	ctx := t.Context()
	ttl := 300 * time.Millisecond
	r, mr := newRedisLocker(t, ttl)

	l, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release(context.Background()) })

	// Two thirds of the TTL pass on the server; the holder must push expiry back out.
	mr.FastForward(2 * ttl / 3)
	require.Eventually(t, func() bool {
		return mr.TTL(keyPrefix+"p1") == ttl
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, mr.Exists(keyPrefix+"p1"))
}

func TestRedis_ReleaseKeepsSomeoneElsesLease(t *testing.T) {
	ctx := t.Context()
	ttl := 300 * time.Millisecond
	r, mr := newRedisLocker(t, ttl)

	stale, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)

	mr.FastForward(ttl + time.Millisecond)
	assert.False(t, mr.Exists(keyPrefix+"p1"), "an unrenewed lease expires")

	current, err := r.TryAcquire(ctx, "p1")
	require.NoError(t, err)
	token, err := mr.Get(keyPrefix + "p1")
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	got, err := mr.Get(keyPrefix + "p1")
	require.NoError(t, err)
	assert.Equal(t, token, got, "stale holder must not delete the new lease")

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists(keyPrefix+"p1"))
}
