package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockService_MutualExclusion(t *testing.T) {
	_, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx := context.Background()

	ok, err := locks.Acquire(ctx, "checkout:user:1", "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = locks.Acquire(ctx, "checkout:user:1", "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Another scope is independent.
	ok, err = locks.Acquire(ctx, "checkout:user:2", "b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	held, err := locks.IsHeldBy(ctx, "checkout:user:1", "a")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLockService_ReleaseByWrongHolderIsNoop(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "k", "owner", time.Minute)
	require.NoError(t, err)

	released, err := locks.Release(ctx, "k", "intruder")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("mkt:lock:k"))

	released, err = locks.Release(ctx, "k", "owner")
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("mkt:lock:k"))
}

func TestLockService_ExpiryFreesLock(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "k", "crashed", 5*time.Second)
	require.NoError(t, err)

	mr.FastForward(6 * time.Second)

	ok, err := locks.Acquire(ctx, "k", "next", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// The crashed holder cannot release the new lease.
	released, err := locks.Release(ctx, "k", "crashed")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestLockService_Extend(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "k", "owner", 10*time.Second)
	require.NoError(t, err)

	extended, err := locks.Extend(ctx, "k", "owner", 20*time.Second)
	require.NoError(t, err)
	assert.True(t, extended)
	assert.Equal(t, 30*time.Second, mr.TTL("mkt:lock:k"))

	extended, err = locks.Extend(ctx, "k", "someone-else", time.Hour)
	require.NoError(t, err)
	assert.False(t, extended)
	assert.Equal(t, 30*time.Second, mr.TTL("mkt:lock:k"))
}

func TestLockService_ExecuteWithLock(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx := context.Background()

	ran := false
	err := locks.ExecuteWithLock(ctx, "k", "", time.Minute, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists("mkt:lock:k"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("mkt:lock:k"))

	// The action's error is returned and the lock is still released.
	err = locks.ExecuteWithLock(ctx, "k", "", time.Minute, func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, mr.Exists("mkt:lock:k"))
}

func TestLockService_ExecuteWithLock_Busy(t *testing.T) {
	_, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx := context.Background()

	_, err := locks.Acquire(ctx, "k", "other", time.Minute)
	require.NoError(t, err)

	err = locks.ExecuteWithLock(ctx, "k", "", time.Minute, func(ctx context.Context) error {
		t.Fatal("action must not run")
		return nil
	})
	assert.True(t, errors.Is(err, ErrLockNotAcquired))

	held, err := locks.IsHeldBy(ctx, "k", "other")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLockService_ExecuteWithLock_OneAtATime(t *testing.T) {
	_, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")

	var (
		wg       sync.WaitGroup
		inside   atomic.Int32
		maxSeen  atomic.Int32
		executed atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locks.ExecuteWithLock(context.Background(), "k", "", time.Minute, func(ctx context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(5 * time.Millisecond)
				inside.Add(-1)
				executed.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.GreaterOrEqual(t, executed.Load(), int32(1))
}

func TestLockService_ReleasesAfterCallerCancel(t *testing.T) {
	mr, client := newTestClient(t)
	locks := NewLockService(client, "mkt:")
	ctx, cancel := context.WithCancel(context.Background())

	err := locks.ExecuteWithLock(ctx, "k", "", time.Minute, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, mr.Exists("mkt:lock:k"))
}
