package redlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLocker(client), client
}

func TestTryLock_SecondAcquireFails(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "lock:shop:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, "lock:shop:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnlock_ReleasesOwnLock(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "lock:shop:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Unlock(ctx, "lock:shop:1", token))

	_, ok, err = l.TryLock(ctx, "lock:shop:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnlock_WrongTokenKeepsLock(t *testing.T) {
	l, client := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := l.TryLock(ctx, "lock:shop:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A holder whose lease expired must not delete the current lock.
	require.NoError(t, l.Unlock(ctx, "lock:shop:1", "stale-token"))

	held, err := client.Get(ctx, "lock:shop:1").Result()
	require.NoError(t, err)
	assert.Equal(t, token, held)
}

func TestTryLock_SingleWinnerUnderContention(t *testing.T) {
	l, _ := newTestLocker(t)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := l.TryLock(ctx, "lock:shop:hot", time.Minute)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
}
