package locking

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/afrojet/seed/pkg/redis"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_Serializes(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithOrganizationLock(ctx, locker, "org-1", func(context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
}

func TestMemoryLocker_KeysAreIndependent(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, OrganizationKey("org-1"))
	require.NoError(t, err)
	defer unlock(ctx)

	other, err := locker.Lock(ctx, OrganizationKey("org-2"))
	require.NoError(t, err)
	require.NoError(t, other(ctx))
}

func TestMemoryLocker_ContextCancelled(t *testing.T) {
	locker := NewMemoryLocker()
	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	client, err := redis.NewClient(redis.Config{Host: mr.Host(), Port: port}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	defer client.Close()

	locker := NewRedisLocker(redis.NewLocker(client, ""), time.Minute, 20*time.Millisecond)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, OrganizationKey("org-1"))
	require.NoError(t, err)
	assert.True(t, mr.Exists("seed:lock:org:org-1"))

	_, err = locker.Lock(ctx, OrganizationKey("org-1"))
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("seed:lock:org:org-1"))
}
