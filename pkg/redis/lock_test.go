package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewClient(Config{Host: mr.Host(), Port: port}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLocker_AcquireRelease(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "org-1", time.Minute)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	require.NoError(t, lock.Release(ctx))
	assert.ErrorIs(t, lock.Release(ctx), ErrLockNotHeld)

	again, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocker_TryAcquireTimesOut(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, "")
	ctx := context.Background()

	held, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)
	defer held.Release(ctx)

	_, err = locker.TryAcquire(ctx, "org-1", time.Minute, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestLock_Extend(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, "test:")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "org-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, lock.Extend(ctx, time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("test:org-1"))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, lock.Extend(ctx, time.Minute), ErrLockNotHeld)
}

func TestLock_KeepAlive(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, "test:")
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "org-1", time.Minute)
	require.NoError(t, err)
	mr.SetTTL("test:org-1", time.Second)

	lock.KeepAlive(5 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL("test:org-1") == time.Minute
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, lock.Release(ctx))
	assert.False(t, mr.Exists("test:org-1"))
}

func TestClient_Floats(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	_, ok, err := client.GetFloat(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.SetFloat(ctx, "progress", 62.5, time.Hour))
	value, ok, err := client.GetFloat(ctx, "progress")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 62.5, value)
	assert.Equal(t, time.Hour, mr.TTL("progress"))
}
