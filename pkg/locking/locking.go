// Package locking serializes writes that touch an organization's canonical
// ledger. Matching, unmerge and building updates hold the organization lock
// for the whole of their transaction.
package locking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/afrojet/seed/pkg/redis"
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// OrganizationKey is the lock key guarding one organization's ledger.
func OrganizationKey(organizationID string) string {
	return "org:" + organizationID
}

// WithOrganizationLock runs fn while holding the organization's lock.
func WithOrganizationLock(ctx context.Context, locker Locker, organizationID string, fn func(ctx context.Context) error) error {
	unlock, err := locker.Lock(ctx, OrganizationKey(organizationID))
	if err != nil {
		return err
	}
	defer unlock(context.WithoutCancel(ctx))

	return fn(ctx)
}

// MemoryLocker is an in-process keyed mutex for single instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: map[string]chan struct{}{}}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	return ch
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	ch := l.slot(key)

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { <-ch })
		return nil
	}, nil
}

// RedisLocker shares locks across instances.
type RedisLocker struct {
	locker  *redis.Locker
	ttl     time.Duration
	timeout time.Duration
}

func NewRedisLocker(locker *redis.Locker, ttl, timeout time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RedisLocker{locker: locker, ttl: ttl, timeout: timeout}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	lock, err := l.locker.TryAcquire(ctx, key, l.ttl, l.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	lock.KeepAlive(l.ttl / 3)
	return lock.Release, nil
}
