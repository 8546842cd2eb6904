package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
)

const (
	opRelease = "release"
	opExtend  = "extend"

	minRetryDelay = 10 * time.Millisecond
	maxRetryDelay = 500 * time.Millisecond
)

// ownerScript only touches the key while it still carries the caller's token.
var ownerScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) ~= ARGV[1] then
		return 0
	end
	if ARGV[2] == "release" then
		return redis.call("del", KEYS[1])
	end
	return redis.call("pexpire", KEYS[1], ARGV[3])
`)

// Locker hands out SET NX locks under a key prefix.
type Locker struct {
	client *Client
	prefix string
}

func NewLocker(client *Client, prefix string) *Locker {
	if prefix == "" {
		prefix = "seed:lock:"
	}
	return &Locker{client: client, prefix: prefix}
}

// Lock is held until Release, or until its ttl lapses without an Extend.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Acquire makes a single attempt.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{client: l.client, key: l.prefix + key, token: uuid.NewString(), ttl: ttl}

	ok, err := l.client.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	l.client.logger.WithContext(ctx).WithField("lock", lock.key).Debug("Acquired lock")
	return lock, nil
}

// TryAcquire retries with doubling delays until timeout elapses.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for delay := minRetryDelay; ; delay = min(delay*2, maxRetryDelay) {
		lock, err := l.Acquire(ctx, key, ttl)
		if !errors.Is(err, ErrLockNotAcquired) {
			return lock, err
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (lock *Lock) run(ctx context.Context, op string, ttl time.Duration) error {
	held, err := ownerScript.Run(ctx, lock.client.rdb, []string{lock.key}, lock.token, op, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if held == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend resets the ttl of a lock this holder still owns.
func (lock *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	if err := lock.run(ctx, opExtend, ttl); err != nil {
		return err
	}
	lock.ttl = ttl
	return nil
}

// KeepAlive extends the lock every interval until Release. Long matching
// runs outlive a single ttl.
func (lock *Lock) KeepAlive(interval time.Duration) {
	lock.mu.Lock()
	defer lock.mu.Unlock()
	if lock.stop != nil || interval <= 0 {
		return
	}
	lock.stop, lock.done = make(chan struct{}), make(chan struct{})

	go func(ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.run(context.Background(), opExtend, ttl); err != nil {
					lock.client.logger.WithError(err).WithField("lock", lock.key).Warn("Failed to extend lock")
					return
				}
			}
		}
	}(lock.ttl, lock.stop, lock.done)
}

// Release stops any keepalive and deletes the key if still owned.
func (lock *Lock) Release(ctx context.Context) error {
	lock.mu.Lock()
	if lock.stop != nil {
		close(lock.stop)
		<-lock.done
		lock.stop = nil
	}
	lock.mu.Unlock()

	if err := lock.run(ctx, opRelease, 0); err != nil {
		return err
	}
	lock.client.logger.WithContext(ctx).WithField("lock", lock.key).Debug("Released lock")
	return nil
}
