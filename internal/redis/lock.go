package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
)

const defaultRetryInterval = 20 * time.Millisecond

// Locker guards critical sections keyed by a resource name.
// A zero wait tries once; a positive wait keeps retrying until the lock is
// free, the wait elapses or ctx is done.
type Locker interface {
	WithLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error
}

// CalendarLockKey is the per-doctor serialization key for calendar mutation.
func CalendarLockKey(doctorID uuid.UUID) string {
	return fmt.Sprintf("lock:calendar:%s", doctorID.String())
}

// TaskLockKey guards a single notification task against parallel dispatch.
func TaskLockKey(taskID uuid.UUID) string {
	return fmt.Sprintf("lock:task:%s", taskID.String())
}

// LeaderLockKey elects one instance of a periodic job across replicas.
func LeaderLockKey(job string) string {
	return "lock:leader:" + job
}

type redisLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisLocker creates a locker that uses one Redis key per resource
func NewRedisLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token, wait); err != nil {
		return err
	}

	defer func() {
		// release must run even when ctx was cancelled mid-section
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-time.After(l.retryInterval):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}
