package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type localLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocalLocker returns an in-process Locker with the same semantics as the
// Redis one. It is enough when a single process owns every calendar.
func NewLocalLocker() Locker {
	return &localLocker{slots: make(map[string]chan struct{})}
}

func (l *localLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *localLocker) WithLock(ctx context.Context, key string, wait time.Duration, fn func(ctx context.Context) error) error {
	ch := l.slot(key)

	select {
	case ch <- struct{}{}:
	default:
		if wait <= 0 {
			return ErrLockNotAcquired
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case ch <- struct{}{}:
		case <-timer.C:
			return ErrLockNotAcquired
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		}
	}
	defer func() { <-ch }()

	return fn(ctx)
}
