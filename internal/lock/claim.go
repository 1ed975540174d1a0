package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotAcquired is returned by Do when every attempt found the key held.
var ErrNotAcquired = errors.New("lock not acquired")

// DriverKey is the key every writer of a driver record claims first.
func DriverKey(driverID string) string {
	return "driver-matching:" + driverID
}

// Do claims key, runs fn and releases the key. A held key is retried up to
// attempts times with backoff between tries. The release runs even when ctx
// is already cancelled.
func Do(ctx context.Context, l Locker, key string, ttl time.Duration, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		token, ok, err := l.Acquire(ctx, key, ttl)
		if err != nil {
			return err
		}
		if ok {
			defer func() {
				_ = l.Release(context.WithoutCancel(ctx), key, token)
			}()
			return fn(ctx)
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%s: %w", key, ErrNotAcquired)
}
