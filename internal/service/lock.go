package service

import (
	"context"
	"time"

	"github.com/mansoorceksport/voltcharge/internal/domain"
)

const (
	reconcileLockPrefix = "payment:reconcile:"
	settleLockPrefix    = "payment:settle:"
)

// acquire polls locker for key with capped backoff until the lock is held,
// wait elapses or ctx ends. held is false when the wait ran out; err reports a
// locker failure. release is always safe to call.
func acquire(ctx context.Context, locker domain.Locker, key string, ttl, wait time.Duration) (release func() error, held bool, err error) {
	noop := func() error { return nil }

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	backoff := 20 * time.Millisecond
	for {
		token, ok, err := locker.TryLock(waitCtx, key, ttl)
		if err != nil {
			return noop, false, err
		}
		if ok {
			return func() error {
				return locker.Release(context.WithoutCancel(ctx), key, token)
			}, true, nil
		}

		select {
		case <-waitCtx.Done():
			return noop, false, nil
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}
