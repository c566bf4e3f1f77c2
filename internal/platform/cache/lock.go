package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockNotObtained is returned when another holder keeps the lock past the retry budget.
	ErrLockNotObtained = errors.New("platform/cache: lock not obtained")
	// ErrLockUnavailable is returned when redis itself fails while obtaining the lock.
	ErrLockUnavailable = errors.New("platform/cache: lock backend unavailable")
)

// Locker serialises critical sections across processes with redis locks.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewLocker builds a Locker. ttl bounds how long a crashed holder blocks others.
func NewLocker(client redis.UniversalClient, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{
		client: redislock.New(client),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 40),
	}
}

// WithRetry returns a copy of l that polls at backoff up to attempts times.
func (l *Locker) WithRetry(attempts int, backoff time.Duration) *Locker {
	clone := *l
	clone.retry = redislock.LimitRetry(redislock.LinearBackoff(backoff), attempts)
	return &clone
}

// WithLock runs fn while holding key.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	}
	if err != nil {
		return fmt.Errorf("%w: obtain %s: %w", ErrLockUnavailable, key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
