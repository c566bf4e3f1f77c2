package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, time.Second).WithRetry(2, 10*time.Millisecond), mr
}

func TestWithLockReleasesAfterRun(t *testing.T) {
	locker, mr := newTestLocker(t)
	ran := false
	err := locker.WithLock(context.Background(), "po:1", func(ctx context.Context) error {
		ran = true
		require.True(t, mr.Exists("po:1"))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, mr.Exists("po:1"))
}

func TestWithLockHeldElsewhere(t *testing.T) {
	locker, mr := newTestLocker(t)
	require.NoError(t, mr.Set("po:1", "other-holder"))

	err := locker.WithLock(context.Background(), "po:1", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrLockNotObtained)
}
