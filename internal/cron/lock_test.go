package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRedisStore struct {
	mu   sync.Mutex
	data map[string]string
	ttl  time.Duration
}

func (f *fakeRedisStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttl = ttl
	return true, nil
}

func (f *fakeRedisStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data[key] != expected {
		return false, nil
	}
	delete(f.data, key)
	return true, nil
}

func TestRedisLockExcludesOtherOwners(t *testing.T) {
	ctx := context.Background()
	store := &fakeRedisStore{data: map[string]string{}}
	first, err := NewRedisLock(store, "otcsettle:cron-lock:worker", 0)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "otcsettle:cron-lock:worker", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, defaultLockTTL, store.ttl)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// a non-owner release must not free the lock
	require.NoError(t, second.Release(ctx))
	require.Len(t, store.data, 1)

	require.NoError(t, first.Release(ctx))
	require.Empty(t, store.data)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedisLockLeavesForeignTokenAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := &fakeRedisStore{data: map[string]string{}}
	lock, err := NewRedisLock(store, "k", time.Minute)
	require.NoError(t, err)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// simulate expiry and takeover by another worker
	store.data["k"] = "someone-else"
	require.NoError(t, lock.Release(ctx))
	require.Equal(t, "someone-else", store.data["k"])
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	require.Error(t, err)
	_, err = NewRedisLock(&fakeRedisStore{}, "", time.Minute)
	require.Error(t, err)
}

func TestLocalLock(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLock()
	ok, _ := lock.Acquire(ctx)
	require.True(t, ok)
	ok, _ = lock.Acquire(ctx)
	require.False(t, ok)
	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	ok, _ = lock.Acquire(ctx)
	require.True(t, ok)
}
