package redis

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/otcsettle/pkg/config"
)

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.ConfirmationKey("actor-1")
	if err := client.Set(ctx, key, "v1", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	deleted, err := client.CompareAndDelete(ctx, key, "other")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted {
		t.Fatalf("mismatched value must not delete")
	}

	deleted, err = client.CompareAndDelete(ctx, key, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deleted {
		t.Fatalf("expected matching value to be deleted")
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}

	deleted, err = client.CompareAndDelete(ctx, key, "v1")
	if err != nil || deleted {
		t.Fatalf("second delete should be a no-op, got deleted=%v err=%v", deleted, err)
	}
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "k", "a", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to win, ok=%v err=%v", ok, err)
	}
	ok, err = client.SetNX(ctx, "k", "b", time.Second)
	if err != nil || ok {
		t.Fatalf("expected second setnx to lose, ok=%v err=%v", ok, err)
	}
	if err := client.Del(ctx, "k"); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, "k"); err != Nil {
		t.Fatalf("expected Nil after del, got %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.CompareAndDelete(context.Background(), "k", "v"); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close without raw client should be a no-op: %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.ConfirmationKey("actor"); got != "os:confirmation:actor" {
		t.Fatalf("unexpected confirmation key %s", got)
	}
	if got := client.CronLockKey("worker"); got != "os:cron_lock:worker" {
		t.Fatalf("unexpected cron lock key %s", got)
	}
	if got := client.buildKey(confirmationPrefix, ""); got != "os:confirmation" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{
		Address:     "localhost:6379",
		DB:          2,
		PoolSize:    7,
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 2 || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{URL: "redis://:secret@cache:6380/3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 3 || opts.Password != "secret" {
		t.Fatalf("unexpected url options %+v", opts)
	}
}

type mockCmdable struct {
	mu   sync.Mutex
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
		delete(m.data, key)
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if script != compareAndDeleteScript || len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
