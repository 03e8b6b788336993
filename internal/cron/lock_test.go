package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memoryRedis struct {
	values map[string]string
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if v, ok := m.values[key]; !ok || v != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func TestRedisLockIsExclusiveAndOwnerScoped(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	first, err := NewRedisLock(store, "storefront:lock:cron", 0)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	second, _ := NewRedisLock(store, "storefront:lock:cron", time.Second)
	ctx := context.Background()

	if ok, err := first.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := second.Acquire(ctx); ok {
		t.Fatal("second replica must not acquire a held lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("non-owner release: %v", err)
	}
	if _, ok := store.values["storefront:lock:cron"]; !ok {
		t.Fatal("non-owner release removed the lock")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("owner release: %v", err)
	}
	if ok, _ := second.Acquire(ctx); !ok {
		t.Fatal("lock should be free after owner release")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", time.Second); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := NewRedisLock(&memoryRedis{}, "", time.Second); err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestRedisLockHolderNamesReplica(t *testing.T) {
	t.Setenv("STOREFRONT_INSTANCE_ID", "cron-a")
	store := &memoryRedis{values: map[string]string{}}
	lock, err := NewRedisLock(store, "storefront:lock:cron", time.Second)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	lock.newToken = func() string { return "run-1" }
	ctx := context.Background()

	if holder, _ := lock.Holder(ctx); holder != "" {
		t.Fatalf("expected free lock, got %q", holder)
	}
	if ok, err := lock.Acquire(ctx); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if holder, _ := lock.Holder(ctx); holder != "cron-a/run-1" {
		t.Fatalf("unexpected holder %q", holder)
	}
}

func TestRedisLockLeavesReacquiredLease(t *testing.T) {
	store := &memoryRedis{values: map[string]string{}}
	lock, _ := NewRedisLock(store, "storefront:lock:cron", time.Second)
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	// lease expired and another replica took it
	store.values["storefront:lock:cron"] = "cron-b/other"

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["storefront:lock:cron"] != "cron-b/other" {
		t.Fatal("release removed another replica's lease")
	}
}
