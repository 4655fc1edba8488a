package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestTryLock_Exclusive(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, lockKeyPrefix+"book:redis-test")

	ok, err := adapter.TryLock(ctx, "book:redis-test", "token-a", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first lock to succeed")
	}

	ok, err = adapter.TryLock(ctx, "book:redis-test", "token-b", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second lock to fail while held")
	}

	if err := adapter.Unlock(ctx, "book:redis-test", "token-a"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}

	ok, _ = adapter.TryLock(ctx, "book:redis-test", "token-b", time.Second)
	if !ok {
		t.Error("expected lock to be free after unlock")
	}
	client.Del(ctx, lockKeyPrefix+"book:redis-test")
}

func TestUnlock_WrongTokenKeepsLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, lockKeyPrefix+"book:redis-token")

	adapter.TryLock(ctx, "book:redis-token", "owner", time.Second)

	if err := adapter.Unlock(ctx, "book:redis-token", "intruder"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	holder, _ := client.Get(ctx, lockKeyPrefix+"book:redis-token").Result()
	if holder != "owner" {
		t.Errorf("expected lock still held by owner, got %q", holder)
	}
	client.Del(ctx, lockKeyPrefix+"book:redis-token")
}

func TestTryLock_Expires(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, lockKeyPrefix+"book:redis-ttl")

	adapter.TryLock(ctx, "book:redis-ttl", "crashed", 50*time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	ok, err := adapter.TryLock(ctx, "book:redis-ttl", "next", time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected expired lock to be reclaimable")
	}
	client.Del(ctx, lockKeyPrefix+"book:redis-ttl")
}

func TestTryLock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, lockKeyPrefix+"book:redis-race")

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.TryLock(ctx, "book:redis-race", "t", time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 holder, got %d", successCount.Load())
	}
	client.Del(ctx, lockKeyPrefix+"book:redis-race")
}

func TestSetIdempotency_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, idempotencyKeyPrefix+"borrow:test-idem-key")

	ok, err := adapter.SetIdempotency(ctx, "borrow:test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected first call to succeed")
	}

	ok, err = adapter.SetIdempotency(ctx, "borrow:test-idem-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}
}

func TestSetIdempotency_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	client.Del(ctx, idempotencyKeyPrefix+"borrow:concurrent-idem-key")

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.SetIdempotency(ctx, "borrow:concurrent-idem-key")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
