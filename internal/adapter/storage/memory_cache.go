package storage

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is the single-process stand-in for RedisAdapter.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCache) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return m.setNX(lockKeyPrefix+key, token, ttl), nil
}

func (m *MemoryCache) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[lockKeyPrefix+key]; ok && e.value == token {
		delete(m.entries, lockKeyPrefix+key)
	}
	return nil
}

func (m *MemoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return m.setNX(idempotencyKeyPrefix+key, "1", idempotencyKeyTTL), nil
}

func (m *MemoryCache) setNX(key, value string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	m.entries[key] = memoryEntry{value: value, expiresAt: now.Add(ttl)}
	return true
}
