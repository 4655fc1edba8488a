package port

import (
	"context"
	"time"
)

type CacheRepository interface {
	// TryLock sets key to token if the key is free, expiring after ttl; returns false if held
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock deletes key only while it still holds token
	Unlock(ctx context.Context, key, token string) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)
}

// Locker guards the per-book and per-user critical sections.
type Locker interface {
	// Lock blocks with bounded backoff until every key is held, then returns the release func.
	Lock(ctx context.Context, keys ...string) (func(), error)
}
