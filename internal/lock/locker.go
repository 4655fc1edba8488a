// Package lock provides the named critical section used around every inventory and
// reservation mutation. Keys are held in a CacheRepository (Redis in production, an
// in-process map otherwise) and acquired with bounded exponential backoff.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/port"
)

const (
	defaultMaxAttempts  = 8
	defaultBaseDelay    = 5 * time.Millisecond
	defaultMaxDelay     = 200 * time.Millisecond
	defaultJitterFactor = 0.3
	defaultTTL          = 10 * time.Second
	releaseTimeout      = 2 * time.Second
)

var (
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeDelay       = errors.New("delays must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
	ErrInvalidTTL          = errors.New("lock ttl must be positive")
)

func BookKey(bookID string) string { return "book:" + bookID }

func UserKey(userID string) string { return "user:" + userID }

type Locker struct {
	cache        port.CacheRepository
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitterFactor float64
	ttl          time.Duration
	log          zerolog.Logger
}

type Option func(*Locker) error

func WithMaxAttempts(n int) Option {
	return func(l *Locker) error {
		if n <= 0 {
			return ErrInvalidMaxAttempts
		}
		l.maxAttempts = n
		return nil
	}
}

// WithBackoff sets the first retry delay and the cap for later ones.
func WithBackoff(base, max time.Duration) Option {
	return func(l *Locker) error {
		if base < 0 || max < 0 {
			return ErrNegativeDelay
		}
		l.baseDelay = base
		l.maxDelay = max
		return nil
	}
}

func WithJitterFactor(f float64) Option {
	return func(l *Locker) error {
		if f < 0 || f > 1 {
			return ErrInvalidJitterFactor
		}
		l.jitterFactor = f
		return nil
	}
}

// WithTTL bounds how long a crashed holder can keep a key.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) error {
		if ttl <= 0 {
			return ErrInvalidTTL
		}
		l.ttl = ttl
		return nil
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Locker) error {
		l.log = log
		return nil
	}
}

func New(cache port.CacheRepository, opts ...Option) (*Locker, error) {
	l := &Locker{
		cache:        cache,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
		maxDelay:     defaultMaxDelay,
		jitterFactor: defaultJitterFactor,
		ttl:          defaultTTL,
		log:          zerolog.Nop(),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Lock acquires keys in sorted order so that callers locking overlapping sets cannot
// deadlock. When a key stays busy past the attempt budget every key already taken is
// released and a CONTENTION error is returned.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = sortedUnique(keys)
	token := uuid.NewString()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.acquire(ctx, key, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, key)
	}

	return func() { l.release(held, token) }, nil
}

func (l *Locker) acquire(ctx context.Context, key, token string) error {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		ok, err := l.cache.TryLock(ctx, key, token, l.ttl)
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return nil
		}
	}

	l.log.Warn().Str("key", key).Int("attempts", l.maxAttempts).Msg("lock wait exhausted")
	return domain.Errorf(domain.CodeContention, "%s is busy, retry later", key)
}

// backoff is baseDelay * 2^(attempt-1) capped at maxDelay, plus jitter.
func (l *Locker) backoff(attempt int) time.Duration {
	delay := l.baseDelay
	for i := 1; i < attempt && delay < l.maxDelay; i++ {
		delay *= 2
	}
	if l.maxDelay > 0 && delay > l.maxDelay {
		delay = l.maxDelay
	}
	jitter := rand.Float64() * float64(delay) * l.jitterFactor //nolint:gosec // jitter only
	return delay + time.Duration(jitter)
}

func (l *Locker) release(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	for i := len(keys) - 1; i >= 0; i-- {
		if err := l.cache.Unlock(ctx, keys[i], token); err != nil {
			l.log.Error().Err(err).Str("key", keys[i]).Msg("lock release failed")
		}
	}
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
