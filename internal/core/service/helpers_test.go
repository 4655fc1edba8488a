package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-lending/internal/adapter/storage"
	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/lock"
)

var t0 = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Mock EventPublisher
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(typ domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []domain.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	core  *LendingCore
	db    *storage.SQLAdapter
	cache *storage.MemoryCache
	clock *fakeClock
	pub   *recordingPublisher
}

func newTestEnv(t *testing.T, tweak ...func(*Policy)) *testEnv {
	t.Helper()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := storage.NewMemoryCache()
	locker, err := lock.New(cache, lock.WithMaxAttempts(2000), lock.WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	policy := DefaultPolicy()
	for _, fn := range tweak {
		fn(&policy)
	}

	env := &testEnv{db: db, cache: cache, clock: &fakeClock{now: t0}, pub: &recordingPublisher{}}
	env.core, err = NewLendingCore(Deps{
		DB:        db,
		Locker:    locker,
		Guard:     cache,
		Publisher: env.pub,
		Log:       zerolog.Nop(),
		Now:       env.clock.Now,
	}, policy)
	require.NoError(t, err)
	return env
}

func (e *testEnv) addUser(t *testing.T, id string, status domain.UserStatus) {
	t.Helper()
	require.NoError(t, e.db.CreateUser(context.Background(), domain.User{
		ID: id, Status: status, CreatedAt: t0, UpdatedAt: t0,
	}))
}

func (e *testEnv) addUsers(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		e.addUser(t, id, domain.UserStatusActive)
	}
}

func (e *testEnv) addBook(t *testing.T, id string, copies int) {
	t.Helper()
	_, err := e.core.Ledger.RegisterBook(context.Background(), id, copies)
	require.NoError(t, err)
}

func (e *testEnv) book(t *testing.T, id string) domain.Book {
	t.Helper()
	b, err := e.core.Ledger.Book(context.Background(), id)
	require.NoError(t, err)
	return *b
}

func (e *testEnv) borrow(t *testing.T, userID, bookID string) domain.BorrowingRecord {
	t.Helper()
	r, err := e.core.Loans.Borrow(context.Background(), BorrowRequest{UserID: userID, BookID: bookID})
	require.NoError(t, err)
	return *r
}

func (e *testEnv) reservation(t *testing.T, id string) domain.Reservation {
	t.Helper()
	r, err := e.core.Holds.Reservation(context.Background(), id)
	require.NoError(t, err)
	return *r
}

const day = 24 * time.Hour
