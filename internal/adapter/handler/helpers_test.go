package handler

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
	"github.com/rl1809/library-lending/internal/core/service"
	"github.com/rl1809/library-lending/internal/lock"
)

var t0 = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	core  *service.LendingCore
	db    *storage.SQLAdapter
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "lending.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := storage.NewMemoryCache()
	locker, err := lock.New(cache, lock.WithMaxAttempts(500), lock.WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	clock := &testClock{now: t0}
	core, err := service.NewLendingCore(service.Deps{
		DB:     db,
		Locker: locker,
		Guard:  cache,
		Log:    zerolog.Nop(),
		Now:    clock.Now,
	}, service.DefaultPolicy())
	require.NoError(t, err)

	return &fixture{core: core, db: db, clock: clock}
}

func (f *fixture) user(t *testing.T, id string, status domain.UserStatus) {
	t.Helper()
	require.NoError(t, f.db.CreateUser(context.Background(), domain.User{
		ID: id, Status: status, CreatedAt: t0, UpdatedAt: t0,
	}))
}

func (f *fixture) book(t *testing.T, id string, copies int) {
	t.Helper()
	_, err := f.core.Ledger.RegisterBook(context.Background(), id, copies)
	require.NoError(t, err)
}
