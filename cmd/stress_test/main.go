package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rl1809/library-lending/internal/adapter/storage"
	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/core/service"
	"github.com/rl1809/library-lending/internal/lock"
	"github.com/rl1809/library-lending/internal/port"
)

const (
	bookID        = "stress-book"
	initialCopies = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	dir, err := os.MkdirTemp("", "lending-stress-*")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create temp dir")
	}
	defer os.RemoveAll(dir)

	db, err := storage.OpenSQLite(ctx, filepath.Join(dir, "stress.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open sqlite")
	}
	defer db.Close()

	// Locks go through Redis when one is reachable
	var cache port.CacheRepository = storage.NewMemoryCache()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		rdb.Del(ctx, "lock:"+lock.BookKey(bookID))
		cache = storage.NewRedisAdapter(rdb)
	}

	locker, err := lock.New(cache, lock.WithMaxAttempts(200), lock.WithBackoff(2*time.Millisecond, 50*time.Millisecond))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid lock settings")
	}

	core, err := service.NewLendingCore(service.Deps{
		DB:     db,
		Locker: locker,
		Guard:  cache,
		Log:    log.Logger,
	}, service.DefaultPolicy())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build lending core")
	}

	if _, err := core.Ledger.RegisterBook(ctx, bookID, initialCopies); err != nil {
		log.Fatal().Err(err).Msg("failed to register book")
	}
	now := time.Now()
	for i := 0; i < totalRequests; i++ {
		user := domain.User{ID: fmt.Sprintf("user-%d", i), Status: domain.UserStatusActive, CreatedAt: now, UpdatedAt: now}
		if err := db.CreateUser(ctx, user); err != nil {
			log.Fatal().Err(err).Msg("failed to create user")
		}
	}

	// Counters
	var successCount, noCopiesCount, otherCount atomic.Int32

	// Spawn concurrent borrows
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := core.Loans.Borrow(ctx, service.BorrowRequest{
				UserID: fmt.Sprintf("user-%d", userID),
				BookID: bookID,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrNoCopies):
				noCopiesCount.Add(1)
			default:
				otherCount.Add(1)
				log.Warn().Err(err).Int("user", userID).Msg("unexpected borrow failure")
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	noCopies := noCopiesCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Copies:   %d\n", initialCopies)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Borrowed:         %d\n", success)
	fmt.Printf("No Copies:        %d\n", noCopies)
	fmt.Printf("Other Failures:   %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialCopies && noCopies == totalRequests-initialCopies {
		fmt.Printf("PASS: Exactly %d loans opened, %d refused\n", initialCopies, totalRequests-initialCopies)
	} else {
		fmt.Printf("FAIL: Expected %d borrowed/%d refused, got %d/%d\n",
			initialCopies, totalRequests-initialCopies, success, noCopies)
	}

	// Verify the ledger
	book, err := core.Ledger.Book(ctx, bookID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read book")
	}
	fmt.Printf("Final Available:  %d\n", book.AvailableCopies)

	open, err := core.Loans.OpenLoans(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list loans")
	}
	if book.AvailableCopies == 0 && len(open) == initialCopies {
		fmt.Println("PASS: Copies depleted to 0 and every copy has one open loan")
	} else {
		fmt.Printf("FAIL: Expected 0 available and %d open loans, got %d and %d\n",
			initialCopies, book.AvailableCopies, len(open))
	}
}
