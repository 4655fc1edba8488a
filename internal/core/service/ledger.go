package service

import (
	"context"
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/lock"
	"github.com/rl1809/library-lending/internal/port"
)

// Ledger owns the available-copies counter of every book. All writes happen under the
// book's lock and through conditional updates, so the counter stays within [0, total].
type Ledger struct {
	*base
	holds *ReservationQueue
}

func (l *Ledger) TryAcquireCopy(ctx context.Context, bookID string) error {
	if err := requireID("book id", bookID); err != nil {
		return err
	}
	return l.runLocked(ctx, []string{lock.BookKey(bookID)}, func(tx port.DatabaseRepository, _ *outbox) error {
		return l.acquireIn(ctx, tx, bookID, l.clock())
	})
}

// ReleaseCopy puts back a copy taken with TryAcquireCopy. Like a return, the unit goes to
// the oldest waiting hold first. A release with no unaccounted unit fails with
// INVARIANT_VIOLATION.
func (l *Ledger) ReleaseCopy(ctx context.Context, bookID string) error {
	if err := requireID("book id", bookID); err != nil {
		return err
	}
	return l.runLocked(ctx, []string{lock.BookKey(bookID)}, func(tx port.DatabaseRepository, ob *outbox) error {
		return l.holds.handOffIn(ctx, tx, bookID, l.clock(), ob)
	})
}

func (l *Ledger) RegisterBook(ctx context.Context, bookID string, totalCopies int) (*domain.Book, error) {
	if err := requireID("book id", bookID); err != nil {
		return nil, err
	}
	if totalCopies < 0 {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "total copies must not be negative")
	}

	now := l.clock()
	book := domain.Book{
		ID:              bookID,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		Status:          domain.BookStatusAvailable,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := l.runLocked(ctx, []string{lock.BookKey(bookID)}, func(tx port.DatabaseRepository, _ *outbox) error {
		existing, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrBookExists
		}
		return tx.CreateBook(ctx, book)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info().Str("book", bookID).Int("copies", totalCopies).Msg("book registered")
	return &book, nil
}

func (l *Ledger) SetStatus(ctx context.Context, bookID string, status domain.BookStatus) error {
	if err := requireID("book id", bookID); err != nil {
		return err
	}
	if !status.Valid() {
		return domain.Errorf(domain.CodeInvalidArgument, "unknown book status %q", status)
	}

	return l.runLocked(ctx, []string{lock.BookKey(bookID)}, func(tx port.DatabaseRepository, _ *outbox) error {
		ok, err := tx.UpdateBookStatus(ctx, bookID, status, l.clock())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrBookNotFound
		}
		return nil
	})
}

func (l *Ledger) Book(ctx context.Context, bookID string) (*domain.Book, error) {
	book, err := l.db.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, domain.ErrBookNotFound
	}
	return book, nil
}

// acquireIn reports the reason a copy cannot be taken with the codes Borrow surfaces.
// The caller must hold the book lock.
func (l *Ledger) acquireIn(ctx context.Context, tx port.DatabaseRepository, bookID string, now time.Time) error {
	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	switch {
	case book == nil:
		return domain.ErrBookNotFound
	case book.Status != domain.BookStatusAvailable:
		return domain.Errorf(domain.CodeBookUnavailable, "book %s is %s", bookID, book.Status)
	case book.AvailableCopies <= 0:
		return domain.ErrNoCopies
	}

	ok, err := tx.DecrementAvailable(ctx, bookID, now)
	if err != nil {
		return err
	}
	if !ok {
		return port.ErrOptimisticLock
	}
	return nil
}

// releasableIn checks that one unit of the book is unaccounted for: not on the shelf, not
// on an open loan and not earmarked for a pickup. Callers close their loan or earmark first.
func (l *Ledger) releasableIn(ctx context.Context, tx port.DatabaseRepository, book *domain.Book) error {
	committed, err := tx.CountCommittedCopies(ctx, book.ID)
	if err != nil {
		return err
	}
	if book.AvailableCopies+committed < book.TotalCopies {
		return nil
	}

	l.log.Error().
		Str("book", book.ID).
		Int("available", book.AvailableCopies).
		Int("committed", committed).
		Int("total", book.TotalCopies).
		Msg("release without a copy to give back")
	return domain.Errorf(domain.CodeInvariantViolation, "book %s has every copy accounted for", book.ID)
}

func (l *Ledger) releaseIn(ctx context.Context, tx port.DatabaseRepository, bookID string, now time.Time) error {
	ok, err := tx.IncrementAvailable(ctx, bookID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return domain.ErrBookNotFound
	}

	l.log.Error().
		Str("book", bookID).
		Int("available", book.AvailableCopies).
		Int("total", book.TotalCopies).
		Msg("release would push available copies above total")
	return domain.Errorf(domain.CodeInvariantViolation, "book %s already has all %d copies on the shelf", bookID, book.TotalCopies)
}

// retireIn drops one on-loan copy from the total, used when a loan ends as lost.
func (l *Ledger) retireIn(ctx context.Context, tx port.DatabaseRepository, bookID string, now time.Time) error {
	ok, err := tx.RetireCopy(ctx, bookID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	l.log.Error().Str("book", bookID).Msg("no copy on loan to retire")
	return domain.Errorf(domain.CodeInvariantViolation, "book %s has no copy out on loan", bookID)
}
