package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
)

// ErrOptimisticLock is returned by conditional writes whose expected pre-state no longer holds.
var ErrOptimisticLock = errors.New("optimistic lock conflict")

// DatabaseRepository is the database of record. Getters return (nil, nil) when the row
// does not exist. Every method is usable both on the root handle and inside InTx.
type DatabaseRepository interface {
	// InTx runs fn in one transaction; fn's error rolls everything back.
	// Calling InTx on a transaction-bound repository reuses that transaction.
	InTx(ctx context.Context, fn func(tx DatabaseRepository) error) error

	GetUser(ctx context.Context, userID string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error

	GetBook(ctx context.Context, bookID string) (*domain.Book, error)
	CreateBook(ctx context.Context, book domain.Book) error
	// DecrementAvailable takes one copy if the book is AVAILABLE with a free copy.
	DecrementAvailable(ctx context.Context, bookID string, now time.Time) (bool, error)
	// IncrementAvailable returns one copy if that keeps available <= total.
	IncrementAvailable(ctx context.Context, bookID string, now time.Time) (bool, error)
	// RetireCopy removes one on-loan copy from the total.
	RetireCopy(ctx context.Context, bookID string, now time.Time) (bool, error)
	UpdateBookStatus(ctx context.Context, bookID string, status domain.BookStatus, now time.Time) (bool, error)

	CreateLoan(ctx context.Context, record domain.BorrowingRecord) error
	GetLoan(ctx context.Context, recordID string) (*domain.BorrowingRecord, error)
	// UpdateLoan writes record only if the stored status still equals expected.
	UpdateLoan(ctx context.Context, record domain.BorrowingRecord, expected domain.LoanStatus) error
	CountOpenLoans(ctx context.Context, userID string) (int, error)
	ListLoansByUser(ctx context.Context, userID string, statuses ...domain.LoanStatus) ([]domain.BorrowingRecord, error)
	ListLoansByStatus(ctx context.Context, statuses ...domain.LoanStatus) ([]domain.BorrowingRecord, error)
	// ListDueBefore returns BORROWED loans whose due date is before now.
	ListDueBefore(ctx context.Context, now time.Time) ([]domain.BorrowingRecord, error)
	// ListOverdue returns OVERDUE loans and BORROWED loans already past due, in one read.
	ListOverdue(ctx context.Context, now time.Time) ([]domain.BorrowingRecord, error)
	// CountCommittedCopies is open loans plus earmarked FULFILLED holds for the book.
	CountCommittedCopies(ctx context.Context, bookID string) (int, error)

	CreateReservation(ctx context.Context, r domain.Reservation) error
	GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error)
	UpdateReservation(ctx context.Context, r domain.Reservation, expected domain.ReservationStatus) error
	HasActiveHold(ctx context.Context, userID, bookID string) (bool, error)
	// ListActiveReservationsByBook is ordered oldest first, ties by reservation id.
	ListActiveReservationsByBook(ctx context.Context, bookID string) ([]domain.Reservation, error)
	ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error)
	FindEarmarkedReservation(ctx context.Context, userID, bookID string) (*domain.Reservation, error)
	FindActiveHold(ctx context.Context, userID, bookID string) (*domain.Reservation, error)
	// ListLapsedReservations returns ACTIVE holds and earmarked FULFILLED holds expiring before now.
	ListLapsedReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error)

	CreateFine(ctx context.Context, fine domain.Fine) error
	GetFine(ctx context.Context, fineID string) (*domain.Fine, error)
	UpdateFine(ctx context.Context, fine domain.Fine, expected domain.FineStatus) error
	ListFinesByUser(ctx context.Context, userID string, statuses ...domain.FineStatus) ([]domain.Fine, error)
}
