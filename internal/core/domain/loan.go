package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultLoanDays = 14
	MaxOpenLoans    = 5
)

type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "BORROWED"
	LoanStatusOverdue  LoanStatus = "OVERDUE"
	LoanStatusReturned LoanStatus = "RETURNED"
	LoanStatusLost     LoanStatus = "LOST"
)

// Open reports whether the loan still holds a physical copy.
func (s LoanStatus) Open() bool {
	return s == LoanStatusBorrowed || s == LoanStatusOverdue
}

type LoanEvent string

const (
	LoanEventReturn      LoanEvent = "return"
	LoanEventMarkOverdue LoanEvent = "mark_overdue"
	LoanEventMarkLost    LoanEvent = "mark_lost"
)

// NextLoanStatus is the borrowing record state machine. Marking an already overdue
// loan overdue again yields the same state so the sweeper can treat it as a no-op.
func NextLoanStatus(current LoanStatus, event LoanEvent) (LoanStatus, error) {
	switch current {
	case LoanStatusBorrowed:
		switch event {
		case LoanEventReturn:
			return LoanStatusReturned, nil
		case LoanEventMarkOverdue:
			return LoanStatusOverdue, nil
		case LoanEventMarkLost:
			return LoanStatusLost, nil
		}
	case LoanStatusOverdue:
		switch event {
		case LoanEventReturn:
			return LoanStatusReturned, nil
		case LoanEventMarkOverdue:
			return LoanStatusOverdue, nil
		case LoanEventMarkLost:
			return LoanStatusLost, nil
		}
	case LoanStatusReturned:
		return current, ErrAlreadyReturned
	case LoanStatusLost:
		return current, Errorf(CodeAlreadyReturned, "borrowing record is closed as lost")
	}
	return current, Errorf(CodeInvalidArgument, "event %q not allowed in state %q", event, current)
}

type BorrowingRecord struct {
	ID         string
	UserID     string
	BookID     string
	IssuedBy   string
	ReturnedBy string
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     LoanStatus
	FineAmount decimal.Decimal
	Notes      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewBorrowingRecord opens a loan at now. Non-positive loanDays fall back to DefaultLoanDays.
func NewBorrowingRecord(id, userID, bookID, issuedBy string, now time.Time, loanDays int) BorrowingRecord {
	if loanDays <= 0 {
		loanDays = DefaultLoanDays
	}
	return BorrowingRecord{
		ID:         id,
		UserID:     userID,
		BookID:     bookID,
		IssuedBy:   issuedBy,
		BorrowDate: now,
		DueDate:    now.AddDate(0, 0, loanDays),
		Status:     LoanStatusBorrowed,
		FineAmount: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (r BorrowingRecord) IsOpen() bool {
	return r.Status.Open()
}

// PastDue reports whether an open loan has passed its due date at now.
func (r BorrowingRecord) PastDue(now time.Time) bool {
	return r.IsOpen() && now.After(r.DueDate)
}
