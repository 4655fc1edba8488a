package service

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/lock"
	"github.com/rl1809/library-lending/internal/port"
)

type BorrowRequest struct {
	UserID    string
	BookID    string
	IssuedBy  string
	LoanDays  int
	RequestID string
}

// Closure is the outcome of ending a loan. Fine is nil when nothing was owed.
type Closure struct {
	Record domain.BorrowingRecord
	Fine   *domain.Fine
}

type LendingService struct {
	*base
	ledger *Ledger
	holds  *ReservationQueue
	fines  *FineService
}

// Borrow takes a copy for the user, or the copy earmarked for their fulfilled hold, and
// opens a loan for it. The copy and the record are written in one transaction.
func (s *LendingService) Borrow(ctx context.Context, req BorrowRequest) (*domain.BorrowingRecord, error) {
	if err := requireID("user id", req.UserID); err != nil {
		return nil, err
	}
	if err := requireID("book id", req.BookID); err != nil {
		return nil, err
	}
	if err := s.claimRequest(ctx, "borrow", req.RequestID); err != nil {
		return nil, err
	}

	loanDays := req.LoanDays
	if loanDays <= 0 {
		loanDays = s.policy.LoanDays
	}

	var record domain.BorrowingRecord
	keys := []string{lock.BookKey(req.BookID), lock.UserKey(req.UserID)}
	err := s.runLocked(ctx, keys, func(tx port.DatabaseRepository, ob *outbox) error {
		if err := checkBorrower(ctx, tx, req.UserID); err != nil {
			return err
		}

		open, err := tx.CountOpenLoans(ctx, req.UserID)
		if err != nil {
			return err
		}
		if open >= s.policy.MaxOpenLoans {
			return domain.Errorf(domain.CodeBorrowLimitReached, "user %s already has %d open loans", req.UserID, open)
		}

		now := s.clock()
		claimed, err := s.holds.claimIn(ctx, tx, req.UserID, req.BookID, now, ob)
		if err != nil {
			return err
		}
		if !claimed {
			if err := s.ledger.acquireIn(ctx, tx, req.BookID, now); err != nil {
				return err
			}
			if err := s.holds.satisfyIn(ctx, tx, req.UserID, req.BookID, now, ob); err != nil {
				return err
			}
		}

		record = domain.NewBorrowingRecord(newID(), req.UserID, req.BookID, req.IssuedBy, now, loanDays)
		if err := tx.CreateLoan(ctx, record); err != nil {
			return err
		}

		ob.add(domain.EventLoanBorrowed, record.ID, record.UserID, record.BookID, now, map[string]any{
			"due_date":     record.DueDate,
			"from_earmark": claimed,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("record", record.ID).Str("user", req.UserID).Str("book", req.BookID).Msg("book borrowed")
	return &record, nil
}

// ReturnBook closes the loan, assesses any overdue fine and hands the copy to the next hold
// or back to the shelf. A second return of the same record fails with ALREADY_RETURNED.
func (s *LendingService) ReturnBook(ctx context.Context, recordID, returnedBy string) (*Closure, error) {
	return s.closeLoan(ctx, recordID, domain.LoanEventReturn, func(c *Closure) {
		c.Record.ReturnedBy = returnedBy
	})
}

// MarkLost closes the loan as lost. The copy leaves the inventory for good and the fine
// covers the overdue days plus the replacement fee.
func (s *LendingService) MarkLost(ctx context.Context, recordID, notes string) (*Closure, error) {
	return s.closeLoan(ctx, recordID, domain.LoanEventMarkLost, func(c *Closure) {
		if notes != "" {
			c.Record.Notes = notes
		}
	})
}

func (s *LendingService) closeLoan(ctx context.Context, recordID string, event domain.LoanEvent, annotate func(*Closure)) (*Closure, error) {
	if err := requireID("record id", recordID); err != nil {
		return nil, err
	}

	current, err := s.db.GetLoan(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrRecordNotFound
	}

	var out Closure
	err = s.runLocked(ctx, []string{lock.BookKey(current.BookID)}, func(tx port.DatabaseRepository, ob *outbox) error {
		record, err := tx.GetLoan(ctx, recordID)
		if err != nil {
			return err
		}
		if record == nil {
			return domain.ErrRecordNotFound
		}

		next, err := domain.NextLoanStatus(record.Status, event)
		if err != nil {
			return err
		}

		now := s.clock()
		surcharge := decimal.Zero
		if event == domain.LoanEventMarkLost {
			surcharge = s.policy.LostBookFee
		}
		fine, err := s.fines.assessIn(ctx, tx, *record, now, surcharge, now, ob)
		if err != nil {
			return err
		}

		expected := record.Status
		out = Closure{Record: *record, Fine: fine}
		out.Record.Status = next
		out.Record.UpdatedAt = now
		if event == domain.LoanEventReturn {
			out.Record.ReturnDate = &now
		}
		if fine != nil {
			out.Record.FineAmount = fine.Amount
		}
		annotate(&out)

		if err := tx.UpdateLoan(ctx, out.Record, expected); err != nil {
			return err
		}

		payload := map[string]any{"fine_amount": out.Record.FineAmount.StringFixed(2)}
		if event == domain.LoanEventMarkLost {
			if err := s.ledger.retireIn(ctx, tx, record.BookID, now); err != nil {
				return err
			}
			ob.add(domain.EventLoanLost, record.ID, record.UserID, record.BookID, now, payload)
			return nil
		}

		if err := s.holds.handOffIn(ctx, tx, record.BookID, now, ob); err != nil {
			return err
		}
		ob.add(domain.EventLoanReturned, record.ID, record.UserID, record.BookID, now, payload)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("record", recordID).
		Str("status", string(out.Record.Status)).
		Str("fine", out.Record.FineAmount.StringFixed(2)).
		Msg("loan closed")
	return &out, nil
}

func (s *LendingService) Loan(ctx context.Context, recordID string) (*domain.BorrowingRecord, error) {
	record, err := s.db.GetLoan(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrRecordNotFound
	}
	return record, nil
}

func (s *LendingService) ActiveByUser(ctx context.Context, userID string) ([]domain.BorrowingRecord, error) {
	return s.db.ListLoansByUser(ctx, userID, domain.LoanStatusBorrowed, domain.LoanStatusOverdue)
}

func (s *LendingService) HistoryByUser(ctx context.Context, userID string) ([]domain.BorrowingRecord, error) {
	return s.db.ListLoansByUser(ctx, userID)
}

func (s *LendingService) OpenLoans(ctx context.Context) ([]domain.BorrowingRecord, error) {
	return s.db.ListLoansByStatus(ctx, domain.LoanStatusBorrowed, domain.LoanStatusOverdue)
}

// OverdueLoans includes BORROWED loans already past due that the sweeper has not reached yet.
func (s *LendingService) OverdueLoans(ctx context.Context) ([]domain.BorrowingRecord, error) {
	return s.db.ListOverdue(ctx, s.clock())
}
