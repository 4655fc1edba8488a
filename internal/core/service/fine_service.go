package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/port"
)

type FineService struct {
	*base
}

type PendingFines struct {
	Fines []domain.Fine
	Total decimal.Decimal
}

// assessIn records the penalty for a loan closing at effective. surcharge is added on top
// of the overdue amount (the replacement fee for a lost copy). Nothing is written when the
// total is zero.
func (f *FineService) assessIn(ctx context.Context, tx port.DatabaseRepository, record domain.BorrowingRecord, effective time.Time, surcharge decimal.Decimal, now time.Time, ob *outbox) (*domain.Fine, error) {
	days, amount := domain.CalculateFine(f.policy.FineRatePerDay, record.DueDate, effective)
	total := amount.Add(surcharge)
	if !total.IsPositive() {
		return nil, nil
	}

	reason := fmt.Sprintf("Overdue by %d days", days)
	if surcharge.IsPositive() {
		reason = fmt.Sprintf("Lost book (overdue by %d days)", days)
	}

	fine := domain.NewFine(newID(), record, total.Round(2), reason, now)
	if err := tx.CreateFine(ctx, fine); err != nil {
		return nil, err
	}

	ob.add(domain.EventFineAssessed, fine.ID, fine.UserID, record.BookID, now, map[string]any{
		"record_id":    record.ID,
		"amount":       fine.Amount.StringFixed(2),
		"days_overdue": days,
	})
	return &fine, nil
}

func (f *FineService) MarkPaid(ctx context.Context, fineID, method string) (*domain.Fine, error) {
	if err := requireID("payment method", method); err != nil {
		return nil, err
	}
	return f.settle(ctx, fineID, domain.FineEventPay, method)
}

func (f *FineService) Waive(ctx context.Context, fineID string) (*domain.Fine, error) {
	return f.settle(ctx, fineID, domain.FineEventWaive, "")
}

func (f *FineService) settle(ctx context.Context, fineID string, event domain.FineEvent, method string) (*domain.Fine, error) {
	if err := requireID("fine id", fineID); err != nil {
		return nil, err
	}

	var settled domain.Fine
	err := f.runTx(ctx, func(tx port.DatabaseRepository, ob *outbox) error {
		fine, err := tx.GetFine(ctx, fineID)
		if err != nil {
			return err
		}
		if fine == nil {
			return domain.ErrFineNotFound
		}

		next, err := domain.NextFineStatus(fine.Status, event)
		if err != nil {
			return err
		}

		now := f.clock()
		expected := fine.Status
		fine.Status = next
		fine.UpdatedAt = now
		evt := domain.EventFineWaived
		if event == domain.FineEventPay {
			fine.PaymentDate = &now
			fine.PaymentMethod = method
			evt = domain.EventFinePaid
		}
		if err := tx.UpdateFine(ctx, *fine, expected); err != nil {
			return err
		}

		settled = *fine
		ob.add(evt, fine.ID, fine.UserID, "", now, map[string]any{"amount": fine.Amount.StringFixed(2)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &settled, nil
}

func (f *FineService) Fine(ctx context.Context, fineID string) (*domain.Fine, error) {
	fine, err := f.db.GetFine(ctx, fineID)
	if err != nil {
		return nil, err
	}
	if fine == nil {
		return nil, domain.ErrFineNotFound
	}
	return fine, nil
}

func (f *FineService) PendingByUser(ctx context.Context, userID string) (PendingFines, error) {
	fines, err := f.db.ListFinesByUser(ctx, userID, domain.FineStatusPending)
	if err != nil {
		return PendingFines{}, err
	}

	total := decimal.Zero
	for _, fine := range fines {
		total = total.Add(fine.Amount)
	}
	return PendingFines{Fines: fines, Total: total}, nil
}
