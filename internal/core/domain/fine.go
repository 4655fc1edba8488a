package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFinePerDay matches the historical flat rate of one currency unit per day.
var DefaultFinePerDay = decimal.NewFromInt(1)

type FineStatus string

const (
	FineStatusPending FineStatus = "PENDING"
	FineStatusPaid    FineStatus = "PAID"
	FineStatusWaived  FineStatus = "WAIVED"
)

type FineEvent string

const (
	FineEventPay   FineEvent = "pay"
	FineEventWaive FineEvent = "waive"
)

func NextFineStatus(current FineStatus, event FineEvent) (FineStatus, error) {
	if current != FineStatusPending {
		return current, Errorf(CodeAlreadySettled, "fine is %s", current)
	}
	switch event {
	case FineEventPay:
		return FineStatusPaid, nil
	case FineEventWaive:
		return FineStatusWaived, nil
	}
	return current, Errorf(CodeInvalidArgument, "unknown fine event %q", event)
}

type Fine struct {
	ID            string
	RecordID      string
	UserID        string
	Amount        decimal.Decimal
	Reason        string
	FineDate      time.Time
	Status        FineStatus
	PaymentDate   *time.Time
	PaymentMethod string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewFine(id string, record BorrowingRecord, amount decimal.Decimal, reason string, now time.Time) Fine {
	return Fine{
		ID:        id,
		RecordID:  record.ID,
		UserID:    record.UserID,
		Amount:    amount,
		Reason:    reason,
		FineDate:  now,
		Status:    FineStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DaysOverdue counts whole days elapsed past due; partial days are dropped and an
// early or on-time return yields zero.
func DaysOverdue(due, effectiveReturn time.Time) int {
	if !effectiveReturn.After(due) {
		return 0
	}
	return int(effectiveReturn.Sub(due) / (24 * time.Hour))
}

// CalculateFine returns the overdue days and ratePerDay × days.
func CalculateFine(ratePerDay decimal.Decimal, due, effectiveReturn time.Time) (int, decimal.Decimal) {
	days := DaysOverdue(due, effectiveReturn)
	return days, ratePerDay.Mul(decimal.NewFromInt(int64(days)))
}
