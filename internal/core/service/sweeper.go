package service

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/lock"
	"github.com/rl1809/library-lending/internal/port"
)

const DefaultSweepInterval = 5 * time.Minute

type SweepReport struct {
	Overdue       int
	ExpiredHolds  int
	LapsedPickups int
}

// Sweeper applies the time-driven transitions. Every write is conditional on the state it
// read, so a loan returned in the meantime is skipped and a second pass changes nothing.
type Sweeper struct {
	*base
	holds    *ReservationQueue
	interval time.Duration
}

func NewSweeper(core *LendingCore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{base: core.Holds.base, holds: core.Holds, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		report, err := s.SweepOnce(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("sweep finished with errors")
		}
		if report != (SweepReport{}) {
			s.log.Info().
				Int("overdue", report.Overdue).
				Int("expired_holds", report.ExpiredHolds).
				Int("lapsed_pickups", report.LapsedPickups).
				Msg("sweep applied")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var (
		report SweepReport
		errs   []error
	)
	now := s.clock()

	due, err := s.db.ListDueBefore(ctx, now)
	if err != nil {
		return report, err
	}
	for _, record := range due {
		marked, err := s.markOverdue(ctx, record, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if marked {
			report.Overdue++
		}
	}

	lapsed, err := s.db.ListLapsedReservations(ctx, now)
	if err != nil {
		return report, errors.Join(append(errs, err)...)
	}
	for _, r := range lapsed {
		switch r.Status {
		case domain.ReservationStatusActive:
			expired, err := s.expireHold(ctx, r, now)
			if err != nil {
				errs = append(errs, err)
			} else if expired {
				report.ExpiredHolds++
			}
		case domain.ReservationStatusFulfilled:
			released, err := s.releasePickup(ctx, r.ID, r.BookID)
			if err != nil {
				errs = append(errs, err)
			} else if released {
				report.LapsedPickups++
			}
		}
	}

	return report, errors.Join(errs...)
}

func (s *Sweeper) markOverdue(ctx context.Context, record domain.BorrowingRecord, now time.Time) (bool, error) {
	next, err := domain.NextLoanStatus(record.Status, domain.LoanEventMarkOverdue)
	if err != nil {
		return false, err
	}

	expected := record.Status
	record.Status = next
	record.UpdatedAt = now
	if err := s.db.UpdateLoan(ctx, record, expected); err != nil {
		if errors.Is(err, port.ErrOptimisticLock) {
			return false, nil
		}
		return false, err
	}

	s.publish(ctx, domain.Event{
		ID:          newID(),
		Type:        domain.EventLoanOverdue,
		AggregateID: record.ID,
		UserID:      record.UserID,
		BookID:      record.BookID,
		OccurredAt:  now,
		Payload:     map[string]any{"due_date": record.DueDate},
	})
	return true, nil
}

func (s *Sweeper) expireHold(ctx context.Context, r domain.Reservation, now time.Time) (bool, error) {
	ob := &outbox{}
	if err := s.holds.expireIn(ctx, s.db, r, now, ob); err != nil {
		if errors.Is(err, port.ErrOptimisticLock) {
			return false, nil
		}
		return false, err
	}

	s.publish(ctx, ob.events...)
	return true, nil
}

// releasePickup re-reads the reservation under the book lock since a borrow may have
// claimed the earmark after the scan.
func (s *Sweeper) releasePickup(ctx context.Context, reservationID, bookID string) (bool, error) {
	var released bool
	err := s.runLocked(ctx, []string{lock.BookKey(bookID)}, func(tx port.DatabaseRepository, ob *outbox) error {
		released = false
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil || r == nil {
			return err
		}

		now := s.clock()
		if r.Status != domain.ReservationStatusFulfilled || !r.Earmarked || !r.Expired(now) {
			return nil
		}
		if err := s.holds.lapseIn(ctx, tx, *r, now, ob); err != nil {
			return err
		}
		released = true
		return nil
	})
	return released, err
}
