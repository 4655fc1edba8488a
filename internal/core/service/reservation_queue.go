package service

import (
	"context"
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/lock"
	"github.com/rl1809/library-lending/internal/port"
)

// ReservationQueue keeps one FIFO of holds per book. A released copy goes to the oldest
// ACTIVE hold and is earmarked for that user until the pickup window closes.
type ReservationQueue struct {
	*base
	ledger *Ledger
}

func (q *ReservationQueue) PlaceHold(ctx context.Context, userID, bookID string, holdDays int) (*domain.Reservation, error) {
	if err := requireID("user id", userID); err != nil {
		return nil, err
	}
	if err := requireID("book id", bookID); err != nil {
		return nil, err
	}
	if holdDays <= 0 {
		holdDays = q.policy.HoldDays
	}

	var placed domain.Reservation
	err := q.runLocked(ctx, []string{lock.BookKey(bookID)}, func(tx port.DatabaseRepository, ob *outbox) error {
		if err := checkBorrower(ctx, tx, userID); err != nil {
			return err
		}
		book, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book == nil {
			return domain.ErrBookNotFound
		}

		dup, err := tx.HasActiveHold(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if dup {
			return domain.ErrDuplicateHold
		}

		now := q.clock()
		placed = domain.NewReservation(newID(), userID, bookID, now, holdDays)
		if err := tx.CreateReservation(ctx, placed); err != nil {
			return err
		}

		ob.add(domain.EventHoldPlaced, placed.ID, userID, bookID, now, map[string]any{
			"expiry_date": placed.ExpiryDate,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.log.Info().Str("reservation", placed.ID).Str("user", userID).Str("book", bookID).Msg("hold placed")
	return &placed, nil
}

func (q *ReservationQueue) CancelHold(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	if err := requireID("reservation id", reservationID); err != nil {
		return nil, err
	}

	current, err := q.db.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrReservationMissing
	}

	var cancelled domain.Reservation
	err = q.runLocked(ctx, []string{lock.BookKey(current.BookID)}, func(tx port.DatabaseRepository, ob *outbox) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r == nil {
			return domain.ErrReservationMissing
		}

		next, err := domain.NextReservationStatus(r.Status, domain.ReservationEventCancel)
		if err != nil {
			return err
		}

		now := q.clock()
		expected := r.Status
		r.Status = next
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, *r, expected); err != nil {
			return err
		}

		cancelled = *r
		ob.add(domain.EventHoldCancelled, r.ID, r.UserID, r.BookID, now, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

func (q *ReservationQueue) Reservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	r, err := q.db.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, domain.ErrReservationMissing
	}
	return r, nil
}

// ActiveByBook lists the waiting holds in the order they will be served.
func (q *ReservationQueue) ActiveByBook(ctx context.Context, bookID string) ([]domain.Reservation, error) {
	return q.db.ListActiveReservationsByBook(ctx, bookID)
}

func (q *ReservationQueue) ByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	return q.db.ListReservationsByUser(ctx, userID)
}

// handOffIn routes a copy coming back from a loan or a lapsed earmark: to the head of the
// queue when there is one, otherwise back to the shelf. The caller holds the book lock.
func (q *ReservationQueue) handOffIn(ctx context.Context, tx port.DatabaseRepository, bookID string, now time.Time, ob *outbox) error {
	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if book == nil {
		return domain.ErrBookNotFound
	}
	if err := q.ledger.releasableIn(ctx, tx, book); err != nil {
		return err
	}

	if book.Status == domain.BookStatusAvailable {
		fulfilled, err := q.fulfillNextIn(ctx, tx, bookID, now, ob)
		if err != nil {
			return err
		}
		if fulfilled {
			return nil
		}
	}
	return q.ledger.releaseIn(ctx, tx, bookID, now)
}

// fulfillNextIn earmarks the copy for the oldest ACTIVE hold. Holds whose own window has
// already passed are expired on the way instead of being served.
func (q *ReservationQueue) fulfillNextIn(ctx context.Context, tx port.DatabaseRepository, bookID string, now time.Time, ob *outbox) (bool, error) {
	waiting, err := tx.ListActiveReservationsByBook(ctx, bookID)
	if err != nil {
		return false, err
	}

	for _, r := range waiting {
		if r.Expired(now) {
			if err := q.expireIn(ctx, tx, r, now, ob); err != nil {
				return false, err
			}
			continue
		}

		next, err := domain.NextReservationStatus(r.Status, domain.ReservationEventFulfill)
		if err != nil {
			return false, err
		}
		expected := r.Status
		r.Status = next
		r.Earmarked = true
		r.Notified = true
		r.ExpiryDate = now.AddDate(0, 0, q.policy.PickupDays)
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r, expected); err != nil {
			return false, err
		}

		ob.add(domain.EventHoldFulfilled, r.ID, r.UserID, r.BookID, now, map[string]any{
			"pickup_by": r.ExpiryDate,
		})
		q.log.Info().Str("reservation", r.ID).Str("user", r.UserID).Str("book", bookID).Msg("copy earmarked for hold")
		return true, nil
	}
	return false, nil
}

// claimIn lets a borrower take the copy earmarked for their fulfilled hold. A lapsed
// earmark is released on the spot and the borrow falls back to the shelf.
func (q *ReservationQueue) claimIn(ctx context.Context, tx port.DatabaseRepository, userID, bookID string, now time.Time, ob *outbox) (bool, error) {
	r, err := tx.FindEarmarkedReservation(ctx, userID, bookID)
	if err != nil || r == nil {
		return false, err
	}

	if !r.AwaitingPickup(now) {
		return false, q.lapseIn(ctx, tx, *r, now, ob)
	}

	// the earmark outlives a status change; the sweeper lapses it if the book stays out
	book, err := tx.GetBook(ctx, bookID)
	if err != nil {
		return false, err
	}
	if book == nil {
		return false, domain.ErrBookNotFound
	}
	if book.Status != domain.BookStatusAvailable {
		return false, domain.Errorf(domain.CodeBookUnavailable, "book %s is %s", bookID, book.Status)
	}

	r.Earmarked = false
	r.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, *r, domain.ReservationStatusFulfilled); err != nil {
		return false, err
	}

	ob.add(domain.EventHoldClaimed, r.ID, userID, bookID, now, nil)
	return true, nil
}

// satisfyIn closes the borrower's own waiting hold once they took a copy off the shelf, so
// the queue does not earmark a second unit for them later.
func (q *ReservationQueue) satisfyIn(ctx context.Context, tx port.DatabaseRepository, userID, bookID string, now time.Time, ob *outbox) error {
	r, err := tx.FindActiveHold(ctx, userID, bookID)
	if err != nil || r == nil {
		return err
	}

	next, err := domain.NextReservationStatus(r.Status, domain.ReservationEventFulfill)
	if err != nil {
		return err
	}
	expected := r.Status
	r.Status = next
	r.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, *r, expected); err != nil {
		return err
	}

	ob.add(domain.EventHoldClaimed, r.ID, userID, bookID, now, map[string]any{"from_shelf": true})
	return nil
}

func (q *ReservationQueue) expireIn(ctx context.Context, tx port.DatabaseRepository, r domain.Reservation, now time.Time, ob *outbox) error {
	next, err := domain.NextReservationStatus(r.Status, domain.ReservationEventExpire)
	if err != nil {
		return err
	}
	expected := r.Status
	r.Status = next
	r.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, r, expected); err != nil {
		return err
	}

	ob.add(domain.EventHoldExpired, r.ID, r.UserID, r.BookID, now, map[string]any{"reason": "hold_window"})
	return nil
}

// lapseIn closes an earmark whose pickup window ran out and passes the unit on.
func (q *ReservationQueue) lapseIn(ctx context.Context, tx port.DatabaseRepository, r domain.Reservation, now time.Time, ob *outbox) error {
	next, err := domain.NextReservationStatus(r.Status, domain.ReservationEventPickupLapse)
	if err != nil {
		return err
	}
	expected := r.Status
	r.Status = next
	r.Earmarked = false
	r.UpdatedAt = now
	if err := tx.UpdateReservation(ctx, r, expected); err != nil {
		return err
	}

	ob.add(domain.EventHoldExpired, r.ID, r.UserID, r.BookID, now, map[string]any{"reason": "pickup_window"})
	q.log.Info().Str("reservation", r.ID).Str("book", r.BookID).Msg("pickup window lapsed, passing copy on")

	return q.handOffIn(ctx, tx, r.BookID, now, ob)
}

// checkBorrower is shared by Borrow and PlaceHold.
func checkBorrower(ctx context.Context, tx port.DatabaseRepository, userID string) error {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return domain.ErrUserNotFound
	}
	if !user.IsActive() {
		return domain.Errorf(domain.CodeUserInactive, "user %s is %s", userID, user.Status)
	}
	return nil
}
