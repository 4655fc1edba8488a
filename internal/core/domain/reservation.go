package domain

import "time"

const (
	DefaultHoldDays   = 7
	DefaultPickupDays = 3
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusFulfilled ReservationStatus = "FULFILLED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

type ReservationEvent string

const (
	ReservationEventFulfill     ReservationEvent = "fulfill"
	ReservationEventCancel      ReservationEvent = "cancel"
	ReservationEventExpire      ReservationEvent = "expire"
	ReservationEventPickupLapse ReservationEvent = "pickup_lapse"
)

// NextReservationStatus is the hold state machine. A fulfilled hold whose earmarked copy
// was never collected expires through pickup_lapse; every other fulfilled, cancelled or
// expired hold rejects further events, except that expiring an expired hold is a no-op.
func NextReservationStatus(current ReservationStatus, event ReservationEvent) (ReservationStatus, error) {
	switch current {
	case ReservationStatusActive:
		switch event {
		case ReservationEventFulfill:
			return ReservationStatusFulfilled, nil
		case ReservationEventCancel:
			return ReservationStatusCancelled, nil
		case ReservationEventExpire:
			return ReservationStatusExpired, nil
		}
	case ReservationStatusFulfilled:
		if event == ReservationEventPickupLapse {
			return ReservationStatusExpired, nil
		}
	case ReservationStatusExpired:
		if event == ReservationEventExpire || event == ReservationEventPickupLapse {
			return ReservationStatusExpired, nil
		}
	}
	return current, Errorf(CodeNotActive, "reservation is %s", current)
}

type Reservation struct {
	ID              string
	UserID          string
	BookID          string
	ReservationDate time.Time
	ExpiryDate      time.Time
	Status          ReservationStatus
	Notified        bool
	Earmarked       bool // a copy is held back for this user's pickup window
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func NewReservation(id, userID, bookID string, now time.Time, holdDays int) Reservation {
	if holdDays <= 0 {
		holdDays = DefaultHoldDays
	}
	return Reservation{
		ID:              id,
		UserID:          userID,
		BookID:          bookID,
		ReservationDate: now,
		ExpiryDate:      now.AddDate(0, 0, holdDays),
		Status:          ReservationStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Expired reports whether the hold (or its pickup window) ran out before now.
func (r Reservation) Expired(now time.Time) bool {
	return r.ExpiryDate.Before(now)
}

// AwaitingPickup reports whether a copy is earmarked and still claimable at now.
func (r Reservation) AwaitingPickup(now time.Time) bool {
	return r.Status == ReservationStatusFulfilled && r.Earmarked && !r.Expired(now)
}
