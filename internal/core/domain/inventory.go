package domain

import "time"

type BookStatus string

const (
	BookStatusAvailable   BookStatus = "AVAILABLE"
	BookStatusUnavailable BookStatus = "UNAVAILABLE"
	BookStatusDamaged     BookStatus = "DAMAGED"
	BookStatusLost        BookStatus = "LOST"
)

func (s BookStatus) Valid() bool {
	switch s {
	case BookStatusAvailable, BookStatusUnavailable, BookStatusDamaged, BookStatusLost:
		return true
	}
	return false
}

// Book is the copy-count view of a catalog entry. AvailableCopies is only ever
// changed through the inventory ledger.
type Book struct {
	ID              string
	TotalCopies     int
	AvailableCopies int
	Status          BookStatus
	Version         int // bumped on every counter write
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b Book) Borrowable() bool {
	return b.AvailableCopies > 0 && b.Status == BookStatusAvailable
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the subset of the user directory the lending core needs.
type User struct {
	ID        string
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u User) IsActive() bool {
	return u.Status == UserStatusActive
}
