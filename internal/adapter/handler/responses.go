package handler

import (
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/core/service"
)

// LoanResponse and the other views render money as fixed two-decimal strings.
type LoanResponse struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	BookID     string     `json:"book_id"`
	IssuedBy   string     `json:"issued_by,omitempty"`
	ReturnedBy string     `json:"returned_by,omitempty"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `json:"status"`
	FineAmount string     `json:"fine_amount"`
	Notes      string     `json:"notes,omitempty"`
}

type ReservationResponse struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	BookID          string    `json:"book_id"`
	ReservationDate time.Time `json:"reservation_date"`
	ExpiryDate      time.Time `json:"expiry_date"`
	Status          string    `json:"status"`
	Notified        bool      `json:"notified"`
	Earmarked       bool      `json:"earmarked"`
}

type FineResponse struct {
	ID            string     `json:"id"`
	RecordID      string     `json:"record_id"`
	UserID        string     `json:"user_id"`
	Amount        string     `json:"amount"`
	Reason        string     `json:"reason"`
	FineDate      time.Time  `json:"fine_date"`
	Status        string     `json:"status"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
}

type BookResponse struct {
	ID              string `json:"id"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	Status          string `json:"status"`
}

type ClosureResponse struct {
	Loan LoanResponse  `json:"loan"`
	Fine *FineResponse `json:"fine,omitempty"`
}

func toLoanResponse(r domain.BorrowingRecord) LoanResponse {
	return LoanResponse{
		ID:         r.ID,
		UserID:     r.UserID,
		BookID:     r.BookID,
		IssuedBy:   r.IssuedBy,
		ReturnedBy: r.ReturnedBy,
		BorrowDate: r.BorrowDate,
		DueDate:    r.DueDate,
		ReturnDate: r.ReturnDate,
		Status:     string(r.Status),
		FineAmount: r.FineAmount.StringFixed(2),
		Notes:      r.Notes,
	}
}

func toLoanResponses(rs []domain.BorrowingRecord) []LoanResponse {
	out := make([]LoanResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toLoanResponse(r))
	}
	return out
}

func toReservationResponse(r domain.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:              r.ID,
		UserID:          r.UserID,
		BookID:          r.BookID,
		ReservationDate: r.ReservationDate,
		ExpiryDate:      r.ExpiryDate,
		Status:          string(r.Status),
		Notified:        r.Notified,
		Earmarked:       r.Earmarked,
	}
}

func toReservationResponses(rs []domain.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, 0, len(rs))
	for _, r := range rs {
		out = append(out, toReservationResponse(r))
	}
	return out
}

func toFineResponse(f domain.Fine) FineResponse {
	return FineResponse{
		ID:            f.ID,
		RecordID:      f.RecordID,
		UserID:        f.UserID,
		Amount:        f.Amount.StringFixed(2),
		Reason:        f.Reason,
		FineDate:      f.FineDate,
		Status:        string(f.Status),
		PaymentDate:   f.PaymentDate,
		PaymentMethod: f.PaymentMethod,
	}
}

func toBookResponse(b domain.Book) BookResponse {
	return BookResponse{
		ID:              b.ID,
		TotalCopies:     b.TotalCopies,
		AvailableCopies: b.AvailableCopies,
		Status:          string(b.Status),
	}
}

func toClosureResponse(c service.Closure) ClosureResponse {
	out := ClosureResponse{Loan: toLoanResponse(c.Record)}
	if c.Fine != nil {
		f := toFineResponse(*c.Fine)
		out.Fine = &f
	}
	return out
}
