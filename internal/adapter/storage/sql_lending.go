package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
)

const loanColumns = `id, user_id, book_id, issued_by, returned_by, borrow_date, due_date,
	return_date, status, fine_amount, notes, created_at, updated_at`

const reservationColumns = `id, user_id, book_id, reservation_date, expiry_date, status,
	notified, earmarked, created_at, updated_at`

const fineColumns = `id, record_id, user_id, amount, reason, fine_date, status,
	payment_date, payment_method, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (a *SQLAdapter) CreateLoan(ctx context.Context, r domain.BorrowingRecord) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO borrowing_records (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.BookID, r.IssuedBy, r.ReturnedBy, utc(r.BorrowDate), utc(r.DueDate),
		utcPtr(r.ReturnDate), r.Status, r.FineAmount, r.Notes, utc(r.CreatedAt), utc(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert borrowing record: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetLoan(ctx context.Context, recordID string) (*domain.BorrowingRecord, error) {
	row := a.q.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM borrowing_records WHERE id = ?`, recordID)
	r, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query borrowing record: %w", err)
	}
	return &r, nil
}

func (a *SQLAdapter) UpdateLoan(ctx context.Context, r domain.BorrowingRecord, expected domain.LoanStatus) error {
	return a.execConditional(ctx, "update borrowing record", `
		UPDATE borrowing_records
		SET returned_by = ?, return_date = ?, status = ?, fine_amount = ?, notes = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		r.ReturnedBy, utcPtr(r.ReturnDate), r.Status, r.FineAmount, r.Notes, utc(r.UpdatedAt),
		r.ID, expected,
	)
}

func (a *SQLAdapter) CountOpenLoans(ctx context.Context, userID string) (int, error) {
	var n int
	err := a.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM borrowing_records
		WHERE user_id = ? AND status IN (?, ?)`,
		userID, domain.LoanStatusBorrowed, domain.LoanStatusOverdue,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open loans: %w", err)
	}
	return n, nil
}

func (a *SQLAdapter) ListLoansByUser(ctx context.Context, userID string, statuses ...domain.LoanStatus) ([]domain.BorrowingRecord, error) {
	query := `SELECT ` + loanColumns + ` FROM borrowing_records WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		clause, statusArgs := inClause("status", statuses)
		query += " AND " + clause
		args = append(args, statusArgs...)
	}
	return a.queryLoans(ctx, query+" ORDER BY borrow_date, id", args...)
}

func (a *SQLAdapter) ListLoansByStatus(ctx context.Context, statuses ...domain.LoanStatus) ([]domain.BorrowingRecord, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	clause, args := inClause("status", statuses)
	return a.queryLoans(ctx, `SELECT `+loanColumns+` FROM borrowing_records WHERE `+clause+` ORDER BY due_date, id`, args...)
}

func (a *SQLAdapter) ListDueBefore(ctx context.Context, now time.Time) ([]domain.BorrowingRecord, error) {
	return a.queryLoans(ctx, `
		SELECT `+loanColumns+` FROM borrowing_records
		WHERE status = ? AND due_date < ?
		ORDER BY due_date, id`,
		domain.LoanStatusBorrowed, utc(now),
	)
}

func (a *SQLAdapter) ListOverdue(ctx context.Context, now time.Time) ([]domain.BorrowingRecord, error) {
	return a.queryLoans(ctx, `
		SELECT `+loanColumns+` FROM borrowing_records
		WHERE status = ? OR (status = ? AND due_date < ?)
		ORDER BY due_date, id`,
		domain.LoanStatusOverdue, domain.LoanStatusBorrowed, utc(now),
	)
}

// CountCommittedCopies counts the units of a book that are off the shelf: open loans plus
// copies earmarked for a pickup.
func (a *SQLAdapter) CountCommittedCopies(ctx context.Context, bookID string) (int, error) {
	var n int
	err := a.q.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM borrowing_records WHERE book_id = ? AND status IN (?, ?)) +
			(SELECT COUNT(*) FROM reservations WHERE book_id = ? AND status = ? AND earmarked = ?)`,
		bookID, domain.LoanStatusBorrowed, domain.LoanStatusOverdue,
		bookID, domain.ReservationStatusFulfilled, true,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count committed copies: %w", err)
	}
	return n, nil
}

func (a *SQLAdapter) queryLoans(ctx context.Context, query string, args ...any) ([]domain.BorrowingRecord, error) {
	rows, err := a.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query borrowing records: %w", err)
	}
	defer rows.Close()

	var out []domain.BorrowingRecord
	for rows.Next() {
		r, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan borrowing record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanLoan(s rowScanner) (domain.BorrowingRecord, error) {
	var (
		r          domain.BorrowingRecord
		returnDate sql.NullTime
	)
	err := s.Scan(&r.ID, &r.UserID, &r.BookID, &r.IssuedBy, &r.ReturnedBy, &r.BorrowDate, &r.DueDate,
		&returnDate, &r.Status, &r.FineAmount, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}

	r.ReturnDate = fromNullTime(returnDate)
	r.BorrowDate, r.DueDate = r.BorrowDate.UTC(), r.DueDate.UTC()
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return r, nil
}

func (a *SQLAdapter) CreateReservation(ctx context.Context, r domain.Reservation) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.BookID, utc(r.ReservationDate), utc(r.ExpiryDate), r.Status,
		r.Notified, r.Earmarked, utc(r.CreatedAt), utc(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	row := a.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, reservationID)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query reservation: %w", err)
	}
	return &r, nil
}

func (a *SQLAdapter) UpdateReservation(ctx context.Context, r domain.Reservation, expected domain.ReservationStatus) error {
	return a.execConditional(ctx, "update reservation", `
		UPDATE reservations
		SET expiry_date = ?, status = ?, notified = ?, earmarked = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		utc(r.ExpiryDate), r.Status, r.Notified, r.Earmarked, utc(r.UpdatedAt),
		r.ID, expected,
	)
}

func (a *SQLAdapter) HasActiveHold(ctx context.Context, userID, bookID string) (bool, error) {
	var n int
	err := a.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE user_id = ? AND book_id = ? AND status = ?`,
		userID, bookID, domain.ReservationStatusActive,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count active holds: %w", err)
	}
	return n > 0, nil
}

func (a *SQLAdapter) ListActiveReservationsByBook(ctx context.Context, bookID string) ([]domain.Reservation, error) {
	return a.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE book_id = ? AND status = ?
		ORDER BY reservation_date, id`,
		bookID, domain.ReservationStatusActive,
	)
}

func (a *SQLAdapter) ListReservationsByUser(ctx context.Context, userID string) ([]domain.Reservation, error) {
	return a.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = ?
		ORDER BY reservation_date, id`,
		userID,
	)
}

func (a *SQLAdapter) FindEarmarkedReservation(ctx context.Context, userID, bookID string) (*domain.Reservation, error) {
	row := a.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = ? AND book_id = ? AND status = ? AND earmarked = ?
		ORDER BY reservation_date, id
		LIMIT 1`,
		userID, bookID, domain.ReservationStatusFulfilled, true,
	)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query earmarked reservation: %w", err)
	}
	return &r, nil
}

func (a *SQLAdapter) FindActiveHold(ctx context.Context, userID, bookID string) (*domain.Reservation, error) {
	row := a.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE user_id = ? AND book_id = ? AND status = ?
		ORDER BY reservation_date, id
		LIMIT 1`,
		userID, bookID, domain.ReservationStatusActive,
	)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active hold: %w", err)
	}
	return &r, nil
}

func (a *SQLAdapter) ListLapsedReservations(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	return a.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE (status = ? OR (status = ? AND earmarked = ?)) AND expiry_date < ?
		ORDER BY expiry_date, id`,
		domain.ReservationStatusActive, domain.ReservationStatusFulfilled, true, utc(now),
	)
}

func (a *SQLAdapter) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := a.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReservation(s rowScanner) (domain.Reservation, error) {
	var r domain.Reservation
	err := s.Scan(&r.ID, &r.UserID, &r.BookID, &r.ReservationDate, &r.ExpiryDate, &r.Status,
		&r.Notified, &r.Earmarked, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}

	r.ReservationDate, r.ExpiryDate = r.ReservationDate.UTC(), r.ExpiryDate.UTC()
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	return r, nil
}

func (a *SQLAdapter) CreateFine(ctx context.Context, f domain.Fine) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO fines (`+fineColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RecordID, f.UserID, f.Amount, f.Reason, utc(f.FineDate), f.Status,
		utcPtr(f.PaymentDate), f.PaymentMethod, utc(f.CreatedAt), utc(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert fine: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetFine(ctx context.Context, fineID string) (*domain.Fine, error) {
	row := a.q.QueryRowContext(ctx, `SELECT `+fineColumns+` FROM fines WHERE id = ?`, fineID)
	f, err := scanFine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query fine: %w", err)
	}
	return &f, nil
}

func (a *SQLAdapter) UpdateFine(ctx context.Context, f domain.Fine, expected domain.FineStatus) error {
	return a.execConditional(ctx, "update fine", `
		UPDATE fines
		SET status = ?, payment_date = ?, payment_method = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		f.Status, utcPtr(f.PaymentDate), f.PaymentMethod, utc(f.UpdatedAt),
		f.ID, expected,
	)
}

func (a *SQLAdapter) ListFinesByUser(ctx context.Context, userID string, statuses ...domain.FineStatus) ([]domain.Fine, error) {
	query := `SELECT ` + fineColumns + ` FROM fines WHERE user_id = ?`
	args := []any{userID}
	if len(statuses) > 0 {
		clause, statusArgs := inClause("status", statuses)
		query += " AND " + clause
		args = append(args, statusArgs...)
	}

	rows, err := a.q.QueryContext(ctx, query+" ORDER BY fine_date, id", args...)
	if err != nil {
		return nil, fmt.Errorf("query fines: %w", err)
	}
	defer rows.Close()

	var out []domain.Fine
	for rows.Next() {
		f, err := scanFine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fine: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFine(s rowScanner) (domain.Fine, error) {
	var (
		f           domain.Fine
		paymentDate sql.NullTime
	)
	err := s.Scan(&f.ID, &f.RecordID, &f.UserID, &f.Amount, &f.Reason, &f.FineDate, &f.Status,
		&paymentDate, &f.PaymentMethod, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return f, err
	}

	f.PaymentDate = fromNullTime(paymentDate)
	f.FineDate = f.FineDate.UTC()
	f.CreatedAt, f.UpdatedAt = f.CreatedAt.UTC(), f.UpdatedAt.UTC()
	return f, nil
}
