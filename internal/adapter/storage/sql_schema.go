package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/port"
)

type Dialect int

const (
	DialectMySQL Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "mysql"
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(16) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id VARCHAR(64) PRIMARY KEY,
		total_copies INT NOT NULL,
		available_copies INT NOT NULL,
		status VARCHAR(16) NOT NULL,
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	)`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		book_id VARCHAR(64) NOT NULL,
		issued_by VARCHAR(64) NOT NULL DEFAULT '',
		returned_by VARCHAR(64) NOT NULL DEFAULT '',
		borrow_date DATETIME(6) NOT NULL,
		due_date DATETIME(6) NOT NULL,
		return_date DATETIME(6) NULL,
		status VARCHAR(16) NOT NULL,
		fine_amount DECIMAL(10,2) NOT NULL DEFAULT 0,
		notes TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_records_user_status (user_id, status),
		INDEX idx_records_status_due (status, due_date)
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id VARCHAR(64) PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		book_id VARCHAR(64) NOT NULL,
		reservation_date DATETIME(6) NOT NULL,
		expiry_date DATETIME(6) NOT NULL,
		status VARCHAR(16) NOT NULL,
		notified BOOLEAN NOT NULL DEFAULT FALSE,
		earmarked BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_reservations_book_status (book_id, status, reservation_date),
		INDEX idx_reservations_user (user_id),
		INDEX idx_reservations_status_expiry (status, expiry_date)
	)`,
	`CREATE TABLE IF NOT EXISTS fines (
		id VARCHAR(64) PRIMARY KEY,
		record_id VARCHAR(64) NOT NULL UNIQUE,
		user_id VARCHAR(64) NOT NULL,
		amount DECIMAL(10,2) NOT NULL,
		reason VARCHAR(255) NOT NULL,
		fine_date DATETIME(6) NOT NULL,
		status VARCHAR(16) NOT NULL,
		payment_date DATETIME(6) NULL,
		payment_method VARCHAR(32) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_fines_user_status (user_id, status)
	)`,
}

// SQLite only turns a column back into time.Time when it is declared DATETIME, and keeps
// decimals as TEXT so amounts round-trip without float drift.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		total_copies INTEGER NOT NULL,
		available_copies INTEGER NOT NULL,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	)`,
	`CREATE TABLE IF NOT EXISTS borrowing_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		issued_by TEXT NOT NULL DEFAULT '',
		returned_by TEXT NOT NULL DEFAULT '',
		borrow_date DATETIME NOT NULL,
		due_date DATETIME NOT NULL,
		return_date DATETIME,
		status TEXT NOT NULL,
		fine_amount TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_user_status ON borrowing_records (user_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_records_status_due ON borrowing_records (status, due_date)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		reservation_date DATETIME NOT NULL,
		expiry_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		notified INTEGER NOT NULL DEFAULT 0,
		earmarked INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_book_status ON reservations (book_id, status, reservation_date)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_user ON reservations (user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_status_expiry ON reservations (status, expiry_date)`,
	`CREATE TABLE IF NOT EXISTS fines (
		id TEXT PRIMARY KEY,
		record_id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		fine_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		payment_date DATETIME,
		payment_method TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fines_user_status ON fines (user_id, status)`,
}

func (a *SQLAdapter) Migrate(ctx context.Context) error {
	schema := mysqlSchema
	if a.dialect == DialectSQLite {
		schema = sqliteSchema
	}

	for _, stmt := range schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", a.dialect, err)
		}
	}
	return nil
}

// Seed inserts a small demo catalogue and user directory. Rows that already exist are left alone.
func (a *SQLAdapter) Seed(ctx context.Context, now time.Time) error {
	books := []domain.Book{
		{ID: "book-go", TotalCopies: 3, AvailableCopies: 3, Status: domain.BookStatusAvailable},
		{ID: "book-ddd", TotalCopies: 1, AvailableCopies: 1, Status: domain.BookStatusAvailable},
		{ID: "book-sicp", TotalCopies: 2, AvailableCopies: 2, Status: domain.BookStatusAvailable},
		{ID: "book-archive", TotalCopies: 1, AvailableCopies: 1, Status: domain.BookStatusUnavailable},
	}
	users := []domain.User{
		{ID: "user-1", Status: domain.UserStatusActive},
		{ID: "user-2", Status: domain.UserStatusActive},
		{ID: "user-3", Status: domain.UserStatusActive},
		{ID: "user-suspended", Status: domain.UserStatusSuspended},
	}

	return a.InTx(ctx, func(tx port.DatabaseRepository) error {
		for _, b := range books {
			existing, err := tx.GetBook(ctx, b.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			b.CreatedAt, b.UpdatedAt = now, now
			if err := tx.CreateBook(ctx, b); err != nil {
				return err
			}
		}
		for _, u := range users {
			existing, err := tx.GetUser(ctx, u.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			u.CreatedAt, u.UpdatedAt = now, now
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
}
