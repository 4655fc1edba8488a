package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/port"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLAdapter implements port.DatabaseRepository on MySQL or SQLite. Both dialects share
// the same queries; only the schema differs.
type SQLAdapter struct {
	db      *sql.DB
	q       querier
	inTx    bool
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, q: db, dialect: dialect}
}

// OpenMySQL connects with the pool settings used in production. The DSN must carry
// parseTime=true; clientFoundRows=true keeps conditional updates reporting matched rows.
func OpenMySQL(ctx context.Context, dsn string) (*SQLAdapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	a := NewSQLAdapter(db, DialectMySQL)
	if err := a.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// OpenSQLite opens the embedded store. SQLite allows one writer, so the pool is pinned to
// a single connection and every caller queues behind it.
func OpenSQLite(ctx context.Context, path string) (*SQLAdapter, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	a := NewSQLAdapter(db, DialectSQLite)
	if err := a.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLAdapter) DB() *sql.DB {
	return a.db
}

func (a *SQLAdapter) Close() error {
	return a.db.Close()
}

func (a *SQLAdapter) InTx(ctx context.Context, fn func(tx port.DatabaseRepository) error) error {
	if a.inTx {
		return fn(a)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLAdapter{db: a.db, q: tx, inTx: true, dialect: a.dialect}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := a.q.QueryRowContext(ctx, `
		SELECT id, status, created_at, updated_at
		FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Status, &u.CreatedAt, &u.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	return &u, nil
}

func (a *SQLAdapter) CreateUser(ctx context.Context, user domain.User) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO users (id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		user.ID, user.Status, utc(user.CreatedAt), utc(user.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetBook(ctx context.Context, bookID string) (*domain.Book, error) {
	var b domain.Book
	err := a.q.QueryRowContext(ctx, `
		SELECT id, total_copies, available_copies, status, version, created_at, updated_at
		FROM books WHERE id = ?`, bookID,
	).Scan(&b.ID, &b.TotalCopies, &b.AvailableCopies, &b.Status, &b.Version, &b.CreatedAt, &b.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query book: %w", err)
	}

	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return &b, nil
}

func (a *SQLAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	_, err := a.q.ExecContext(ctx, `
		INSERT INTO books (id, total_copies, available_copies, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		book.ID, book.TotalCopies, book.AvailableCopies, book.Status, book.Version,
		utc(book.CreatedAt), utc(book.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (a *SQLAdapter) DecrementAvailable(ctx context.Context, bookID string, now time.Time) (bool, error) {
	return a.execAffected(ctx, "decrement available", `
		UPDATE books
		SET available_copies = available_copies - 1, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ? AND available_copies > 0`,
		utc(now), bookID, domain.BookStatusAvailable,
	)
}

func (a *SQLAdapter) IncrementAvailable(ctx context.Context, bookID string, now time.Time) (bool, error) {
	return a.execAffected(ctx, "increment available", `
		UPDATE books
		SET available_copies = available_copies + 1, version = version + 1, updated_at = ?
		WHERE id = ? AND available_copies < total_copies`,
		utc(now), bookID,
	)
}

func (a *SQLAdapter) RetireCopy(ctx context.Context, bookID string, now time.Time) (bool, error) {
	return a.execAffected(ctx, "retire copy", `
		UPDATE books
		SET total_copies = total_copies - 1, version = version + 1, updated_at = ?
		WHERE id = ? AND total_copies > available_copies`,
		utc(now), bookID,
	)
}

func (a *SQLAdapter) UpdateBookStatus(ctx context.Context, bookID string, status domain.BookStatus, now time.Time) (bool, error) {
	return a.execAffected(ctx, "update book status", `
		UPDATE books
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		status, utc(now), bookID,
	)
}

func (a *SQLAdapter) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := a.q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rows > 0, nil
}

// execConditional runs a compare-and-set UPDATE and reports a lost race as ErrOptimisticLock.
func (a *SQLAdapter) execConditional(ctx context.Context, op, query string, args ...any) error {
	ok, err := a.execAffected(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if !ok {
		return port.ErrOptimisticLock
	}
	return nil
}

// utc normalises timestamps to the precision both dialects store.
func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return utc(*t)
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// inClause renders "col IN (?, ?, ...)" for a non-empty value list.
func inClause[T ~string](col string, values []T) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = string(v)
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}
