package domain

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable reason attached to every rejected operation.
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeUserInactive       Code = "USER_INACTIVE"
	CodeBookNotFound       Code = "BOOK_NOT_FOUND"
	CodeBookUnavailable    Code = "BOOK_UNAVAILABLE"
	CodeNoCopies           Code = "NO_COPIES"
	CodeBorrowLimitReached Code = "BORROW_LIMIT_REACHED"
	CodeRecordNotFound     Code = "RECORD_NOT_FOUND"
	CodeAlreadyReturned    Code = "ALREADY_RETURNED"
	CodeReservationMissing Code = "RESERVATION_NOT_FOUND"
	CodeDuplicateHold      Code = "DUPLICATE_HOLD"
	CodeNotActive          Code = "NOT_ACTIVE"
	CodeFineNotFound       Code = "FINE_NOT_FOUND"
	CodeAlreadySettled     Code = "ALREADY_SETTLED"
	CodeDuplicateRequest   Code = "DUPLICATE_REQUEST"
	CodeBookExists         Code = "BOOK_EXISTS"
	CodeContention         Code = "CONTENTION"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"
)

// Error is a business failure. Two errors are equal under errors.Is when their codes match,
// so callers compare against the sentinels below regardless of the message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrUserNotFound       = &Error{Code: CodeUserNotFound, Message: "user not found"}
	ErrUserInactive       = &Error{Code: CodeUserInactive, Message: "user is not active"}
	ErrBookNotFound       = &Error{Code: CodeBookNotFound, Message: "book not found"}
	ErrBookUnavailable    = &Error{Code: CodeBookUnavailable, Message: "book is not available for borrowing"}
	ErrNoCopies           = &Error{Code: CodeNoCopies, Message: "no copies available"}
	ErrBorrowLimitReached = &Error{Code: CodeBorrowLimitReached, Message: "maximum borrowing limit reached"}
	ErrRecordNotFound     = &Error{Code: CodeRecordNotFound, Message: "borrowing record not found"}
	ErrAlreadyReturned    = &Error{Code: CodeAlreadyReturned, Message: "book already returned"}
	ErrReservationMissing = &Error{Code: CodeReservationMissing, Message: "reservation not found"}
	ErrDuplicateHold      = &Error{Code: CodeDuplicateHold, Message: "user already holds this book"}
	ErrNotActive          = &Error{Code: CodeNotActive, Message: "reservation is not active"}
	ErrFineNotFound       = &Error{Code: CodeFineNotFound, Message: "fine not found"}
	ErrAlreadySettled     = &Error{Code: CodeAlreadySettled, Message: "fine already settled"}
	ErrDuplicateRequest   = &Error{Code: CodeDuplicateRequest, Message: "duplicate request"}
	ErrBookExists         = &Error{Code: CodeBookExists, Message: "book already registered"}
	ErrContention         = &Error{Code: CodeContention, Message: "resource busy, retry later"}
	ErrInvariantViolation = &Error{Code: CodeInvariantViolation, Message: "inventory invariant violated"}
)

// CodeOf returns the business code carried by err, or "" for unexpected failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether the caller may retry the same request unchanged.
func IsTransient(err error) bool {
	return CodeOf(err) == CodeContention
}
