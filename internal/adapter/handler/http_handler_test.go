package handler

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-lending/internal/core/domain"
)

type envelope struct {
	Success   bool                `json:"success"`
	Message   string              `json:"message"`
	Data      jsoniter.RawMessage `json:"data"`
	Error     *APIError           `json:"error"`
	RequestID string              `json:"request_id"`
}

func newTestApp(t *testing.T) (*fiber.App, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewHTTPHandler(f.core, zerolog.Nop()).NewApp(), f
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestHTTPHandler_HealthCheck(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
}

func TestHTTPHandler_BorrowAndReturn(t *testing.T) {
	app, f := newTestApp(t)
	f.user(t, "u1", domain.UserStatusActive)
	f.book(t, "b1", 1)

	status, env := call(t, app, http.MethodPost, "/api/v1/loans", `{"user_id":"u1","book_id":"b1","issued_by":"desk"}`)
	require.Equal(t, http.StatusCreated, status)
	loan := decode[LoanResponse](t, env)
	assert.Equal(t, "BORROWED", loan.Status)
	assert.Equal(t, "0.00", loan.FineAmount)
	assert.True(t, t0.AddDate(0, 0, 14).Equal(loan.DueDate))

	status, env = call(t, app, http.MethodGet, "/api/v1/books/b1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, decode[BookResponse](t, env).AvailableCopies)

	f.clock.Advance(17 * day)

	status, env = call(t, app, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", `{"returned_by":"desk"}`)
	require.Equal(t, http.StatusOK, status)
	closure := decode[ClosureResponse](t, env)
	assert.Equal(t, "RETURNED", closure.Loan.Status)
	assert.Equal(t, "3.00", closure.Loan.FineAmount)
	require.NotNil(t, closure.Fine)
	assert.Equal(t, "PENDING", closure.Fine.Status)

	status, env = call(t, app, http.MethodPost, "/api/v1/loans/"+loan.ID+"/return", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_RETURNED", env.Error.Code)
}

func TestHTTPHandler_BorrowRejections(t *testing.T) {
	app, f := newTestApp(t)
	f.user(t, "u1", domain.UserStatusActive)
	f.user(t, "u2", domain.UserStatusActive)
	f.user(t, "blocked", domain.UserStatusSuspended)
	f.book(t, "b1", 1)

	status, _ := call(t, app, http.MethodPost, "/api/v1/loans", `{"user_id":"u1","book_id":"b1","request_id":"r-1"}`)
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"no copies left", `{"user_id":"u2","book_id":"b1"}`, http.StatusConflict, "NO_COPIES"},
		{"replayed request id", `{"user_id":"u1","book_id":"b1","request_id":"r-1"}`, http.StatusConflict, "DUPLICATE_REQUEST"},
		{"suspended user", `{"user_id":"blocked","book_id":"b1"}`, http.StatusForbidden, "USER_INACTIVE"},
		{"unknown book", `{"user_id":"u2","book_id":"nope"}`, http.StatusNotFound, "BOOK_NOT_FOUND"},
		{"missing user", `{"book_id":"b1"}`, http.StatusBadRequest, "INVALID_ARGUMENT"},
		{"malformed body", `{"user_id":`, http.StatusBadRequest, "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, app, http.MethodPost, "/api/v1/loans", tt.body)

			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.RequestID)
		})
	}
}

func TestHTTPHandler_HoldLifecycle(t *testing.T) {
	app, f := newTestApp(t)
	f.user(t, "u1", domain.UserStatusActive)
	f.book(t, "b1", 1)

	status, env := call(t, app, http.MethodPost, "/api/v1/holds", `{"user_id":"u1","book_id":"b1"}`)
	require.Equal(t, http.StatusCreated, status)
	hold := decode[ReservationResponse](t, env)
	assert.Equal(t, "ACTIVE", hold.Status)

	status, env = call(t, app, http.MethodGet, "/api/v1/books/b1/holds", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]ReservationResponse](t, env), 1)

	status, env = call(t, app, http.MethodDelete, "/api/v1/holds/"+hold.ID, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "CANCELLED", decode[ReservationResponse](t, env).Status)

	status, env = call(t, app, http.MethodDelete, "/api/v1/holds/"+hold.ID, "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NOT_ACTIVE", env.Error.Code)

	status, env = call(t, app, http.MethodGet, "/api/v1/users/u1/holds", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]ReservationResponse](t, env), 1)
}

func TestHTTPHandler_FineSettlement(t *testing.T) {
	app, f := newTestApp(t)
	f.user(t, "u1", domain.UserStatusActive)
	f.book(t, "b1", 2)

	_, env := call(t, app, http.MethodPost, "/api/v1/loans", `{"user_id":"u1","book_id":"b1"}`)
	loan := decode[LoanResponse](t, env)
	f.clock.Advance(16 * day)
	_, env = call(t, app, http.MethodPost, "/api/v1/loans/"+loan.ID+"/lost", `{"notes":"left on a train"}`)
	closure := decode[ClosureResponse](t, env)
	require.NotNil(t, closure.Fine)
	assert.Equal(t, "LOST", closure.Loan.Status)

	status, env := call(t, app, http.MethodGet, "/api/v1/users/u1/fines", "")
	require.Equal(t, http.StatusOK, status)
	pending := decode[struct {
		Fines []FineResponse `json:"fines"`
		Total string         `json:"total"`
	}](t, env)
	assert.Len(t, pending.Fines, 1)
	assert.Equal(t, "2.00", pending.Total)

	status, env = call(t, app, http.MethodPost, "/api/v1/fines/"+closure.Fine.ID+"/pay", `{"method":"card"}`)
	require.Equal(t, http.StatusOK, status)
	paid := decode[FineResponse](t, env)
	assert.Equal(t, "PAID", paid.Status)
	assert.Equal(t, "card", paid.PaymentMethod)

	status, env = call(t, app, http.MethodPost, "/api/v1/fines/"+closure.Fine.ID+"/waive", "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_SETTLED", env.Error.Code)

	status, env = call(t, app, http.MethodGet, "/api/v1/books/b1", "")
	require.Equal(t, http.StatusOK, status)
	book := decode[BookResponse](t, env)
	assert.Equal(t, 1, book.TotalCopies, "a lost copy leaves the inventory")
	assert.Equal(t, 1, book.AvailableCopies)
}

func TestHTTPHandler_BookAdministration(t *testing.T) {
	app, _ := newTestApp(t)

	status, env := call(t, app, http.MethodPost, "/api/v1/books", `{"id":"b9","total_copies":4}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 4, decode[BookResponse](t, env).AvailableCopies)

	status, env = call(t, app, http.MethodPost, "/api/v1/books", `{"id":"b9","total_copies":4}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "BOOK_EXISTS", env.Error.Code)

	status, env = call(t, app, http.MethodPut, "/api/v1/books/b9/status", `{"status":"DAMAGED"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "DAMAGED", decode[BookResponse](t, env).Status)

	status, env = call(t, app, http.MethodPut, "/api/v1/books/b9/status", `{"status":"SHREDDED"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ARGUMENT", env.Error.Code)
}

func TestHTTPHandler_LookupsAndListings(t *testing.T) {
	app, f := newTestApp(t)
	f.user(t, "u1", domain.UserStatusActive)
	f.book(t, "b1", 1)

	status, env := call(t, app, http.MethodGet, "/api/v1/loans/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RECORD_NOT_FOUND", env.Error.Code)

	status, env = call(t, app, http.MethodGet, "/api/v1/fines/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "FINE_NOT_FOUND", env.Error.Code)

	call(t, app, http.MethodPost, "/api/v1/loans", `{"user_id":"u1","book_id":"b1"}`)

	_, env = call(t, app, http.MethodGet, "/api/v1/loans", "")
	assert.Len(t, decode[[]LoanResponse](t, env), 1)
	_, env = call(t, app, http.MethodGet, "/api/v1/users/u1/loans", "")
	assert.Len(t, decode[[]LoanResponse](t, env), 1)
	_, env = call(t, app, http.MethodGet, "/api/v1/loans/overdue", "")
	assert.Empty(t, decode[[]LoanResponse](t, env))

	f.clock.Advance(15 * day)

	_, env = call(t, app, http.MethodGet, "/api/v1/loans/overdue", "")
	assert.Len(t, decode[[]LoanResponse](t, env), 1, "past due loans show up before the sweeper flags them")
	_, env = call(t, app, http.MethodGet, "/api/v1/users/u1/history", "")
	assert.Len(t, decode[[]LoanResponse](t, env), 1)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code domain.Code
		want int
	}{
		{domain.CodeInvalidArgument, http.StatusBadRequest},
		{domain.CodeReservationMissing, http.StatusNotFound},
		{domain.CodeUserInactive, http.StatusForbidden},
		{domain.CodeBorrowLimitReached, http.StatusConflict},
		{domain.CodeDuplicateHold, http.StatusConflict},
		{domain.CodeContention, http.StatusServiceUnavailable},
		{domain.CodeInvariantViolation, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpStatus(tt.code), tt.code)
	}
}
