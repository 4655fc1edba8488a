package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/core/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const requestIDHeader = "X-Request-ID"

type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BorrowHTTPRequest struct {
	UserID    string `json:"user_id"`
	BookID    string `json:"book_id"`
	IssuedBy  string `json:"issued_by"`
	LoanDays  int    `json:"loan_days"`
	RequestID string `json:"request_id"`
}

type ReturnHTTPRequest struct {
	ReturnedBy string `json:"returned_by"`
}

type LostHTTPRequest struct {
	Notes string `json:"notes"`
}

type HoldHTTPRequest struct {
	UserID   string `json:"user_id"`
	BookID   string `json:"book_id"`
	HoldDays int    `json:"hold_days"`
}

type PayHTTPRequest struct {
	Method string `json:"method"`
}

type RegisterBookHTTPRequest struct {
	ID          string `json:"id"`
	TotalCopies int    `json:"total_copies"`
}

type BookStatusHTTPRequest struct {
	Status string `json:"status"`
}

type HTTPHandler struct {
	core *service.LendingCore
	log  zerolog.Logger
}

func NewHTTPHandler(core *service.LendingCore, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{core: core, log: log}
}

// NewApp builds a fiber app with the lending routes mounted.
func (h *HTTPHandler) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "library-lending",
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          h.errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New())

	h.Register(app)
	return app
}

func (h *HTTPHandler) Register(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	api := app.Group("/api/v1")

	loans := api.Group("/loans")
	loans.Post("/", h.Borrow)
	loans.Get("/", h.OpenLoans)
	loans.Get("/overdue", h.OverdueLoans)
	loans.Get("/:id", h.GetLoan)
	loans.Post("/:id/return", h.ReturnBook)
	loans.Post("/:id/lost", h.MarkLost)

	holds := api.Group("/holds")
	holds.Post("/", h.PlaceHold)
	holds.Get("/:id", h.GetHold)
	holds.Delete("/:id", h.CancelHold)

	fines := api.Group("/fines")
	fines.Get("/:id", h.GetFine)
	fines.Post("/:id/pay", h.PayFine)
	fines.Post("/:id/waive", h.WaiveFine)

	books := api.Group("/books")
	books.Post("/", h.RegisterBook)
	books.Get("/:id", h.GetBook)
	books.Put("/:id/status", h.SetBookStatus)
	books.Get("/:id/holds", h.BookHolds)

	users := api.Group("/users")
	users.Get("/:id/loans", h.UserLoans)
	users.Get("/:id/history", h.UserHistory)
	users.Get("/:id/holds", h.UserHolds)
	users.Get("/:id/fines", h.UserFines)
}

func (h *HTTPHandler) HealthCheck(c *fiber.Ctx) error {
	return success(c, fiber.StatusOK, "healthy", fiber.Map{
		"status":  "ok",
		"service": "library-lending",
	})
}

func (h *HTTPHandler) Borrow(c *fiber.Ctx) error {
	var req BorrowHTTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	record, err := h.core.Loans.Borrow(c.UserContext(), service.BorrowRequest{
		UserID:    req.UserID,
		BookID:    req.BookID,
		IssuedBy:  req.IssuedBy,
		LoanDays:  req.LoanDays,
		RequestID: req.RequestID,
	})
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, "book borrowed", toLoanResponse(*record))
}

func (h *HTTPHandler) ReturnBook(c *fiber.Ctx) error {
	var req ReturnHTTPRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	closure, err := h.core.Loans.ReturnBook(c.UserContext(), c.Params("id"), req.ReturnedBy)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "book returned", toClosureResponse(*closure))
}

func (h *HTTPHandler) MarkLost(c *fiber.Ctx) error {
	var req LostHTTPRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	closure, err := h.core.Loans.MarkLost(c.UserContext(), c.Params("id"), req.Notes)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "book marked lost", toClosureResponse(*closure))
}

func (h *HTTPHandler) GetLoan(c *fiber.Ctx) error {
	record, err := h.core.Loans.Loan(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toLoanResponse(*record))
}

func (h *HTTPHandler) OpenLoans(c *fiber.Ctx) error {
	records, err := h.core.Loans.OpenLoans(c.UserContext())
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toLoanResponses(records))
}

func (h *HTTPHandler) OverdueLoans(c *fiber.Ctx) error {
	records, err := h.core.Loans.OverdueLoans(c.UserContext())
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toLoanResponses(records))
}

func (h *HTTPHandler) UserLoans(c *fiber.Ctx) error {
	records, err := h.core.Loans.ActiveByUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toLoanResponses(records))
}

func (h *HTTPHandler) UserHistory(c *fiber.Ctx) error {
	records, err := h.core.Loans.HistoryByUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toLoanResponses(records))
}

func (h *HTTPHandler) PlaceHold(c *fiber.Ctx) error {
	var req HoldHTTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	r, err := h.core.Holds.PlaceHold(c.UserContext(), req.UserID, req.BookID, req.HoldDays)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, "hold placed", toReservationResponse(*r))
}

func (h *HTTPHandler) GetHold(c *fiber.Ctx) error {
	r, err := h.core.Holds.Reservation(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toReservationResponse(*r))
}

func (h *HTTPHandler) CancelHold(c *fiber.Ctx) error {
	r, err := h.core.Holds.CancelHold(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "hold cancelled", toReservationResponse(*r))
}

func (h *HTTPHandler) BookHolds(c *fiber.Ctx) error {
	rs, err := h.core.Holds.ActiveByBook(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toReservationResponses(rs))
}

func (h *HTTPHandler) UserHolds(c *fiber.Ctx) error {
	rs, err := h.core.Holds.ByUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toReservationResponses(rs))
}

func (h *HTTPHandler) GetFine(c *fiber.Ctx) error {
	f, err := h.core.Fines.Fine(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toFineResponse(*f))
}

func (h *HTTPHandler) PayFine(c *fiber.Ctx) error {
	var req PayHTTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	f, err := h.core.Fines.MarkPaid(c.UserContext(), c.Params("id"), req.Method)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "fine paid", toFineResponse(*f))
}

func (h *HTTPHandler) WaiveFine(c *fiber.Ctx) error {
	f, err := h.core.Fines.Waive(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "fine waived", toFineResponse(*f))
}

func (h *HTTPHandler) UserFines(c *fiber.Ctx) error {
	pending, err := h.core.Fines.PendingByUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	fines := make([]FineResponse, 0, len(pending.Fines))
	for _, f := range pending.Fines {
		fines = append(fines, toFineResponse(f))
	}
	return success(c, fiber.StatusOK, "", fiber.Map{
		"fines": fines,
		"total": pending.Total.StringFixed(2),
	})
}

func (h *HTTPHandler) RegisterBook(c *fiber.Ctx) error {
	var req RegisterBookHTTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	b, err := h.core.Ledger.RegisterBook(c.UserContext(), req.ID, req.TotalCopies)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusCreated, "book registered", toBookResponse(*b))
}

func (h *HTTPHandler) GetBook(c *fiber.Ctx) error {
	b, err := h.core.Ledger.Book(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "", toBookResponse(*b))
}

func (h *HTTPHandler) SetBookStatus(c *fiber.Ctx) error {
	var req BookStatusHTTPRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	id := c.Params("id")
	if err := h.core.Ledger.SetStatus(c.UserContext(), id, domain.BookStatus(req.Status)); err != nil {
		return err
	}
	b, err := h.core.Ledger.Book(c.UserContext(), id)
	if err != nil {
		return err
	}
	return success(c, fiber.StatusOK, "book status updated", toBookResponse(*b))
}

// errorHandler turns business codes into HTTP statuses. Anything without a code is logged
// and reported as INTERNAL.
func (h *HTTPHandler) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return failure(c, fe.Code, "HTTP_ERROR", fe.Message)
	}

	code := domain.CodeOf(err)
	if code == "" || code == domain.CodeInvariantViolation {
		h.log.Error().Err(err).Str("path", c.Path()).Str("request_id", getRequestID(c)).Msg("request failed")
		return failure(c, fiber.StatusInternalServerError, "INTERNAL", "internal error")
	}

	var de *domain.Error
	errors.As(err, &de)
	return failure(c, httpStatus(code), string(code), de.Message)
}

func httpStatus(code domain.Code) int {
	switch code {
	case domain.CodeInvalidArgument:
		return fiber.StatusBadRequest
	case domain.CodeUserNotFound, domain.CodeBookNotFound, domain.CodeRecordNotFound,
		domain.CodeReservationMissing, domain.CodeFineNotFound:
		return fiber.StatusNotFound
	case domain.CodeUserInactive:
		return fiber.StatusForbidden
	case domain.CodeBookUnavailable, domain.CodeNoCopies, domain.CodeBorrowLimitReached,
		domain.CodeAlreadyReturned, domain.CodeDuplicateHold, domain.CodeNotActive,
		domain.CodeAlreadySettled, domain.CodeDuplicateRequest, domain.CodeBookExists:
		return fiber.StatusConflict
	case domain.CodeContention:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func success(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(c),
	})
}

func failure(c *fiber.Ctx, status int, code, message string) error {
	if status == fiber.StatusServiceUnavailable {
		c.Set(fiber.HeaderRetryAfter, "1")
	}
	return c.Status(status).JSON(APIResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
		RequestID: getRequestID(c),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return failure(c, fiber.StatusBadRequest, string(domain.CodeInvalidArgument), message)
}

// getRequestID echoes the caller's X-Request-ID, or mints one for this request.
func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestIDHeader).(string); ok {
		return id
	}
	id := c.Get(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Locals(requestIDHeader, id)
	c.Set(requestIDHeader, id)
	return id
}
