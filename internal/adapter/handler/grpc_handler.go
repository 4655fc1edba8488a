package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/core/service"
)

const LendingServiceName = "lending.v1.LendingService"

// LendingServiceServer exchanges google.protobuf.Struct messages, so clients need no
// generated stubs: field names match the JSON API.
type LendingServiceServer interface {
	Borrow(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReturnBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkLost(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PlaceHold(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelHold(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PayFine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WaiveFine(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(LendingServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	fullMethod := "/" + LendingServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LendingServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(LendingServiceServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var LendingServiceDesc = grpc.ServiceDesc{
	ServiceName: LendingServiceName,
	HandlerType: (*LendingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Borrow", LendingServiceServer.Borrow),
		unary("ReturnBook", LendingServiceServer.ReturnBook),
		unary("MarkLost", LendingServiceServer.MarkLost),
		unary("PlaceHold", LendingServiceServer.PlaceHold),
		unary("CancelHold", LendingServiceServer.CancelHold),
		unary("PayFine", LendingServiceServer.PayFine),
		unary("WaiveFine", LendingServiceServer.WaiveFine),
		unary("GetBook", LendingServiceServer.GetBook),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lending/v1/lending.proto",
}

func RegisterLendingServiceServer(s grpc.ServiceRegistrar, srv LendingServiceServer) {
	s.RegisterService(&LendingServiceDesc, srv)
}

type GRPCHandler struct {
	core *service.LendingCore
	log  zerolog.Logger
}

func NewGRPCHandler(core *service.LendingCore, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{core: core, log: log}
}

func (h *GRPCHandler) Borrow(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	record, err := h.core.Loans.Borrow(ctx, service.BorrowRequest{
		UserID:    str(req, "user_id"),
		BookID:    str(req, "book_id"),
		IssuedBy:  str(req, "issued_by"),
		LoanDays:  num(req, "loan_days"),
		RequestID: str(req, "request_id"),
	})
	if err != nil {
		return nil, h.toStatus(err)
	}
	return loanStruct(*record)
}

func (h *GRPCHandler) ReturnBook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	closure, err := h.core.Loans.ReturnBook(ctx, str(req, "record_id"), str(req, "returned_by"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return closureStruct(*closure)
}

func (h *GRPCHandler) MarkLost(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	closure, err := h.core.Loans.MarkLost(ctx, str(req, "record_id"), str(req, "notes"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return closureStruct(*closure)
}

func (h *GRPCHandler) PlaceHold(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := h.core.Holds.PlaceHold(ctx, str(req, "user_id"), str(req, "book_id"), num(req, "hold_days"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(reservationFields(*r))
}

func (h *GRPCHandler) CancelHold(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := h.core.Holds.CancelHold(ctx, str(req, "reservation_id"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(reservationFields(*r))
}

func (h *GRPCHandler) PayFine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, err := h.core.Fines.MarkPaid(ctx, str(req, "fine_id"), str(req, "method"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(fineFields(*f))
}

func (h *GRPCHandler) WaiveFine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f, err := h.core.Fines.Waive(ctx, str(req, "fine_id"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(fineFields(*f))
}

func (h *GRPCHandler) GetBook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	b, err := h.core.Ledger.Book(ctx, str(req, "book_id"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"id":               b.ID,
		"total_copies":     b.TotalCopies,
		"available_copies": b.AvailableCopies,
		"status":           string(b.Status),
	})
}

func (h *GRPCHandler) toStatus(err error) error {
	code := domain.CodeOf(err)
	if code == "" || code == domain.CodeInvariantViolation {
		h.log.Error().Err(err).Msg("grpc call failed")
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(grpcCode(code), err.Error())
}

func grpcCode(code domain.Code) codes.Code {
	switch code {
	case domain.CodeInvalidArgument:
		return codes.InvalidArgument
	case domain.CodeUserNotFound, domain.CodeBookNotFound, domain.CodeRecordNotFound,
		domain.CodeReservationMissing, domain.CodeFineNotFound:
		return codes.NotFound
	case domain.CodeUserInactive:
		return codes.PermissionDenied
	case domain.CodeDuplicateRequest, domain.CodeDuplicateHold, domain.CodeBookExists:
		return codes.AlreadyExists
	case domain.CodeBookUnavailable, domain.CodeNoCopies, domain.CodeBorrowLimitReached,
		domain.CodeAlreadyReturned, domain.CodeNotActive, domain.CodeAlreadySettled:
		return codes.FailedPrecondition
	case domain.CodeContention:
		return codes.Unavailable
	}
	return codes.Internal
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func num(s *structpb.Struct, key string) int {
	return int(s.GetFields()[key].GetNumberValue())
}

func timeField(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func loanFields(r domain.BorrowingRecord) map[string]any {
	return map[string]any{
		"id":          r.ID,
		"user_id":     r.UserID,
		"book_id":     r.BookID,
		"status":      string(r.Status),
		"borrow_date": timeField(&r.BorrowDate),
		"due_date":    timeField(&r.DueDate),
		"return_date": timeField(r.ReturnDate),
		"fine_amount": r.FineAmount.StringFixed(2),
	}
}

func loanStruct(r domain.BorrowingRecord) (*structpb.Struct, error) {
	return structpb.NewStruct(loanFields(r))
}

func closureStruct(c service.Closure) (*structpb.Struct, error) {
	out := map[string]any{"loan": loanFields(c.Record)}
	if c.Fine != nil {
		out["fine"] = fineFields(*c.Fine)
	}
	return structpb.NewStruct(out)
}

func reservationFields(r domain.Reservation) map[string]any {
	return map[string]any{
		"id":               r.ID,
		"user_id":          r.UserID,
		"book_id":          r.BookID,
		"status":           string(r.Status),
		"reservation_date": timeField(&r.ReservationDate),
		"expiry_date":      timeField(&r.ExpiryDate),
		"notified":         r.Notified,
		"earmarked":        r.Earmarked,
	}
}

func fineFields(f domain.Fine) map[string]any {
	return map[string]any{
		"id":             f.ID,
		"record_id":      f.RecordID,
		"user_id":        f.UserID,
		"amount":         f.Amount.StringFixed(2),
		"reason":         f.Reason,
		"status":         string(f.Status),
		"payment_date":   timeField(f.PaymentDate),
		"payment_method": f.PaymentMethod,
	}
}
