package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/port"
)

// maxConflictRetries bounds how often a transaction is replayed after a conditional write
// lost its race.
const maxConflictRetries = 3

type Policy struct {
	LoanDays       int
	MaxOpenLoans   int
	HoldDays       int
	PickupDays     int
	FineRatePerDay decimal.Decimal
	LostBookFee    decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		LoanDays:       domain.DefaultLoanDays,
		MaxOpenLoans:   domain.MaxOpenLoans,
		HoldDays:       domain.DefaultHoldDays,
		PickupDays:     domain.DefaultPickupDays,
		FineRatePerDay: domain.DefaultFinePerDay,
		LostBookFee:    decimal.Zero,
	}
}

func (p Policy) validate() error {
	if p.LoanDays <= 0 || p.MaxOpenLoans <= 0 || p.HoldDays <= 0 || p.PickupDays <= 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "policy day counts and loan cap must be positive")
	}
	if p.FineRatePerDay.IsNegative() || p.LostBookFee.IsNegative() {
		return domain.Errorf(domain.CodeInvalidArgument, "policy amounts must not be negative")
	}
	return nil
}

type Deps struct {
	DB     port.DatabaseRepository
	Locker port.Locker
	// Guard records request ids; nil disables duplicate-request detection.
	Guard     port.CacheRepository
	Publisher port.EventPublisher
	Log       zerolog.Logger
	Now       func() time.Time
}

// LendingCore groups the lending components over one store and one lock namespace.
type LendingCore struct {
	Ledger *Ledger
	Loans  *LendingService
	Holds  *ReservationQueue
	Fines  *FineService
}

func NewLendingCore(deps Deps, policy Policy) (*LendingCore, error) {
	if deps.DB == nil || deps.Locker == nil {
		return nil, errors.New("lending core needs a database and a locker")
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	b := &base{
		db:        deps.DB,
		locker:    deps.Locker,
		guard:     deps.Guard,
		publisher: deps.Publisher,
		log:       deps.Log,
		now:       deps.Now,
		policy:    policy,
	}

	ledger := &Ledger{base: b}
	fines := &FineService{base: b}
	holds := &ReservationQueue{base: b, ledger: ledger}
	ledger.holds = holds
	loans := &LendingService{base: b, ledger: ledger, holds: holds, fines: fines}

	return &LendingCore{Ledger: ledger, Loans: loans, Holds: holds, Fines: fines}, nil
}

// outbox collects the events of one transaction attempt; they are published only after commit.
type outbox struct {
	events []domain.Event
}

func (o *outbox) add(typ domain.EventType, aggregateID, userID, bookID string, at time.Time, payload map[string]any) {
	o.events = append(o.events, domain.Event{
		ID:          newID(),
		Type:        typ,
		AggregateID: aggregateID,
		UserID:      userID,
		BookID:      bookID,
		OccurredAt:  at,
		Payload:     payload,
	})
}

type base struct {
	db        port.DatabaseRepository
	locker    port.Locker
	guard     port.CacheRepository
	publisher port.EventPublisher
	log       zerolog.Logger
	now       func() time.Time
	policy    Policy
}

func (b *base) clock() time.Time {
	return b.now().UTC().Truncate(time.Microsecond)
}

// runLocked holds keys for the whole transaction, including its conflict retries.
func (b *base) runLocked(ctx context.Context, keys []string, fn func(tx port.DatabaseRepository, ob *outbox) error) error {
	unlock, err := b.locker.Lock(ctx, keys...)
	if err != nil {
		return err
	}
	defer unlock()

	return b.runTx(ctx, fn)
}

func (b *base) runTx(ctx context.Context, fn func(tx port.DatabaseRepository, ob *outbox) error) error {
	var (
		ob  *outbox
		err error
	)
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		ob = &outbox{}
		err = b.db.InTx(ctx, func(tx port.DatabaseRepository) error {
			return fn(tx, ob)
		})
		if !errors.Is(err, port.ErrOptimisticLock) {
			break
		}
		b.log.Debug().Int("attempt", attempt).Msg("conditional write lost its race, replaying")
	}

	if errors.Is(err, port.ErrOptimisticLock) {
		return domain.Errorf(domain.CodeContention, "concurrent update, retry later")
	}
	if err != nil {
		return err
	}

	b.publish(ctx, ob.events...)
	return nil
}

func (b *base) publish(ctx context.Context, events ...domain.Event) {
	if b.publisher == nil {
		return
	}
	for _, e := range events {
		if err := b.publisher.Publish(ctx, e); err != nil {
			b.log.Warn().Err(err).Str("event", string(e.Type)).Str("aggregate", e.AggregateID).Msg("event not published")
		}
	}
}

// claimRequest consumes a client request id. Ids are single-use: a replay is rejected even
// when the first attempt failed.
func (b *base) claimRequest(ctx context.Context, scope, requestID string) error {
	if requestID == "" || b.guard == nil {
		return nil
	}

	ok, err := b.guard.SetIdempotency(ctx, scope+":"+requestID)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return domain.Errorf(domain.CodeDuplicateRequest, "request %s already processed", requestID)
	}
	return nil
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func requireID(name, value string) error {
	if value == "" {
		return domain.Errorf(domain.CodeInvalidArgument, "%s is required", name)
	}
	return nil
}
