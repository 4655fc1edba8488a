package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-lending/internal/core/domain"
)

func lateFine(t *testing.T, env *testEnv, userID, bookID string, daysLate int) domain.Fine {
	t.Helper()
	rec := env.borrow(t, userID, bookID)
	env.clock.Advance(time.Duration(14+daysLate) * day)
	closure, err := env.core.Loans.ReturnBook(context.Background(), rec.ID, "")
	require.NoError(t, err)
	require.NotNil(t, closure.Fine)
	return *closure.Fine
}

func TestFine_MarkPaid(t *testing.T) {
	env := newTestEnv(t)
	env.addUsers(t, "u1")
	env.addBook(t, "b1", 1)
	fine := lateFine(t, env, "u1", "b1", 2)

	paid, err := env.core.Fines.MarkPaid(context.Background(), fine.ID, "card")

	require.NoError(t, err)
	assert.Equal(t, domain.FineStatusPaid, paid.Status)
	assert.Equal(t, "card", paid.PaymentMethod)
	require.NotNil(t, paid.PaymentDate)
	assert.True(t, paid.PaymentDate.Equal(env.clock.Now()))
	assert.Len(t, env.pub.ofType(domain.EventFinePaid), 1)

	_, err = env.core.Fines.MarkPaid(context.Background(), fine.ID, "card")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	_, err = env.core.Fines.Waive(context.Background(), fine.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestFine_Waive(t *testing.T) {
	env := newTestEnv(t)
	env.addUsers(t, "u1")
	env.addBook(t, "b1", 1)
	fine := lateFine(t, env, "u1", "b1", 1)

	waived, err := env.core.Fines.Waive(context.Background(), fine.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.FineStatusWaived, waived.Status)
	assert.Nil(t, waived.PaymentDate)
	_, err = env.core.Fines.MarkPaid(context.Background(), fine.ID, "cash")
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestFine_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.core.Fines.MarkPaid(context.Background(), "missing", "cash")
	assert.ErrorIs(t, err, domain.ErrFineNotFound)
	_, err = env.core.Fines.MarkPaid(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = env.core.Fines.Fine(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrFineNotFound)
}

func TestFine_PendingTotalSkipsSettled(t *testing.T) {
	env := newTestEnv(t)
	env.addUsers(t, "u1")
	env.addBook(t, "b1", 1)
	env.addBook(t, "b2", 1)
	env.addBook(t, "b3", 1)
	first := lateFine(t, env, "u1", "b1", 2)
	lateFine(t, env, "u1", "b2", 3)
	lateFine(t, env, "u1", "b3", 4)
	_, err := env.core.Fines.Waive(context.Background(), first.ID)
	require.NoError(t, err)

	pending, err := env.core.Fines.PendingByUser(context.Background(), "u1")

	require.NoError(t, err)
	assert.Len(t, pending.Fines, 2)
	assert.True(t, pending.Total.Equal(decimal.NewFromInt(7)), "got %s", pending.Total)
}
