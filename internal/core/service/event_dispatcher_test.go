package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-lending/internal/core/domain"
)

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release   chan struct{}
	delivered atomic.Int32
}

func (p *blockingPublisher) Publish(ctx context.Context, event domain.Event) error {
	<-p.release
	p.delivered.Add(1)
	return nil
}

type failingPublisher struct {
	calls atomic.Int32
}

func (p *failingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.calls.Add(1)
	return errors.New("broker down")
}

func TestEventDispatcher_DeliversQueuedEvents(t *testing.T) {
	sink := &recordingPublisher{}
	d := NewEventDispatcher(sink, 100, zerolog.Nop())
	d.Start(4)

	for i := 0; i < 50; i++ {
		require.NoError(t, d.Publish(context.Background(), domain.Event{ID: newID(), Type: domain.EventLoanBorrowed}))
	}
	d.Close()

	assert.Len(t, sink.ofType(domain.EventLoanBorrowed), 50, "close drains the queue")
}

func TestEventDispatcher_DropsWhenFull(t *testing.T) {
	sink := &blockingPublisher{release: make(chan struct{})}
	d := NewEventDispatcher(sink, 2, zerolog.Nop())
	d.Start(1)

	// one event parked in the worker, two in the buffer
	require.NoError(t, d.Publish(context.Background(), domain.Event{Type: domain.EventHoldPlaced}))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, d.Publish(context.Background(), domain.Event{Type: domain.EventHoldPlaced}))
	require.NoError(t, d.Publish(context.Background(), domain.Event{Type: domain.EventHoldPlaced}))

	err := d.Publish(context.Background(), domain.Event{Type: domain.EventHoldPlaced})
	assert.ErrorIs(t, err, ErrEventQueueFull)

	close(sink.release)
	d.Close()
	assert.Equal(t, int32(3), sink.delivered.Load())
}

func TestEventDispatcher_PublishAfterClose(t *testing.T) {
	d := NewEventDispatcher(&recordingPublisher{}, 1, zerolog.Nop())
	d.Start(1)
	d.Close()
	d.Close()

	err := d.Publish(context.Background(), domain.Event{Type: domain.EventFinePaid})

	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestEventDispatcher_SinkFailureDoesNotStopWorkers(t *testing.T) {
	sink := &failingPublisher{}
	d := NewEventDispatcher(sink, 10, zerolog.Nop())
	d.Start(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Publish(context.Background(), domain.Event{Type: domain.EventFineWaived}))
	}
	d.Close()

	assert.Equal(t, int32(5), sink.calls.Load())
}

func TestEventDispatcher_FullQueueNeverFailsTheOperation(t *testing.T) {
	env := newTestEnv(t)
	d := NewEventDispatcher(&recordingPublisher{}, 0, zerolog.Nop())
	env.core.Loans.publisher = d
	env.addUsers(t, "u1")
	env.addBook(t, "b1", 1)

	_, err := env.core.Loans.Borrow(context.Background(), BorrowRequest{UserID: "u1", BookID: "b1"})

	assert.NoError(t, err)
	assert.Equal(t, 0, env.book(t, "b1").AvailableCopies)

	d.Close()
}
