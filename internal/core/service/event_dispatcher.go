package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/library-lending/internal/core/domain"
	"github.com/rl1809/library-lending/internal/port"
)

var (
	ErrEventQueueFull   = errors.New("event queue full")
	ErrDispatcherClosed = errors.New("event dispatcher closed")
)

const publishTimeout = 5 * time.Second

// EventDispatcher decouples committed transitions from the broker: Publish only enqueues,
// and a pool of workers forwards to the sink. A full queue drops the event.
type EventDispatcher struct {
	sink  port.EventPublisher
	queue chan domain.Event
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventDispatcher(sink port.EventPublisher, queueSize int, log zerolog.Logger) *EventDispatcher {
	return &EventDispatcher{
		sink:  sink,
		queue: make(chan domain.Event, queueSize),
		log:   log,
	}
}

func (d *EventDispatcher) Publish(ctx context.Context, event domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- event:
		return nil
	default:
		d.log.Warn().Str("event", string(event.Type)).Str("aggregate", event.AggregateID).Msg("event queue full, dropping event")
		return ErrEventQueueFull
	}
}

func (d *EventDispatcher) Start(workerCount int) {
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.log.Info().Int("workers", workerCount).Msg("event workers started")
}

// Close stops intake and waits until the workers drained the queue.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *EventDispatcher) workerLoop(id int) {
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)

		if err := d.sink.Publish(ctx, event); err != nil {
			d.log.Error().Err(err).Int("worker", id).Str("event", string(event.Type)).Str("id", event.ID).Msg("failed to publish event")
		} else {
			d.log.Debug().Int("worker", id).Str("event", string(event.Type)).Str("id", event.ID).Msg("event published")
		}

		cancel()
	}
}
