package port

import (
	"context"

	"github.com/rl1809/library-lending/internal/core/domain"
)

type EventPublisher interface {
	// Publish hands off a committed event; failures never undo the transition
	Publish(ctx context.Context, event domain.Event) error
}
