package domain

import "time"

type EventType string

const (
	EventLoanBorrowed  EventType = "loan.borrowed"
	EventLoanReturned  EventType = "loan.returned"
	EventLoanOverdue   EventType = "loan.overdue"
	EventLoanLost      EventType = "loan.lost"
	EventHoldPlaced    EventType = "hold.placed"
	EventHoldFulfilled EventType = "hold.fulfilled"
	EventHoldClaimed   EventType = "hold.claimed"
	EventHoldCancelled EventType = "hold.cancelled"
	EventHoldExpired   EventType = "hold.expired"
	EventFineAssessed  EventType = "fine.assessed"
	EventFinePaid      EventType = "fine.paid"
	EventFineWaived    EventType = "fine.waived"
)

// Event records a committed lending transition for downstream consumers.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	AggregateID string         `json:"aggregate_id"`
	UserID      string         `json:"user_id,omitempty"`
	BookID      string         `json:"book_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Payload     map[string]any `json:"payload,omitempty"`
}
