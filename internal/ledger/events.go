package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Clark-Hu/stars/internal/domain"
)

// EventName identifies a ledger lifecycle transition.
type EventName string

const (
	EventCreated  EventName = "rating.created"
	EventUpdating EventName = "rating.updating"
	EventUpdated  EventName = "rating.updated"
	EventRemoving EventName = "rating.removing"
	EventRemoved  EventName = "rating.removed"
)

// Event is emitted around every ledger mutation. "-ing" events precede the
// storage write; "-ed" events follow the commit.
type Event struct {
	ID         string        `json:"id"`
	Name       EventName     `json:"name"`
	OccurredAt time.Time     `json:"occurredAt"`
	Rating     domain.Rating `json:"rating"`
	// NextRate is set on updating events: the rate about to be written.
	NextRate int `json:"nextRate,omitempty"`
	// PreviousRate is set on updated events.
	PreviousRate int `json:"previousRate,omitempty"`
}

func newEvent(name EventName, r domain.Rating, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Name:       name,
		OccurredAt: at,
		Rating:     r,
	}
}

// Notifier receives ledger events. Notify must not block on slow consumers
// for long; failures are the notifier's own concern. "-ing" events arrive
// while the write transaction is open: a notifier may read the ledger then,
// but must not write to it.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}
