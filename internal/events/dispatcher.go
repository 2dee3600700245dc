// Package events fans ledger events out to in-process hooks and external
// sinks (Redis pub/sub, HTTP webhooks).
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

var _ ledger.Notifier = (*Dispatcher)(nil)

// Publisher delivers one event somewhere.
type Publisher interface {
	Publish(ctx context.Context, ev ledger.Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev ledger.Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev ledger.Event) error { return f(ctx, ev) }

type subscription struct {
	name  string
	names map[ledger.EventName]struct{}
	pub   Publisher
}

func (s subscription) wants(name ledger.EventName) bool {
	if len(s.names) == 0 {
		return true
	}
	_, ok := s.names[name]
	return ok
}

// Dispatcher calls every matching subscriber synchronously, in subscription
// order. A failing or panicking subscriber is logged and skipped.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	logger *logger.Logger
}

// NewDispatcher returns a dispatcher with no subscribers.
func NewDispatcher(log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{logger: log.With("component", "events")}
}

// Subscribe registers pub under name for the given events; no events means all.
func (d *Dispatcher) Subscribe(name string, pub Publisher, events ...ledger.EventName) {
	s := subscription{name: name, pub: pub}
	if len(events) > 0 {
		s.names = make(map[ledger.EventName]struct{}, len(events))
		for _, ev := range events {
			s.names[ev] = struct{}{}
		}
	}
	d.mu.Lock()
	d.subs = append(d.subs, s)
	d.mu.Unlock()
}

// Notify implements ledger.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, ev ledger.Event) {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for _, s := range subs {
		if !s.wants(ev.Name) {
			continue
		}
		if err := d.deliver(ctx, s, ev); err != nil {
			d.logger.Warn("event delivery failed", "subscriber", s.name, "event", string(ev.Name), "eventId", ev.ID, "error", err)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, s subscription, ev ledger.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.pub.Publish(ctx, ev)
}

// Committed lists the events that follow a successful write.
func Committed() []ledger.EventName {
	return []ledger.EventName{ledger.EventCreated, ledger.EventUpdated, ledger.EventRemoved}
}
