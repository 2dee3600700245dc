package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Clark-Hu/stars/internal/ledger"
	"github.com/Clark-Hu/stars/internal/logger"
)

// ErrQueueFull is returned when an Async publisher cannot accept more events.
var ErrQueueFull = errors.New("events: queue full")

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("events: publisher closed")

// Async moves delivery off the caller's goroutine so network sinks never run
// inside a storage transaction.
type Async struct {
	next    Publisher
	queue   chan ledger.Event
	timeout time.Duration
	logger  *logger.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsync starts a single worker delivering to next. timeout bounds each
// delivery; zero means no bound.
func NewAsync(next Publisher, buffer int, timeout time.Duration, log *logger.Logger) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.Nop()
	}
	a := &Async{
		next:    next,
		queue:   make(chan ledger.Event, buffer),
		timeout: timeout,
		logger:  log,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues ev. It never blocks.
func (a *Async) Publish(_ context.Context, ev ledger.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) run() {
	for ev := range a.queue {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.next.Publish(ctx, ev); err != nil {
			a.logger.Warn("async event delivery failed", "event", string(ev.Name), "eventId", ev.ID, "error", err)
		}
		cancel()
	}
	close(a.done)
}

// Close stops accepting events and waits until the queue drains or ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
