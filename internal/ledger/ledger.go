// Package ledger owns every read and write of rating rows and enforces that
// each identity holds at most one rating per target.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/logger"
)

// Config is the explicit configuration handed to the ledger at construction.
type Config struct {
	MinRate       int
	MaxRate       int
	DefaultSource string
}

// DefaultConfig returns the stock 1..5 scale with "web" as the source.
func DefaultConfig() Config {
	return Config{MinRate: DefaultMinRate, MaxRate: DefaultMaxRate, DefaultSource: DefaultSource}
}

// Outcome reports what Upsert did.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Result is returned by Upsert.
type Result struct {
	Rating  domain.Rating
	Outcome Outcome
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) {
		if n != nil {
			l.notifier = n
		}
	}
}

// WithCache enables summary caching for aggregates.
func WithCache(c SummaryCache) Option {
	return func(l *Ledger) { l.cache = c }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.logger = log
		}
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger is the rating subsystem entry point. It is safe for concurrent use.
type Ledger struct {
	*Aggregator

	store     Store
	cache     SummaryCache
	validator Validator
	resolver  Resolver
	notifier  Notifier
	logger    *logger.Logger
	now       func() time.Time
}

// New constructs a Ledger over store.
func New(store Store, cfg Config, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: store is required")
	}
	validator, err := NewValidator(cfg.MinRate, cfg.MaxRate)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	l := &Ledger{
		store:     store,
		validator: validator,
		resolver:  Resolver{DefaultSource: cfg.DefaultSource},
		notifier:  nopNotifier{},
		logger:    logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.Aggregator = NewAggregator(store, l.cache, l.logger)
	return l, nil
}

// Validator exposes the configured bounds.
func (l *Ledger) Validator() Validator { return l.validator }

// Upsert creates, updates or leaves untouched the rating held by the input's
// identity on target. Equal rates are a no-op and emit nothing.
func (l *Ledger) Upsert(ctx context.Context, target domain.Ratable, in Input) (Result, error) {
	ref, err := targetRef(target)
	if err != nil {
		return Result{}, err
	}
	if err := l.validator.Validate(in.Rate); err != nil {
		return Result{}, err
	}
	id, meta, err := l.resolver.Resolve(in)
	if err != nil {
		return Result{}, err
	}

	var (
		res     Result
		pending []Event
	)
	err = l.store.Tx(ctx, func(tx Tx) error {
		res, pending = Result{}, nil

		existing, ok, err := tx.FindForUpdate(ctx, ref, id)
		if err != nil {
			return err
		}
		if !ok {
			created := domain.Rating{
				Target: ref,
				Actor:  id.Actor,
				Device: meta.Device,
				Rate:   in.Rate,
				IP:     meta.IP,
				Source: meta.Source,
			}
			err := tx.Insert(ctx, &created)
			if err == nil {
				res = Result{Rating: created, Outcome: Created}
				pending = append(pending, newEvent(EventCreated, created, l.now()))
				return nil
			}
			if !errors.Is(err, ErrConflict) {
				return err
			}
			// A concurrent writer took the slot first; continue against its row.
			existing, ok, err = tx.FindForUpdate(ctx, ref, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s on %s", ErrConflict, id, ref)
			}
		}

		if existing.Rate == in.Rate {
			res = Result{Rating: existing, Outcome: Unchanged}
			return nil
		}

		updating := newEvent(EventUpdating, existing, l.now())
		updating.NextRate = in.Rate
		l.notifier.Notify(ctx, updating)

		next := existing
		next.Rate = in.Rate
		next.IP = meta.IP
		next.Source = meta.Source
		if id.Actor != nil {
			next.Device = meta.Device
		}
		if err := tx.Update(ctx, &next); err != nil {
			return err
		}
		updated := newEvent(EventUpdated, next, l.now())
		updated.PreviousRate = existing.Rate
		res = Result{Rating: next, Outcome: Updated}
		pending = append(pending, updated)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("upsert rating %s on %s: %w", id, ref, err)
	}

	if res.Outcome != Unchanged {
		l.Invalidate(ctx, res.Rating)
		l.logger.Debug("rating stored", "target", ref.String(), "identity", id.String(), "rate", res.Rating.Rate, "outcome", res.Outcome.String())
	}
	l.emit(ctx, pending)
	return res, nil
}

// Remove deletes the rating the input's identity holds on target. It reports
// false, without emitting events, when there is nothing to remove.
func (l *Ledger) Remove(ctx context.Context, target domain.Ratable, in Input) (bool, error) {
	ref, err := targetRef(target)
	if err != nil {
		return false, err
	}
	id, _, err := l.resolver.Resolve(in)
	if err != nil {
		return false, err
	}

	var removed *domain.Rating
	err = l.store.Tx(ctx, func(tx Tx) error {
		removed = nil
		existing, ok, err := tx.FindForUpdate(ctx, ref, id)
		if err != nil || !ok {
			return err
		}
		return l.deleteLocked(ctx, tx, existing, &removed)
	})
	if err != nil {
		return false, fmt.Errorf("remove rating %s on %s: %w", id, ref, err)
	}
	return l.finishRemoval(ctx, removed), nil
}

// RemoveAll deletes every rating in scope, one row per transaction. On failure
// the rows already removed stay removed and their count is returned.
func (l *Ledger) RemoveAll(ctx context.Context, scope domain.Scope) (int, error) {
	if !scope.Valid() {
		return 0, fmt.Errorf("%w: scope must select exactly one of target, actor or device", ErrInvalidInput)
	}
	rows, err := l.store.List(ctx, Query{Scope: scope})
	if err != nil {
		return 0, fmt.Errorf("remove ratings in %s: %w", scope.Key(), err)
	}

	n := 0
	for _, row := range rows {
		var removed *domain.Rating
		err := l.store.Tx(ctx, func(tx Tx) error {
			removed = nil
			existing, ok, err := tx.GetForUpdate(ctx, row.ID)
			if err != nil || !ok {
				return err
			}
			return l.deleteLocked(ctx, tx, existing, &removed)
		})
		if err != nil {
			return n, fmt.Errorf("remove ratings in %s: %w", scope.Key(), err)
		}
		if l.finishRemoval(ctx, removed) {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) deleteLocked(ctx context.Context, tx Tx, existing domain.Rating, removed **domain.Rating) error {
	l.notifier.Notify(ctx, newEvent(EventRemoving, existing, l.now()))
	ok, err := tx.Delete(ctx, existing.ID)
	if err != nil {
		return err
	}
	if ok {
		*removed = &existing
	}
	return nil
}

func (l *Ledger) finishRemoval(ctx context.Context, removed *domain.Rating) bool {
	if removed == nil {
		return false
	}
	l.Invalidate(ctx, *removed)
	l.notifier.Notify(ctx, newEvent(EventRemoved, *removed, l.now()))
	return true
}

func (l *Ledger) emit(ctx context.Context, events []Event) {
	for _, ev := range events {
		l.notifier.Notify(ctx, ev)
	}
}

// Find returns the rating the input's identity holds on target.
func (l *Ledger) Find(ctx context.Context, target domain.Ratable, in Input) (domain.Rating, bool, error) {
	ref, err := targetRef(target)
	if err != nil {
		return domain.Rating{}, false, err
	}
	id, _, err := l.resolver.Resolve(in)
	if err != nil {
		return domain.Rating{}, false, err
	}
	r, ok, err := l.store.Find(ctx, ref, id)
	if err != nil {
		return domain.Rating{}, false, fmt.Errorf("find rating %s on %s: %w", id, ref, err)
	}
	return r, ok, nil
}

// Has reports whether the input's identity has rated target.
func (l *Ledger) Has(ctx context.Context, target domain.Ratable, in Input) (bool, error) {
	_, ok, err := l.Find(ctx, target, in)
	return ok, err
}

// Value returns the rate the input's identity gave target, if any.
func (l *Ledger) Value(ctx context.Context, target domain.Ratable, in Input) (int, bool, error) {
	r, ok, err := l.Find(ctx, target, in)
	if err != nil || !ok {
		return 0, false, err
	}
	return r.Rate, true, nil
}

// IsRatedAs reports whether the identity's rating equals rate.
func (l *Ledger) IsRatedAs(ctx context.Context, target domain.Ratable, rate int, in Input) (bool, error) {
	return l.compare(ctx, target, in, func(got int) bool { return got == rate })
}

// IsRatedAbove reports whether the identity's rating is strictly above rate.
func (l *Ledger) IsRatedAbove(ctx context.Context, target domain.Ratable, rate int, in Input) (bool, error) {
	return l.compare(ctx, target, in, func(got int) bool { return got > rate })
}

// IsRatedBelow reports whether the identity's rating is strictly below rate.
func (l *Ledger) IsRatedBelow(ctx context.Context, target domain.Ratable, rate int, in Input) (bool, error) {
	return l.compare(ctx, target, in, func(got int) bool { return got < rate })
}

func (l *Ledger) compare(ctx context.Context, target domain.Ratable, in Input, pred func(int) bool) (bool, error) {
	v, ok, err := l.Value(ctx, target, in)
	if err != nil || !ok {
		return false, err
	}
	return pred(v), nil
}

// ForgetReceived removes every rating target received.
func (l *Ledger) ForgetReceived(ctx context.Context, target domain.Ratable) (int, error) {
	ref, err := targetRef(target)
	if err != nil {
		return 0, err
	}
	return l.RemoveAll(ctx, domain.TargetScope(ref))
}

func targetRef(target domain.Ratable) (domain.Ref, error) {
	if target == nil {
		return domain.Ref{}, fmt.Errorf("%w: target is required", ErrInvalidInput)
	}
	ref := target.RatableRef()
	if strings.TrimSpace(ref.Kind) == "" {
		return domain.Ref{}, fmt.Errorf("%w: target kind is required", ErrInvalidInput)
	}
	return ref, nil
}

// Ping checks the store is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
