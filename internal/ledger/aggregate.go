package ledger

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/logger"
)

// DefaultLatestLimit is used when Latest is called with a non-positive limit.
const DefaultLatestLimit = 5

// Aggregator computes read-side statistics straight from the store. When a
// cache is set, per-scope summaries are cached and count/average derive from them.
type Aggregator struct {
	store  Store
	cache  SummaryCache
	logger *logger.Logger
	group  singleflight.Group

	// gen counts invalidations so a load that raced a write does not
	// repopulate the cache with the pre-write summary.
	gen atomic.Uint64
}

// NewAggregator builds an Aggregator. cache may be nil.
func NewAggregator(store Store, cache SummaryCache, log *logger.Logger) *Aggregator {
	if log == nil {
		log = logger.Nop()
	}
	return &Aggregator{store: store, cache: cache, logger: log}
}

// Count returns the number of live ratings in scope.
func (a *Aggregator) Count(ctx context.Context, scope domain.Scope) (int64, error) {
	if a.cacheable(scope) {
		s, err := a.Summary(ctx, scope)
		if err != nil {
			return 0, err
		}
		return s.Count(), nil
	}
	agg, err := a.store.Aggregate(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("count ratings: %w", err)
	}
	return agg.Count, nil
}

// Average returns the mean rate in scope, 0 when there are no ratings.
func (a *Aggregator) Average(ctx context.Context, scope domain.Scope) (float64, error) {
	if a.cacheable(scope) {
		s, err := a.Summary(ctx, scope)
		if err != nil {
			return 0, err
		}
		return s.Average(), nil
	}
	agg, err := a.store.Aggregate(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("average ratings: %w", err)
	}
	return agg.Average, nil
}

// Summary returns the sparse rate distribution in scope.
func (a *Aggregator) Summary(ctx context.Context, scope domain.Scope) (domain.Summary, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: scope must select exactly one of target, actor or device", ErrInvalidInput)
	}
	if !a.cacheable(scope) {
		s, err := a.store.Summary(ctx, scope)
		if err != nil {
			return nil, fmt.Errorf("summarize ratings: %w", err)
		}
		return s, nil
	}

	key := scope.Key()
	if s, ok, err := a.cache.Get(ctx, key); err != nil {
		a.logger.Warn("summary cache read failed", "key", key, "error", err)
	} else if ok {
		return s, nil
	}

	v, err, _ := a.group.Do(key, func() (interface{}, error) {
		gen := a.gen.Load()
		s, err := a.store.Summary(ctx, scope)
		if err != nil {
			return nil, err
		}
		if a.gen.Load() != gen {
			return s, nil
		}
		if err := a.cache.Set(ctx, key, s); err != nil {
			a.logger.Warn("summary cache write failed", "key", key, "error", err)
		} else if a.gen.Load() != gen {
			_ = a.cache.Delete(ctx, key)
		}
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("summarize ratings: %w", err)
	}
	return copySummary(v.(domain.Summary)), nil
}

// CountRate returns how many ratings in scope carry exactly rate.
func (a *Aggregator) CountRate(ctx context.Context, scope domain.Scope, rate int) (int64, error) {
	s, err := a.Summary(ctx, scope)
	if err != nil {
		return 0, err
	}
	return s[rate], nil
}

// Stats returns count, average and summary for scope.
func (a *Aggregator) Stats(ctx context.Context, scope domain.Scope) (domain.Stats, error) {
	s, err := a.Summary(ctx, scope)
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.Stats{Count: s.Count(), Average: s.Average(), Summary: s}, nil
}

// Latest returns up to limit ratings in scope, most recently mutated first.
func (a *Aggregator) Latest(ctx context.Context, scope domain.Scope, limit int) ([]domain.Rating, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	} else if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return a.List(ctx, Query{Scope: scope, Limit: limit})
}

// List returns the ratings matching q.
func (a *Aggregator) List(ctx context.Context, q Query) ([]domain.Rating, error) {
	if !q.Scope.Valid() {
		return nil, fmt.Errorf("%w: scope must select exactly one of target, actor or device", ErrInvalidInput)
	}
	items, err := a.store.List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	return items, nil
}

// Invalidate drops cached summaries touched by a mutation of r.
func (a *Aggregator) Invalidate(ctx context.Context, r domain.Rating) {
	if a.cache == nil {
		return
	}
	keys := []string{
		domain.TargetScope(r.Target).Key(),
		domain.IdentityScope(r.Identity()).Key(),
	}
	a.gen.Add(1)
	for _, k := range keys {
		a.group.Forget(k)
	}
	var err error
	for attempt := 0; attempt < invalidateAttempts; attempt++ {
		if err = a.cache.Delete(ctx, keys...); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
	}
	a.logger.Warn("summary cache invalidation failed", "keys", keys, "attempts", invalidateAttempts, "error", err)
}

// invalidateAttempts bounds how often a failed cache delete is retried.
const invalidateAttempts = 3

func (a *Aggregator) cacheable(scope domain.Scope) bool {
	return a.cache != nil && scope.TargetKind == "" && scope.Valid()
}

func copySummary(s domain.Summary) domain.Summary {
	out := make(domain.Summary, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
