package ledger

import (
	"context"

	"github.com/Clark-Hu/stars/internal/domain"
)

// TargetView is the "rate this item" side of the API, bound to one target.
type TargetView struct {
	l   *Ledger
	ref domain.Ref
}

// Target binds the target-side API to t. A nil t yields a view whose
// operations fail with ErrInvalidInput.
func (l *Ledger) Target(t domain.Ratable) TargetView {
	if t == nil {
		return TargetView{l: l}
	}
	return TargetView{l: l, ref: t.RatableRef()}
}

func (v TargetView) Ref() domain.Ref { return v.ref }

func (v TargetView) Rate(ctx context.Context, in Input) (Result, error) {
	return v.l.Upsert(ctx, v.ref, in)
}

func (v TargetView) Remove(ctx context.Context, in Input) (bool, error) {
	return v.l.Remove(ctx, v.ref, in)
}

func (v TargetView) Has(ctx context.Context, in Input) (bool, error) {
	return v.l.Has(ctx, v.ref, in)
}

func (v TargetView) Value(ctx context.Context, in Input) (int, bool, error) {
	return v.l.Value(ctx, v.ref, in)
}

func (v TargetView) IsRatedAs(ctx context.Context, rate int, in Input) (bool, error) {
	return v.l.IsRatedAs(ctx, v.ref, rate, in)
}

func (v TargetView) IsRatedAbove(ctx context.Context, rate int, in Input) (bool, error) {
	return v.l.IsRatedAbove(ctx, v.ref, rate, in)
}

func (v TargetView) IsRatedBelow(ctx context.Context, rate int, in Input) (bool, error) {
	return v.l.IsRatedBelow(ctx, v.ref, rate, in)
}

func (v TargetView) Count(ctx context.Context) (int64, error) {
	return v.l.Count(ctx, domain.TargetScope(v.ref))
}

func (v TargetView) Average(ctx context.Context) (float64, error) {
	return v.l.Average(ctx, domain.TargetScope(v.ref))
}

func (v TargetView) Summary(ctx context.Context) (domain.Summary, error) {
	return v.l.Summary(ctx, domain.TargetScope(v.ref))
}

func (v TargetView) Stats(ctx context.Context) (domain.Stats, error) {
	return v.l.Stats(ctx, domain.TargetScope(v.ref))
}

func (v TargetView) Latest(ctx context.Context, limit int) ([]domain.Rating, error) {
	return v.l.Latest(ctx, domain.TargetScope(v.ref), limit)
}

func (v TargetView) Forget(ctx context.Context) (int, error) {
	return v.l.ForgetReceived(ctx, v.ref)
}

// RaterView is the "everything I rated" side of the API, bound to one actor.
type RaterView struct {
	l   *Ledger
	ref domain.Ref
}

// Rater binds the actor-side API to r. A nil r yields a view whose
// operations fail with ErrInvalidInput.
func (l *Ledger) Rater(r domain.Rater) RaterView {
	if r == nil {
		return RaterView{l: l}
	}
	return RaterView{l: l, ref: r.RaterRef()}
}

func (v RaterView) Ref() domain.Ref { return v.ref }

func (v RaterView) input() Input { return ByActor(v.ref) }

// Rate gives target the rate. meta may carry ip/device/source overrides.
func (v RaterView) Rate(ctx context.Context, target domain.Ratable, rate int, meta domain.Metadata) (Result, error) {
	in := v.input()
	in.Rate = rate
	in.IP = meta.IP
	in.Device = meta.Device
	in.Source = meta.Source
	return v.l.Upsert(ctx, target, in)
}

func (v RaterView) HasRated(ctx context.Context, target domain.Ratable) (bool, error) {
	return v.l.Has(ctx, target, v.input())
}

func (v RaterView) RatedValue(ctx context.Context, target domain.Ratable) (int, bool, error) {
	return v.l.Value(ctx, target, v.input())
}

func (v RaterView) RemoveFrom(ctx context.Context, target domain.Ratable) (bool, error) {
	return v.l.Remove(ctx, target, v.input())
}

func (v RaterView) TotalGiven(ctx context.Context) (int64, error) {
	return v.l.Count(ctx, domain.ActorScope(v.ref))
}

// CountGiven counts how many times the actor gave exactly rate.
func (v RaterView) CountGiven(ctx context.Context, rate int) (int64, error) {
	return v.l.CountRate(ctx, domain.ActorScope(v.ref), rate)
}

func (v RaterView) AverageGiven(ctx context.Context) (float64, error) {
	return v.l.Average(ctx, domain.ActorScope(v.ref))
}

func (v RaterView) SummaryGiven(ctx context.Context) (domain.Summary, error) {
	return v.l.Summary(ctx, domain.ActorScope(v.ref))
}

func (v RaterView) StatsGiven(ctx context.Context) (domain.Stats, error) {
	return v.l.Stats(ctx, domain.ActorScope(v.ref))
}

func (v RaterView) LatestGiven(ctx context.Context, limit int) ([]domain.Rating, error) {
	return v.l.Latest(ctx, domain.ActorScope(v.ref), limit)
}

// RatingsToKind lists every rating the actor gave to targets of kind.
func (v RaterView) RatingsToKind(ctx context.Context, kind string) ([]domain.Rating, error) {
	scope := domain.ActorScope(v.ref)
	scope.TargetKind = kind
	return v.l.List(ctx, Query{Scope: scope})
}

// RatedTargets returns the distinct targets the actor rated, optionally of one kind.
func (v RaterView) RatedTargets(ctx context.Context, kind string) ([]domain.Ref, error) {
	scope := domain.ActorScope(v.ref)
	scope.TargetKind = kind
	rows, err := v.l.List(ctx, Query{Scope: scope})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Ref, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Target)
	}
	return out, nil
}

func (v RaterView) ForgetGiven(ctx context.Context) (int, error) {
	return v.l.RemoveAll(ctx, domain.ActorScope(v.ref))
}
