package ledger

import (
	"context"

	"github.com/Clark-Hu/stars/internal/domain"
)

// MaxListLimit caps Latest-style queries.
const MaxListLimit = 100

// Query selects ratings in a scope, most recently updated first.
// A zero Limit returns every matching row.
type Query struct {
	Scope domain.Scope
	Limit int
}

// Aggregate is the count and mean over a scope.
type Aggregate struct {
	Count   int64
	Average float64
}

// Store is the persistence collaborator owned by the ledger. Rows are only
// written through Tx; the read methods serve lookups and aggregation.
type Store interface {
	// Tx runs fn in a transaction that serializes writers on the same identity
	// slot. Returning an error from fn rolls the transaction back.
	Tx(ctx context.Context, fn func(tx Tx) error) error

	Find(ctx context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error)
	List(ctx context.Context, q Query) ([]domain.Rating, error)
	Aggregate(ctx context.Context, scope domain.Scope) (Aggregate, error)
	Summary(ctx context.Context, scope domain.Scope) (domain.Summary, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side of a Store transaction.
type Tx interface {
	// FindForUpdate locks and returns the row keyed by (target, id) using an
	// exact match on the single identity channel.
	FindForUpdate(ctx context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error)
	GetForUpdate(ctx context.Context, ratingID int64) (domain.Rating, bool, error)
	// Insert stores r, filling ID and timestamps. It returns ErrConflict when
	// the identity slot is already taken.
	Insert(ctx context.Context, r *domain.Rating) error
	// Update overwrites rate and metadata, refreshing UpdatedAt.
	Update(ctx context.Context, r *domain.Rating) error
	Delete(ctx context.Context, ratingID int64) (bool, error)
}

// SummaryCache stores per-scope summaries. Implementations own expiry.
type SummaryCache interface {
	Get(ctx context.Context, key string) (domain.Summary, bool, error)
	Set(ctx context.Context, key string, s domain.Summary) error
	Delete(ctx context.Context, keys ...string) error
}
