package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

var _ ledger.Store = (*MemoryStore)(nil)

var errInvalidScope = fmt.Errorf("%w: invalid scope", ledger.ErrInvalidInput)

// MemoryStore keeps ratings in process memory. Transactions hold writeMu for
// their whole duration, so writers are fully serialized; mu guards the maps
// and is held only per access, so reads proceed while a transaction is open.
type MemoryStore struct {
	writeMu sync.Mutex

	mu     sync.RWMutex
	rows   map[int64]domain.Rating
	nextID int64
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[int64]domain.Rating),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Tx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &memoryTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *MemoryStore) Find(_ context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.findLocked(target, id)
	return r, ok, nil
}

func (s *MemoryStore) List(_ context.Context, q ledger.Query) ([]domain.Rating, error) {
	if !q.Scope.Valid() {
		return nil, errInvalidScope
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Rating, 0)
	for _, r := range s.rows {
		if q.Scope.Matches(r) {
			items = append(items, cloneRating(r))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return items, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, scope domain.Scope) (ledger.Aggregate, error) {
	summary, err := s.Summary(ctx, scope)
	if err != nil {
		return ledger.Aggregate{}, err
	}
	return ledger.Aggregate{Count: summary.Count(), Average: summary.Average()}, nil
}

func (s *MemoryStore) Summary(_ context.Context, scope domain.Scope) (domain.Summary, error) {
	if !scope.Valid() {
		return nil, errInvalidScope
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := make(domain.Summary)
	for _, r := range s.rows {
		if scope.Matches(r) {
			summary[r.Rate]++
		}
	}
	return summary, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of stored rows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *MemoryStore) findLocked(target domain.Ref, id domain.Identity) (domain.Rating, bool) {
	for _, r := range s.rows {
		if r.Target == target && r.Matches(id) {
			return cloneRating(r), true
		}
	}
	return domain.Rating{}, false
}

// memoryTx records an undo step per write so a failed fn leaves no trace.
type memoryTx struct {
	s    *MemoryStore
	undo []func()
}

func (tx *memoryTx) FindForUpdate(_ context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	r, ok := tx.s.findLocked(target, id)
	return r, ok, nil
}

func (tx *memoryTx) GetForUpdate(_ context.Context, ratingID int64) (domain.Rating, bool, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	r, ok := tx.s.rows[ratingID]
	return cloneRating(r), ok, nil
}

func (tx *memoryTx) Insert(_ context.Context, r *domain.Rating) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	if _, taken := tx.s.findLocked(r.Target, r.Identity()); taken {
		return ledger.ErrConflict
	}
	tx.s.nextID++
	now := tx.s.now()
	r.ID = tx.s.nextID
	r.CreatedAt = now
	r.UpdatedAt = now
	tx.s.rows[r.ID] = cloneRating(*r)

	ratingID := r.ID
	tx.undo = append(tx.undo, func() { delete(tx.s.rows, ratingID) })
	return nil
}

func (tx *memoryTx) Update(_ context.Context, r *domain.Rating) error {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	prev, ok := tx.s.rows[r.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	r.UpdatedAt = tx.s.now()
	tx.s.rows[r.ID] = cloneRating(*r)
	tx.undo = append(tx.undo, func() { tx.s.rows[prev.ID] = prev })
	return nil
}

func (tx *memoryTx) Delete(_ context.Context, ratingID int64) (bool, error) {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	prev, ok := tx.s.rows[ratingID]
	if !ok {
		return false, nil
	}
	delete(tx.s.rows, ratingID)
	tx.undo = append(tx.undo, func() { tx.s.rows[prev.ID] = prev })
	return true, nil
}

func (tx *memoryTx) rollback() {
	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

func cloneRating(r domain.Rating) domain.Rating {
	if r.Actor != nil {
		actor := *r.Actor
		r.Actor = &actor
	}
	return r
}
