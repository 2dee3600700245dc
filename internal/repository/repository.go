package repository

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/stars/internal/store"
)

// New constructs the PostgreSQL ratings repository backed by the provided store.
func New(st *store.Store) *RatingsRepository {
	return &RatingsRepository{pool: st.Pool()}
}

// NewWithPool allows constructing the repository directly from a pgx pool.
func NewWithPool(pool *pgxpool.Pool) *RatingsRepository {
	return &RatingsRepository{pool: pool}
}
