package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

var _ ledger.Store = (*RatingsRepository)(nil)

// RatingsRepository is the PostgreSQL implementation of ledger.Store.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

const ratingColumns = `
    id,
    target_kind,
    target_id,
    actor_kind,
    actor_id,
    device_id,
    rate,
    ip,
    source,
    created_at,
    updated_at
`

// Tx runs fn inside a READ COMMITTED transaction. Row locks taken by
// FindForUpdate serialize writers on the same identity slot.
func (r *RatingsRepository) Tx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Find returns the row keyed by (target, id) without locking.
func (r *RatingsRepository) Find(ctx context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	return findByIdentity(ctx, r.pool, target, id, false)
}

// List returns ratings in q.Scope, most recently updated first.
func (r *RatingsRepository) List(ctx context.Context, q ledger.Query) ([]domain.Rating, error) {
	where, args, err := scopeWhere(q.Scope)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(ratingColumns)
	b.WriteString(" FROM ratings WHERE ")
	b.WriteString(where)
	b.WriteString(" ORDER BY updated_at DESC, id DESC")
	if q.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Rating, 0)
	for rows.Next() {
		rating, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Aggregate returns the rating average and count for a scope.
func (r *RatingsRepository) Aggregate(ctx context.Context, scope domain.Scope) (ledger.Aggregate, error) {
	where, args, err := scopeWhere(scope)
	if err != nil {
		return ledger.Aggregate{}, err
	}
	query := `
        SELECT COALESCE(AVG(rate), 0)::float8 AS average,
               COUNT(*)::int8 AS count
        FROM ratings
        WHERE ` + where

	var agg ledger.Aggregate
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&agg.Average, &agg.Count); err != nil {
		return ledger.Aggregate{}, fmt.Errorf("aggregate ratings: %w", err)
	}
	return agg, nil
}

// Summary groups a scope's ratings by rate.
func (r *RatingsRepository) Summary(ctx context.Context, scope domain.Scope) (domain.Summary, error) {
	where, args, err := scopeWhere(scope)
	if err != nil {
		return nil, err
	}
	query := `SELECT rate, COUNT(*)::int8 FROM ratings WHERE ` + where + ` GROUP BY rate`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize ratings: %w", err)
	}
	defer rows.Close()

	summary := make(domain.Summary)
	for rows.Next() {
		var (
			rate  int32
			count int64
		)
		if err := rows.Scan(&rate, &count); err != nil {
			return nil, err
		}
		summary[int(rate)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

// Ping verifies the database is reachable.
func (r *RatingsRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close is a no-op; the pool belongs to store.Store.
func (r *RatingsRepository) Close() error { return nil }

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindForUpdate(ctx context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	return findByIdentity(ctx, t.tx, target, id, true)
}

func (t *pgTx) GetForUpdate(ctx context.Context, ratingID int64) (domain.Rating, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE id = $1 FOR UPDATE`, ratingColumns)
	rating, err := scanRating(t.tx.QueryRow(ctx, query, ratingID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rating{}, false, nil
		}
		return domain.Rating{}, false, err
	}
	return rating, true, nil
}

// Insert relies on the partial unique indexes: a losing concurrent insert
// does nothing and surfaces as ledger.ErrConflict.
func (t *pgTx) Insert(ctx context.Context, rating *domain.Rating) error {
	actorKind, actorID := actorColumns(rating.Actor)
	query := fmt.Sprintf(`
        INSERT INTO ratings (target_kind, target_id, actor_kind, actor_id, device_id, rate, ip, source)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT DO NOTHING
        RETURNING %s
    `, ratingColumns)

	stored, err := scanRating(t.tx.QueryRow(ctx, query,
		rating.Target.Kind,
		int64(rating.Target.ID),
		actorKind,
		actorID,
		nullString(rating.Device),
		rating.Rate,
		nullString(rating.IP),
		nullString(rating.Source),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrConflict
		}
		return err
	}
	*rating = stored
	return nil
}

func (t *pgTx) Update(ctx context.Context, rating *domain.Rating) error {
	query := fmt.Sprintf(`
        UPDATE ratings
        SET rate = $2,
            ip = $3,
            source = $4,
            device_id = $5,
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, ratingColumns)

	stored, err := scanRating(t.tx.QueryRow(ctx, query,
		rating.ID,
		rating.Rate,
		nullString(rating.IP),
		nullString(rating.Source),
		nullString(rating.Device),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.ErrNotFound
		}
		return err
	}
	*rating = stored
	return nil
}

func (t *pgTx) Delete(ctx context.Context, ratingID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM ratings WHERE id = $1`, ratingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findByIdentity(ctx context.Context, q rowQuerier, target domain.Ref, id domain.Identity, lock bool) (domain.Rating, bool, error) {
	where := []string{"target_kind = $1", "target_id = $2"}
	args := []interface{}{target.Kind, int64(target.ID)}
	if id.Actor != nil {
		where = append(where, "actor_kind = $3", "actor_id = $4")
		args = append(args, id.Actor.Kind, int64(id.Actor.ID))
	} else {
		where = append(where, "actor_kind IS NULL", "device_id = $3")
		args = append(args, id.Device)
	}

	query := fmt.Sprintf(`SELECT %s FROM ratings WHERE %s`, ratingColumns, strings.Join(where, " AND "))
	if lock {
		query += " FOR UPDATE"
	}
	rating, err := scanRating(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rating{}, false, nil
		}
		return domain.Rating{}, false, err
	}
	return rating, true, nil
}

func scopeWhere(scope domain.Scope) (string, []interface{}, error) {
	if !scope.Valid() {
		return "", nil, errInvalidScope
	}
	where := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	switch {
	case scope.Target != nil:
		where = append(where, "target_kind = "+arg(scope.Target.Kind), "target_id = "+arg(int64(scope.Target.ID)))
	case scope.Actor != nil:
		where = append(where, "actor_kind = "+arg(scope.Actor.Kind), "actor_id = "+arg(int64(scope.Actor.ID)))
	default:
		where = append(where, "actor_kind IS NULL", "device_id = "+arg(scope.Device))
	}
	if scope.TargetKind != "" {
		where = append(where, "target_kind = "+arg(scope.TargetKind))
	}
	return strings.Join(where, " AND "), args, nil
}

func scanRating(row pgx.Row) (domain.Rating, error) {
	var (
		rating    domain.Rating
		targetID  int64
		actorKind *string
		actorID   *int64
		device    *string
		rate      int32
		ip        *string
		source    *string
	)
	err := row.Scan(
		&rating.ID,
		&rating.Target.Kind,
		&targetID,
		&actorKind,
		&actorID,
		&device,
		&rate,
		&ip,
		&source,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		return domain.Rating{}, err
	}

	rating.Target.ID = uint64(targetID)
	if actorKind != nil && actorID != nil {
		rating.Actor = &domain.Ref{Kind: *actorKind, ID: uint64(*actorID)}
	}
	rating.Device = derefString(device)
	rating.Rate = int(rate)
	rating.IP = derefString(ip)
	rating.Source = derefString(source)
	return rating, nil
}

func actorColumns(actor *domain.Ref) (*string, *int64) {
	if actor == nil {
		return nil, nil
	}
	kind := actor.Kind
	id := int64(actor.ID)
	return &kind, &id
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
