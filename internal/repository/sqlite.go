package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

var _ ledger.Store = (*SQLiteStore)(nil)

// SQLiteStore implements ledger.Store on SQLite through gorm. Writes go
// through a single connection with immediate-mode transactions, which
// serializes all writers; reads use a separate WAL reader pool so they never
// wait on an open write.
type SQLiteStore struct {
	db   *gorm.DB
	read *gorm.DB
}

type ratingModel struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	TargetKind string `gorm:"not null"`
	TargetID   int64  `gorm:"not null"`
	ActorKind  *string
	ActorID    *int64
	DeviceID   *string `gorm:"index:ratings_device"`
	Rate       int     `gorm:"not null;index:ratings_rate"`
	IP         *string `gorm:"size:45;index:ratings_ip"`
	Source     *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (ratingModel) TableName() string { return "ratings" }

var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ratings_unique_actor_target
        ON ratings (target_kind, target_id, actor_kind, actor_id) WHERE actor_kind IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ratings_unique_device_target
        ON ratings (target_kind, target_id, device_id) WHERE actor_kind IS NULL`,
	`CREATE INDEX IF NOT EXISTS ratings_target_recent ON ratings (target_kind, target_id, updated_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS ratings_actor ON ratings (actor_kind, actor_id)`,
}

// sqliteReaders bounds the read pool of a file-backed store.
const sqliteReaders = 4

// OpenSQLite opens (or creates) the database at path and applies the schema.
// ":memory:" gives a throwaway database served by one connection, so reads
// there do wait for an open write.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := openGorm(path, "_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", 1)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db, read: db}
	if err := s.migrate(); err != nil {
		_ = s.Close()
		return nil, err
	}
	if isMemoryPath(path) {
		return s, nil
	}

	s.read, err = openGorm(path, "_busy_timeout=5000&_journal_mode=WAL", sqliteReaders)
	if err != nil {
		s.read = db
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func openGorm(path, params string, conns int) (*gorm.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += params

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger.Default.LogMode(gormLogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	return db, nil
}

func isMemoryPath(path string) bool {
	return strings.HasPrefix(path, ":memory:") || strings.Contains(path, "mode=memory")
}

func (s *SQLiteStore) migrate() error {
	if err := s.db.AutoMigrate(&ratingModel{}); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *SQLiteStore) Find(ctx context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	return gormFind(s.read.WithContext(ctx), target, id)
}

func (s *SQLiteStore) List(ctx context.Context, q ledger.Query) ([]domain.Rating, error) {
	db, err := applyScope(s.read.WithContext(ctx).Model(&ratingModel{}), q.Scope)
	if err != nil {
		return nil, err
	}
	db = db.Order("updated_at DESC").Order("id DESC")
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}

	var models []ratingModel
	if err := db.Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Rating, 0, len(models))
	for _, m := range models {
		items = append(items, m.toDomain())
	}
	return items, nil
}

func (s *SQLiteStore) Aggregate(ctx context.Context, scope domain.Scope) (ledger.Aggregate, error) {
	db, err := applyScope(s.read.WithContext(ctx).Model(&ratingModel{}), scope)
	if err != nil {
		return ledger.Aggregate{}, err
	}
	var row struct {
		Count   int64
		Average float64
	}
	if err := db.Select("COUNT(*) AS count, COALESCE(AVG(rate), 0) AS average").Scan(&row).Error; err != nil {
		return ledger.Aggregate{}, fmt.Errorf("aggregate ratings: %w", err)
	}
	return ledger.Aggregate{Count: row.Count, Average: row.Average}, nil
}

func (s *SQLiteStore) Summary(ctx context.Context, scope domain.Scope) (domain.Summary, error) {
	db, err := applyScope(s.read.WithContext(ctx).Model(&ratingModel{}), scope)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Rate  int
		Total int64
	}
	if err := db.Select("rate, COUNT(*) AS total").Group("rate").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("summarize ratings: %w", err)
	}
	summary := make(domain.Summary, len(rows))
	for _, r := range rows {
		summary[r.Rate] = r.Total
	}
	return summary, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.read.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	dbs := []*gorm.DB{s.db}
	if s.read != s.db {
		dbs = append(dbs, s.read)
	}
	var errs []error
	for _, db := range dbs {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) FindForUpdate(_ context.Context, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	return gormFind(t.db, target, id)
}

func (t *gormTx) GetForUpdate(_ context.Context, ratingID int64) (domain.Rating, bool, error) {
	var m ratingModel
	err := t.db.Where("id = ?", ratingID).Take(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Rating{}, false, nil
		}
		return domain.Rating{}, false, err
	}
	return m.toDomain(), true, nil
}

func (t *gormTx) Insert(_ context.Context, r *domain.Rating) error {
	m := fromDomain(*r)
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ledger.ErrConflict
	}
	*r = m.toDomain()
	return nil
}

func (t *gormTx) Update(_ context.Context, r *domain.Rating) error {
	res := t.db.Model(&ratingModel{}).Where("id = ?", r.ID).Updates(map[string]interface{}{
		"rate":       r.Rate,
		"ip":         nullString(r.IP),
		"source":     nullString(r.Source),
		"device_id":  nullString(r.Device),
		"updated_at": t.db.NowFunc(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	var m ratingModel
	if err := t.db.Where("id = ?", r.ID).Take(&m).Error; err != nil {
		return err
	}
	*r = m.toDomain()
	return nil
}

func (t *gormTx) Delete(_ context.Context, ratingID int64) (bool, error) {
	res := t.db.Where("id = ?", ratingID).Delete(&ratingModel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func gormFind(db *gorm.DB, target domain.Ref, id domain.Identity) (domain.Rating, bool, error) {
	q := db.Where("target_kind = ? AND target_id = ?", target.Kind, int64(target.ID))
	if id.Actor != nil {
		q = q.Where("actor_kind = ? AND actor_id = ?", id.Actor.Kind, int64(id.Actor.ID))
	} else {
		q = q.Where("actor_kind IS NULL AND device_id = ?", id.Device)
	}

	var m ratingModel
	if err := q.Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Rating{}, false, nil
		}
		return domain.Rating{}, false, err
	}
	return m.toDomain(), true, nil
}

func applyScope(db *gorm.DB, scope domain.Scope) (*gorm.DB, error) {
	if !scope.Valid() {
		return nil, errInvalidScope
	}
	switch {
	case scope.Target != nil:
		db = db.Where("target_kind = ? AND target_id = ?", scope.Target.Kind, int64(scope.Target.ID))
	case scope.Actor != nil:
		db = db.Where("actor_kind = ? AND actor_id = ?", scope.Actor.Kind, int64(scope.Actor.ID))
	default:
		db = db.Where("actor_kind IS NULL AND device_id = ?", scope.Device)
	}
	if scope.TargetKind != "" {
		db = db.Where("target_kind = ?", scope.TargetKind)
	}
	return db, nil
}

func fromDomain(r domain.Rating) ratingModel {
	actorKind, actorID := actorColumns(r.Actor)
	return ratingModel{
		ID:         r.ID,
		TargetKind: r.Target.Kind,
		TargetID:   int64(r.Target.ID),
		ActorKind:  actorKind,
		ActorID:    actorID,
		DeviceID:   nullString(r.Device),
		Rate:       r.Rate,
		IP:         nullString(r.IP),
		Source:     nullString(r.Source),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (m ratingModel) toDomain() domain.Rating {
	r := domain.Rating{
		ID:        m.ID,
		Target:    domain.Ref{Kind: m.TargetKind, ID: uint64(m.TargetID)},
		Device:    derefString(m.DeviceID),
		Rate:      m.Rate,
		IP:        derefString(m.IP),
		Source:    derefString(m.Source),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ActorKind != nil && m.ActorID != nil {
		r.Actor = &domain.Ref{Kind: *m.ActorKind, ID: uint64(*m.ActorID)}
	}
	return r
}
