package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/ledger"
)

var (
	post1 = domain.Ref{Kind: "post", ID: 1}
	post2 = domain.Ref{Kind: "post", ID: 2}
	book1 = domain.Ref{Kind: "book", ID: 1}
	user1 = domain.Ref{Kind: "user", ID: 1}
	user2 = domain.Ref{Kind: "user", ID: 2}
)

// runStoreContract checks the behavior every ledger.Store backend must share.
// fresh must return an empty store.
func runStoreContract(t *testing.T, fresh func(t *testing.T) ledger.Store) {
	ctx := context.Background()

	insert := func(t *testing.T, s ledger.Store, r domain.Rating) domain.Rating {
		t.Helper()
		require.NoError(t, s.Tx(ctx, func(tx ledger.Tx) error { return tx.Insert(ctx, &r) }))
		require.NotZero(t, r.ID)
		return r
	}

	t.Run("insert and find by channel", func(t *testing.T) {
		s := fresh(t)
		u := user1
		byActor := insert(t, s, domain.Rating{Target: post1, Actor: &u, Device: "dev-a", Rate: 4, Source: "web"})
		byDevice := insert(t, s, domain.Rating{Target: post1, Device: "dev-a", Rate: 2, IP: "10.0.0.1"})

		got, ok, err := s.Find(ctx, post1, domain.Identity{Actor: &u})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, byActor.ID, got.ID)
		assert.Equal(t, 4, got.Rate)
		assert.Equal(t, "dev-a", got.Device)
		assert.Equal(t, "web", got.Source)

		got, ok, err = s.Find(ctx, post1, domain.Identity{Device: "dev-a"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, byDevice.ID, got.ID)
		assert.Nil(t, got.Actor)
		assert.Equal(t, "10.0.0.1", got.IP)

		_, ok, err = s.Find(ctx, post2, domain.Identity{Actor: &u})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("duplicate insert conflicts", func(t *testing.T) {
		s := fresh(t)
		u := user1
		insert(t, s, domain.Rating{Target: post1, Actor: &u, Rate: 4})

		dup := domain.Rating{Target: post1, Actor: &u, Rate: 5}
		err := s.Tx(ctx, func(tx ledger.Tx) error { return tx.Insert(ctx, &dup) })
		assert.True(t, errors.Is(err, ledger.ErrConflict), "got %v", err)

		insert(t, s, domain.Rating{Target: post1, Device: "d1", Rate: 1})
		dupDevice := domain.Rating{Target: post1, Device: "d1", Rate: 3}
		err = s.Tx(ctx, func(tx ledger.Tx) error { return tx.Insert(ctx, &dupDevice) })
		assert.True(t, errors.Is(err, ledger.ErrConflict), "got %v", err)
	})

	t.Run("update and delete", func(t *testing.T) {
		s := fresh(t)
		u := user2
		r := insert(t, s, domain.Rating{Target: book1, Actor: &u, Rate: 2})

		require.NoError(t, s.Tx(ctx, func(tx ledger.Tx) error {
			cur, ok, err := tx.GetForUpdate(ctx, r.ID)
			if err != nil || !ok {
				return errors.New("row vanished")
			}
			cur.Rate = 5
			cur.Device = "phone"
			return tx.Update(ctx, &cur)
		}))
		got, ok, err := s.Find(ctx, book1, domain.Identity{Actor: &u})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 5, got.Rate)
		assert.Equal(t, "phone", got.Device)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

		var deleted, again bool
		require.NoError(t, s.Tx(ctx, func(tx ledger.Tx) error {
			var err error
			if deleted, err = tx.Delete(ctx, r.ID); err != nil {
				return err
			}
			again, err = tx.Delete(ctx, r.ID)
			return err
		}))
		assert.True(t, deleted)
		assert.False(t, again)

		_, ok, err = s.Find(ctx, book1, domain.Identity{Actor: &u})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		s := fresh(t)
		boom := errors.New("boom")
		err := s.Tx(ctx, func(tx ledger.Tx) error {
			r := domain.Rating{Target: post1, Device: "d1", Rate: 3}
			if err := tx.Insert(ctx, &r); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, ok, err := s.Find(ctx, post1, domain.Identity{Device: "d1"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("scoped reads", func(t *testing.T) {
		s := fresh(t)
		u1, u2 := user1, user2
		insert(t, s, domain.Rating{Target: post1, Actor: &u1, Rate: 5})
		insert(t, s, domain.Rating{Target: post1, Actor: &u2, Rate: 3})
		insert(t, s, domain.Rating{Target: post1, Device: "d1", Rate: 3})
		insert(t, s, domain.Rating{Target: book1, Actor: &u1, Rate: 1})

		agg, err := s.Aggregate(ctx, domain.TargetScope(post1))
		require.NoError(t, err)
		assert.EqualValues(t, 3, agg.Count)
		assert.InDelta(t, 11.0/3.0, agg.Average, 1e-9)

		summary, err := s.Summary(ctx, domain.TargetScope(post1))
		require.NoError(t, err)
		assert.Equal(t, domain.Summary{5: 1, 3: 2}, summary)

		given, err := s.Aggregate(ctx, domain.ActorScope(user1))
		require.NoError(t, err)
		assert.EqualValues(t, 2, given.Count)
		assert.InDelta(t, 3.0, given.Average, 1e-9)

		scope := domain.ActorScope(user1)
		scope.TargetKind = "book"
		books, err := s.List(ctx, ledger.Query{Scope: scope})
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, book1, books[0].Target)

		devices, err := s.List(ctx, ledger.Query{Scope: domain.DeviceScope("d1")})
		require.NoError(t, err)
		require.Len(t, devices, 1)

		limited, err := s.List(ctx, ledger.Query{Scope: domain.TargetScope(post1), Limit: 2})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Greater(t, limited[0].ID, limited[1].ID)

		empty, err := s.Aggregate(ctx, domain.TargetScope(post2))
		require.NoError(t, err)
		assert.Zero(t, empty.Count)
		assert.Zero(t, empty.Average)
	})

	t.Run("invalid scope rejected", func(t *testing.T) {
		s := fresh(t)
		_, err := s.List(ctx, ledger.Query{Scope: domain.Scope{}})
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	})

	t.Run("subscribers read during a write", func(t *testing.T) {
		s := fresh(t)

		type seen struct {
			name  ledger.EventName
			count int64
			rate  int
		}
		var (
			l    *ledger.Ledger
			got  []seen
			errs []error
		)
		onEvent := ledger.NotifierFunc(func(ctx context.Context, ev ledger.Event) {
			if ev.Name != ledger.EventUpdating && ev.Name != ledger.EventRemoving {
				return
			}
			n, err := l.Count(ctx, domain.TargetScope(post1))
			if err != nil {
				errs = append(errs, err)
				return
			}
			rate, _, err := l.Value(ctx, post1, ledger.ByDevice("dev-r"))
			if err != nil {
				errs = append(errs, err)
				return
			}
			got = append(got, seen{name: ev.Name, count: n, rate: rate})
		})
		var err error
		l, err = ledger.New(s, ledger.DefaultConfig(), ledger.WithNotifier(onEvent))
		require.NoError(t, err)

		in := ledger.ByDevice("dev-r")
		steps := []func(ctx context.Context) error{
			func(ctx context.Context) error { in.Rate = 4; _, err := l.Upsert(ctx, post1, in); return err },
			func(ctx context.Context) error { in.Rate = 2; _, err := l.Upsert(ctx, post1, in); return err },
			func(ctx context.Context) error { _, err := l.Remove(ctx, post1, in); return err },
		}
		for i, step := range steps {
			done := make(chan error, 1)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				done <- step(ctx)
			}()
			select {
			case err := <-done:
				require.NoError(t, err, "step %d", i)
			case <-time.After(10 * time.Second):
				t.Fatalf("step %d blocked on a subscriber read", i)
			}
		}

		require.Empty(t, errs)
		assert.Equal(t, []seen{
			{name: ledger.EventUpdating, count: 1, rate: 4},
			{name: ledger.EventRemoving, count: 1, rate: 2},
		}, got)

		_, ok, err := s.Find(ctx, post1, domain.Identity{Device: "dev-r"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, fresh(t).Ping(ctx))
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) ledger.Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) ledger.Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "stars.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStoreReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stars.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	r := domain.Rating{Target: post1, Device: "d1", Rate: 4}
	require.NoError(t, s.Tx(ctx, func(tx ledger.Tx) error { return tx.Insert(ctx, &r) }))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	got, ok, err := s.Find(ctx, post1, domain.Identity{Device: "d1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r.ID, got.ID)
}
