package repository_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/okian/staffrate/internal/adapters/repository"
	"github.com/okian/staffrate/internal/domain/model"
)

// newPgStore connects to STAFFRATE_TEST_DATABASE_URL and starts from empty tables.
func newPgStore(t testing.TB) *repository.PgStore {
	t.Helper()

	dsn := os.Getenv("STAFFRATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STAFFRATE_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err, "connect pg")

	store := repository.NewPgStore(pool, repository.WithNotifyChannel("staffrate_test_changes"))
	require.NoError(t, store.EnsureSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE staff; UPDATE rating_state SET version = 0`)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPgStore_ApplyVoteAndSnapshot(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()

	require.NoError(t, store.Provision(ctx, []model.Entity{
		{ID: "10", Name: "Cid"},
		{ID: "2", Name: "Bea"},
	}))
	require.NoError(t, store.ApplyVote(ctx, "2", 4))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), snap.Version)
	require.Len(t, snap.Entities, 2)
	require.Equal(t, "2", snap.Entities[0].ID)
	require.Equal(t, int64(4), snap.Entities[0].RatingSum)
	require.Equal(t, int64(1), snap.Entities[0].VoteCount)

	err = store.ApplyVote(ctx, "missing", 3)
	require.True(t, errors.Is(err, repository.ErrNotFound), "got %v", err)
}

func TestPgStore_ConcurrentVotesAreNotLost(t *testing.T) {
	store := newPgStore(t)
	ctx := context.Background()
	require.NoError(t, store.Provision(ctx, []model.Entity{{ID: "1", Name: "Ann"}}))

	const voters = 20
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.ApplyVote(ctx, "1", 5)
		}()
	}
	wg.Wait()

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	e, _ := snap.Find("1")
	require.Equal(t, int64(voters), e.VoteCount)
	require.Equal(t, int64(voters*5), e.RatingSum)
}

func TestPgStore_Watch(t *testing.T) {
	store := newPgStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, store.Provision(ctx, []model.Entity{{ID: "1", Name: "Ann"}}))

	ch, err := store.Watch(ctx)
	require.NoError(t, err)

	first := <-ch
	require.Equal(t, uint64(1), first.Version)

	require.NoError(t, store.ApplyVote(ctx, "1", 3))
	select {
	case snap := <-ch:
		require.Equal(t, uint64(2), snap.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after vote")
	}
}
