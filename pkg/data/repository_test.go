package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"election_ledger/pkg/event"
	"election_ledger/pkg/identity"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type electionFixture struct {
	Phase string `json:"phase"`
	Round uint64 `json:"round"`
}

type ledgerFixture struct {
	Total uint64 `json:"total"`
}

func recordEvents(t *testing.T, n int) []event.Event {
	t.Helper()

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	journal := event.NewJournal(event.WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	for i := 0; i < n; i++ {
		e, err := event.New(event.TypeDeposit, identity.Principal("alice"), event.Deposit{
			Account: "alice",
			Amount:  uint64(10 * (i + 1)),
		})
		require.NoError(t, err)
		_, err = journal.Record(e)
		require.NoError(t, err)
	}
	return journal.Events()
}

func newTestSnapshot(t *testing.T, seq uint64) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(seq, electionFixture{Phase: "Active", Round: seq}, ledgerFixture{Total: seq * 100})
	require.NoError(t, err)
	return s
}

// runRepositoryContract exercises behaviour every driver must share
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("EmptyRepository", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.LatestSnapshot(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		last, err := repo.LastEventSeq(ctx)
		require.NoError(t, err)
		assert.Zero(t, last)

		events, err := repo.ListEvents(ctx, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("SnapshotRoundTrip", func(t *testing.T) {
		repo := newRepo(t)

		older := newTestSnapshot(t, 3)
		newer := newTestSnapshot(t, 7)
		require.NoError(t, repo.SaveSnapshot(ctx, newer))
		require.NoError(t, repo.SaveSnapshot(ctx, older))

		latest, err := repo.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)
		assert.Equal(t, uint64(7), latest.Seq)
		assert.True(t, newer.CreatedAt.Equal(latest.CreatedAt))

		var election electionFixture
		var ledger ledgerFixture
		require.NoError(t, latest.Decode(&election, &ledger))
		assert.Equal(t, electionFixture{Phase: "Active", Round: 7}, election)
		assert.Equal(t, ledgerFixture{Total: 700}, ledger)
	})

	t.Run("SnapshotSameSeqReplaces", func(t *testing.T) {
		repo := newRepo(t)

		first := newTestSnapshot(t, 5)
		second := newTestSnapshot(t, 5)
		second.CreatedAt = first.CreatedAt.Add(time.Minute)
		require.NoError(t, repo.SaveSnapshot(ctx, first))
		require.NoError(t, repo.SaveSnapshot(ctx, second))
		require.NoError(t, repo.SaveSnapshot(ctx, second), "saving the same snapshot again")

		latest, err := repo.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.True(t, second.CreatedAt.Equal(latest.CreatedAt))
	})

	t.Run("InvalidSnapshotRejected", func(t *testing.T) {
		repo := newRepo(t)

		s := newTestSnapshot(t, 1)
		s.ID = "not-a-uuid"
		assert.Error(t, repo.SaveSnapshot(ctx, s))

		_, err := repo.LatestSnapshot(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AppendAndList", func(t *testing.T) {
		repo := newRepo(t)
		events := recordEvents(t, 5)

		require.NoError(t, repo.AppendEvents(ctx, events[:3]))
		require.NoError(t, repo.AppendEvents(ctx, events[3:]))

		last, err := repo.LastEventSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), last)

		all, err := repo.ListEvents(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, events, all)

		tail, err := repo.ListEvents(ctx, 3, 0)
		require.NoError(t, err)
		require.Len(t, tail, 2)
		assert.Equal(t, uint64(4), tail[0].Seq)

		limited, err := repo.ListEvents(ctx, 1, 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, uint64(2), limited[0].Seq)
		assert.Equal(t, uint64(3), limited[1].Seq)

		var payload event.Deposit
		require.NoError(t, all[4].Decode(&payload))
		assert.Equal(t, uint64(50), payload.Amount)
	})

	t.Run("DuplicateRollsBackBatch", func(t *testing.T) {
		repo := newRepo(t)
		events := recordEvents(t, 4)

		require.NoError(t, repo.AppendEvents(ctx, events[:2]))

		err := repo.AppendEvents(ctx, events[1:])
		assert.ErrorIs(t, err, ErrDuplicate)

		last, err := repo.LastEventSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), last)
	})

	t.Run("InvalidBatch", func(t *testing.T) {
		repo := newRepo(t)
		events := recordEvents(t, 3)

		unordered := []event.Event{events[1], events[0]}
		assert.ErrorIs(t, repo.AppendEvents(ctx, unordered), ErrInvalidEvent)

		unsequenced := events[2]
		unsequenced.Seq = 0
		assert.ErrorIs(t, repo.AppendEvents(ctx, []event.Event{unsequenced}), ErrInvalidEvent)

		assert.NoError(t, repo.AppendEvents(ctx, nil))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		repo := newRepo(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		assert.Error(t, repo.AppendEvents(canceled, recordEvents(t, 1)))
		_, err := repo.ListEvents(canceled, 0, 0)
		assert.Error(t, err)
	})
}

func TestMemoryRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		return NewMemoryRepository()
	})

	t.Run("DuplicateSnapshotID", func(t *testing.T) {
		repo := NewMemoryRepository()
		s := newTestSnapshot(t, 1)
		require.NoError(t, repo.SaveSnapshot(context.Background(), s))
		require.NoError(t, repo.SaveSnapshot(context.Background(), s))

		// the same ID under another sequence is a different snapshot
		moved := *s
		moved.Seq = 2
		assert.ErrorIs(t, repo.SaveSnapshot(context.Background(), &moved), ErrDuplicate)

		assert.Equal(t, 1, repo.SnapshotCount())
	})
}

func TestBoltRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		repo, err := OpenBoltRepository(filepath.Join(t.TempDir(), "state", "election.db"), zaptest.NewLogger(t))
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	})

	t.Run("CreatesParentDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b")
		repo, err := OpenBoltRepository(filepath.Join(dir, "election.db"), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer repo.Close()

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("ParentIsAFile", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		_, err := OpenBoltRepository(filepath.Join(blocker, "election.db"), zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "create storage dir")
	})

	t.Run("Reopen", func(t *testing.T) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "election.db")

		repo, err := OpenBoltRepository(path, zaptest.NewLogger(t))
		require.NoError(t, err)
		events := recordEvents(t, 3)
		require.NoError(t, repo.AppendEvents(ctx, events))
		require.NoError(t, repo.SaveSnapshot(ctx, newTestSnapshot(t, 2)))
		require.NoError(t, repo.Close())

		reopened, err := OpenBoltRepository(path, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer reopened.Close()

		last, err := reopened.LastEventSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), last)

		latest, err := reopened.LatestSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), latest.Seq)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := OpenBoltRepository("  ", nil)
		assert.Error(t, err)
	})
}

func TestPostgresRepository(t *testing.T) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, NewSchemaManager(pool).InitializeSchema(ctx))
	// a second run must be a no-op
	require.NoError(t, NewSchemaManager(pool).InitializeSchema(ctx))

	runRepositoryContract(t, func(t *testing.T) Repository {
		for _, query := range []string{"DELETE FROM ledger_events", "DELETE FROM ledger_snapshots"} {
			_, err := pool.Exec(ctx, query)
			require.NoError(t, err)
		}
		repo, err := NewPostgresRepository(pool, zaptest.NewLogger(t))
		require.NoError(t, err)
		return repo
	})

	t.Run("NilPool", func(t *testing.T) {
		_, err := NewPostgresRepository(nil, nil)
		assert.Error(t, err)
	})
}
