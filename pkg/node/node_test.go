package node

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"election_ledger/pkg/config"
	"election_ledger/pkg/data"
	"election_ledger/pkg/election"
	"election_ledger/pkg/event"
	"election_ledger/pkg/identity"
	"election_ledger/pkg/ledger"
	"election_ledger/pkg/security"
)

const admin = identity.Principal("chair")

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()

	cfg := &config.Config{
		Environment: "test",
		LogLevel:    "debug",
		Election: config.ElectionConfig{
			Administrator:  string(admin),
			InitialFunding: 1000,
		},
		Storage: config.StorageConfig{Driver: driver},
		Scheduler: config.SchedConfig{
			PersistSchedule: "@every 1h",
			MaxConcurrent:   1,
			RetryAttempts:   0,
			RetryDelay:      10 * time.Millisecond,
		},
	}
	if driver == config.DriverBolt {
		cfg.Storage.Path = filepath.Join(t.TempDir(), "election.db")
	}
	return cfg
}

func newTestNode(t *testing.T, cfg *config.Config, opts ...Option) *Node {
	t.Helper()
	n, err := New(cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return n
}

// runElection adds two candidates, starts, casts three votes and leaves the election active
func runElection(t *testing.T, c *election.Controller) {
	t.Helper()
	_, err := c.AddCandidate(admin, "Alice")
	require.NoError(t, err)
	_, err = c.AddCandidate(admin, "Bob")
	require.NoError(t, err)
	require.NoError(t, c.StartElection(admin))
	require.NoError(t, c.Vote("v1", 1))
	require.NoError(t, c.Vote("v2", 2))
	require.NoError(t, c.Vote("v3", 1))
}

func TestNew(t *testing.T) {
	t.Run("NilConfig", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Error(t, err)
	})

	t.Run("BlankAdministrator", func(t *testing.T) {
		cfg := testConfig(t, config.DriverMemory)
		cfg.Election.Administrator = " "
		_, err := New(cfg, nil)
		assert.ErrorIs(t, err, identity.ErrEmptyPrincipal)
	})

	t.Run("UnknownDriver", func(t *testing.T) {
		cfg := testConfig(t, "sqlite")
		_, err := New(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("PersistBeforeOpen", func(t *testing.T) {
		n := newTestNode(t, testConfig(t, config.DriverMemory))
		assert.ErrorIs(t, n.Persist(context.Background()), ErrNotRunning)
		assert.False(t, n.IsHealthy())
	})
}

func TestNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, testConfig(t, config.DriverMemory))

	require.NoError(t, n.Start(ctx))
	assert.True(t, n.IsHealthy())
	assert.Error(t, n.Open(ctx), "second open must fail")

	assert.Equal(t, uint64(1000), n.Ledger().GetBalance(admin))

	// start checkpoints the funded ledger
	repo := n.storage.GetRepository()
	initial, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), initial.Seq)
	assert.Zero(t, n.Journal().Len())

	runElection(t, n.Controller())

	require.NoError(t, n.Persist(ctx))
	assert.Zero(t, n.Journal().Len(), "persisted events are compacted")

	last, err := repo.LastEventSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), last, "funding deposit plus six election events")

	snapshot, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snapshot.Seq)

	assert.Equal(t, float64(2), testutil.ToFloat64(n.metrics.Persisted))

	task, err := n.scheduler.GetTask(PersistTaskID)
	require.NoError(t, err)
	assert.Equal(t, "@every 1h", task.Schedule)
	assert.Equal(t, int64(1), n.scheduler.GetSchedulerStats().TasksCompleted)

	require.NoError(t, n.Stop(ctx))
	assert.False(t, n.IsHealthy())
	assert.NoError(t, n.Stop(ctx), "stop is idempotent")
}

func TestNodePersistWithoutNewEvents(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, testConfig(t, config.DriverMemory))
	require.NoError(t, n.Open(ctx))
	defer n.Close(ctx)

	runElection(t, n.Controller())
	require.NoError(t, n.Persist(ctx))

	repo := n.storage.GetRepository()
	first, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.Persist(ctx))
	}
	latest, err := repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID, "an up to date snapshot is kept")

	memory, ok := repo.(*data.MemoryRepository)
	require.True(t, ok)
	assert.Equal(t, 1, memory.SnapshotCount())

	require.NoError(t, n.Controller().Vote("v4", 2))
	require.NoError(t, n.Persist(ctx))
	latest, err = repo.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), latest.Seq)
	assert.Equal(t, 2, memory.SnapshotCount())
}

func TestNodeRestore(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverBolt)

	first := newTestNode(t, cfg)
	require.NoError(t, first.Start(ctx))
	runElection(t, first.Controller())
	require.NoError(t, first.Ledger().Withdraw(ctx, admin, 250))
	require.NoError(t, first.Ledger().Deposit("v1", 40))

	wantElection := first.Controller().Snapshot()
	wantLedger := first.Ledger().Snapshot()
	require.NoError(t, first.Stop(ctx))

	second := newTestNode(t, cfg)
	require.NoError(t, second.Open(ctx))
	defer second.Close(ctx)

	assert.Equal(t, wantElection, second.Controller().Snapshot())
	assert.Equal(t, wantLedger, second.Ledger().Snapshot())
	assert.Equal(t, uint64(790), second.Ledger().GetTotalBalance(), "initial funding is not applied twice")

	// numbering continues after the stored journal
	require.NoError(t, second.Controller().Vote("v4", 2))
	events := second.Journal().Events()
	require.Len(t, events, 1)
	assert.Equal(t, wantLedger.LastSeq+1, events[0].Seq)
}

func TestNodeReplaysEventsAfterSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverBolt)

	first := newTestNode(t, cfg)
	require.NoError(t, first.Open(ctx))
	runElection(t, first.Controller())
	require.NoError(t, first.Persist(ctx))

	// events stored without a newer snapshot
	require.NoError(t, first.Controller().Vote("v4", 2))
	require.NoError(t, first.Controller().EndElection(admin))
	require.NoError(t, first.Ledger().Deposit("v4", 5))
	flushed, err := first.flushEvents(ctx, first.storage.GetRepository())
	require.NoError(t, err)
	assert.Equal(t, 3, flushed)

	wantElection := first.Controller().Snapshot()
	wantLedger := first.Ledger().Snapshot()
	require.NoError(t, first.Close(ctx))

	second := newTestNode(t, cfg)
	require.NoError(t, second.Open(ctx))
	defer second.Close(ctx)

	assert.Equal(t, wantElection, second.Controller().Snapshot())
	assert.Equal(t, wantLedger, second.Ledger().Snapshot())
	assert.Equal(t, election.PhaseEnded, second.Controller().GetElectionStatus())
	assert.Equal(t, uint64(4), second.Controller().GetTotalVotes())
}

func TestNodeRejectsCorruptJournal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverBolt)
	cfg.Election.InitialFunding = 0

	first := newTestNode(t, cfg)
	require.NoError(t, first.Open(ctx))

	// a vote for a candidate that was never added
	bogus, err := event.New(event.TypeVoted, "v1", event.Voted{Voter: "v1", CandidateID: 9})
	require.NoError(t, err)
	bogus.Seq = 1
	bogus.ID = "00000000-0000-0000-0000-000000000001"
	bogus.Timestamp = time.Now().UTC()
	require.NoError(t, first.storage.GetRepository().AppendEvents(ctx, []event.Event{bogus}))
	require.NoError(t, first.Close(ctx))

	second := newTestNode(t, cfg)
	err = second.Open(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, election.ErrInvalidPhase)
	assert.False(t, second.IsHealthy())
}

func TestNodeSignedJournal(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DriverBolt)
	cfg.Security = config.SecurityConfig{
		KeyFile:       filepath.Join(t.TempDir(), "keys", "signing.key"),
		KeyPassphrase: "correct horse",
		SignEvents:    true,
	}

	n := newTestNode(t, cfg)
	require.NotNil(t, n.PublicKey())
	assert.Equal(t, base64.StdEncoding.EncodeToString(n.PublicKey()), n.PublicKeyString())

	_, err := n.VerifyJournal(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, n.Start(ctx))
	runElection(t, n.Controller())
	require.NoError(t, n.Persist(ctx))

	count, err := n.VerifyJournal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	require.NoError(t, n.Stop(ctx))

	// the same key file is reused on restart
	restarted := newTestNode(t, cfg)
	assert.Equal(t, n.PublicKey(), restarted.PublicKey())

	t.Run("WrongPassphrase", func(t *testing.T) {
		bad := *cfg
		bad.Security.KeyPassphrase = "wrong"
		_, err := New(&bad, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, security.ErrWrongPassphrase)
	})

	t.Run("UnsignedNode", func(t *testing.T) {
		plain := newTestNode(t, testConfig(t, config.DriverMemory))
		assert.Nil(t, plain.PublicKey())
		assert.Empty(t, plain.PublicKeyString())
		_, err := plain.VerifyJournal(ctx)
		assert.Error(t, err)
	})
}

func TestNodeFailedTransfer(t *testing.T) {
	ctx := context.Background()
	transferErr := errors.New("payout rejected")

	n := newTestNode(t, testConfig(t, config.DriverMemory), WithTransferer(
		ledger.TransferFunc(func(ctx context.Context, to identity.Principal, amount uint64) error {
			return transferErr
		}),
	))
	require.NoError(t, n.Open(ctx))
	defer n.Close(ctx)

	err := n.Ledger().Withdraw(ctx, admin, 100)
	assert.ErrorIs(t, err, ledger.ErrTransferFailed)
	assert.Equal(t, uint64(1000), n.Ledger().GetBalance(admin))

	types := make([]event.Type, 0)
	for _, e := range n.Journal().Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []event.Type{event.TypeDeposit, event.TypeWithdrawal, event.TypeRefund}, types)
}
