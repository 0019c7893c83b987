package node

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"election_ledger/pkg/config"
	"election_ledger/pkg/data"
	"election_ledger/pkg/database"
	"election_ledger/pkg/election"
	"election_ledger/pkg/event"
	"election_ledger/pkg/identity"
	"election_ledger/pkg/ledger"
	"election_ledger/pkg/metrics"
	"election_ledger/pkg/scheduler"
	"election_ledger/pkg/security"
)

// PersistTaskID is the scheduler task that periodically persists state
const PersistTaskID = "persist"

var ErrNotRunning = errors.New("node is not running")

// Option configures a Node
type Option func(*Node)

// WithTransferer routes ledger withdrawals to an external value transfer
func WithTransferer(t ledger.Transferer) Option {
	return func(n *Node) {
		n.transferer = t
	}
}

// WithRegistry registers metrics with reg instead of a private registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(n *Node) {
		n.registry = reg
	}
}

// Node hosts the election controller and the balance ledger on top of a
// shared event journal and a storage driver
type Node struct {
	config     *config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	journal    *event.Journal
	crypto     *security.CryptoManager
	transferer ledger.Transferer
	controller *election.Controller
	ledger     *ledger.Ledger
	storage    *database.Service
	scheduler  *scheduler.Scheduler

	persistMu sync.Mutex
	mu        sync.RWMutex
	isOpen    bool
	isRunning bool
}

// New creates a node from configuration. Nothing is opened until Open or Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := &Node{
		config: cfg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.registry == nil {
		n.registry = prometheus.NewRegistry()
	}
	n.metrics = metrics.New(n.registry)

	admin, err := identity.Parse(cfg.Election.Administrator)
	if err != nil {
		return nil, fmt.Errorf("administrator: %w", err)
	}

	var journalOpts []event.Option
	if cfg.Security.SignEvents {
		kp, err := security.LoadOrCreateKeyPair(cfg.Security.KeyFile, cfg.Security.KeyPassphrase, logger)
		if err != nil {
			return nil, fmt.Errorf("loading signing key: %w", err)
		}
		n.crypto, err = security.NewCryptoManager(kp)
		if err != nil {
			return nil, err
		}
		journalOpts = append(journalOpts, event.WithSigner(n.crypto))
		logger.Info("Event signing enabled", zap.String("fingerprint", n.crypto.Fingerprint()))
	}
	n.journal = event.NewJournal(journalOpts...)

	n.controller, err = election.NewController(admin, n.journal, logger.Named("election"), n.metrics)
	if err != nil {
		return nil, fmt.Errorf("creating election controller: %w", err)
	}

	// initial funding is applied in Open, once storage shows a fresh ledger
	n.ledger, err = ledger.New(admin, 0, n.transferer, n.journal, logger.Named("ledger"), n.metrics)
	if err != nil {
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	n.storage, err = database.NewService(cfg.Storage, &cfg.Database, logger.Named("storage"))
	if err != nil {
		return nil, err
	}

	n.scheduler = scheduler.NewScheduler(&cfg.Scheduler, logger.Named("scheduler"))

	return n, nil
}

// Open starts storage and rebuilds state from the latest snapshot and the
// events stored after it
func (n *Node) Open(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.isOpen {
		return fmt.Errorf("node already open")
	}

	if err := n.storage.Start(ctx); err != nil {
		return fmt.Errorf("starting storage: %w", err)
	}

	if err := n.restore(ctx); err != nil {
		_ = n.storage.Stop(ctx)
		return fmt.Errorf("restoring state: %w", err)
	}

	n.isOpen = true
	return nil
}

// Start opens the node and schedules periodic persistence
func (n *Node) Start(ctx context.Context) error {
	if err := n.Open(ctx); err != nil {
		return err
	}

	task := &scheduler.Task{
		ID:         PersistTaskID,
		Name:       "Persist journal and snapshot",
		Schedule:   n.config.Scheduler.PersistSchedule,
		MaxRetries: n.config.Scheduler.RetryAttempts,
		ExecutionFn: func(ctx context.Context) error {
			return n.Persist(ctx)
		},
	}
	if err := n.scheduler.ScheduleTask(task); err != nil {
		_ = n.Close(ctx)
		return fmt.Errorf("scheduling persistence: %w", err)
	}
	if err := n.scheduler.Start(); err != nil {
		_ = n.Close(ctx)
		return fmt.Errorf("starting scheduler: %w", err)
	}

	// checkpoint the restored state before the first scheduled run
	if err := n.scheduler.RunNow(PersistTaskID); err != nil {
		_ = n.scheduler.Stop()
		_ = n.Close(ctx)
		return fmt.Errorf("initial persist: %w", err)
	}

	n.mu.Lock()
	n.isRunning = true
	n.mu.Unlock()

	n.logger.Info("Node started",
		zap.String("driver", n.config.Storage.Driver),
		zap.String("persistSchedule", task.Schedule))
	return nil
}

// Stop halts the scheduler, persists a final snapshot and closes storage
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	running := n.isRunning
	n.isRunning = false
	n.mu.Unlock()

	if running {
		if err := n.scheduler.Stop(); err != nil {
			n.logger.Error("Failed to stop scheduler", zap.Error(err))
		}
		stats := n.scheduler.GetSchedulerStats()
		n.logger.Info("Scheduler stopped",
			zap.Int64("completed", stats.TasksCompleted),
			zap.Int64("failed", stats.TasksFailed),
			zap.Duration("avgLatency", stats.AverageLatency))
	}

	persistErr := n.Persist(ctx)
	if persistErr != nil && !errors.Is(persistErr, ErrNotRunning) {
		n.logger.Error("Final persist failed", zap.Error(persistErr))
	} else {
		persistErr = nil
	}

	if err := n.Close(ctx); err != nil {
		return err
	}
	n.logger.Info("Node stopped")
	return persistErr
}

// Close releases storage without persisting
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.isOpen {
		return nil
	}
	n.isOpen = false
	return n.storage.Stop(ctx)
}

// Persist stores journal events not yet persisted and saves a snapshot when
// the stored one is behind
func (n *Node) Persist(ctx context.Context) error {
	n.mu.RLock()
	open := n.isOpen
	n.mu.RUnlock()
	if !open {
		return ErrNotRunning
	}

	n.persistMu.Lock()
	defer n.persistMu.Unlock()

	err := n.persist(ctx)
	n.metrics.PersistRun(err)
	return err
}

func (n *Node) persist(ctx context.Context) error {
	repo := n.storage.GetRepository()

	// every event up to floor is reflected in the component snapshots below
	floor := n.journal.LastSeq()
	electionState := n.controller.Snapshot()
	ledgerState := n.ledger.Snapshot()

	if _, err := n.flushEvents(ctx, repo); err != nil {
		return err
	}

	latest, err := repo.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, data.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading snapshot: %w", err)
	case latest.Seq >= floor:
		n.logger.Debug("Snapshot up to date", zap.Uint64("seq", latest.Seq))
		return nil
	}

	snapshot, err := data.NewSnapshot(floor, electionState, ledgerState)
	if err != nil {
		return err
	}
	if err := repo.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	n.logger.Debug("State persisted",
		zap.String("snapshotID", snapshot.ID),
		zap.Uint64("seq", floor))
	return nil
}

// flushEvents appends retained journal events the repository has not seen
// and drops them from the journal
func (n *Node) flushEvents(ctx context.Context, repo data.Repository) (int, error) {
	stored, err := repo.LastEventSeq(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading last stored event: %w", err)
	}

	pending := n.journal.Since(stored)
	if len(pending) == 0 {
		return 0, nil
	}
	if err := repo.AppendEvents(ctx, pending); err != nil {
		return 0, fmt.Errorf("appending events: %w", err)
	}
	n.journal.Compact(pending[len(pending)-1].Seq)
	return len(pending), nil
}

func (n *Node) restore(ctx context.Context) error {
	repo := n.storage.GetRepository()

	var floor uint64
	snapshot, err := repo.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, data.ErrNotFound):
	case err != nil:
		return fmt.Errorf("loading snapshot: %w", err)
	default:
		var electionState election.State
		var ledgerState ledger.State
		if err := snapshot.Decode(&electionState, &ledgerState); err != nil {
			return err
		}
		if err := n.controller.Restore(electionState); err != nil {
			return err
		}
		if err := n.ledger.Restore(ledgerState); err != nil {
			return err
		}
		floor = snapshot.Seq
	}

	last, err := repo.LastEventSeq(ctx)
	if err != nil {
		return fmt.Errorf("reading last stored event: %w", err)
	}
	if err := n.journal.Resume(last); err != nil {
		return err
	}

	events, err := repo.ListEvents(ctx, floor, 0)
	if err != nil {
		return fmt.Errorf("listing events: %w", err)
	}
	if err := n.replay(events); err != nil {
		return err
	}

	if snapshot == nil && last == 0 && n.config.Election.InitialFunding > 0 {
		admin := n.controller.Administrator()
		if err := n.ledger.Deposit(admin, n.config.Election.InitialFunding); err != nil {
			return fmt.Errorf("initial funding: %w", err)
		}
	}

	if err := n.controller.Verify(); err != nil {
		return err
	}
	if err := n.ledger.Verify(); err != nil {
		return err
	}

	n.logger.Info("State restored",
		zap.Bool("fromSnapshot", snapshot != nil),
		zap.Uint64("snapshotSeq", floor),
		zap.Int("replayed", len(events)),
		zap.Uint64("lastSeq", last))
	return nil
}

func (n *Node) replay(events []event.Event) error {
	for _, e := range events {
		var err error
		switch {
		case e.Type.IsElection():
			err = n.controller.Apply(e)
		case e.Type.IsLedger():
			err = n.ledger.Apply(e)
		default:
			err = fmt.Errorf("%w: %s", event.ErrUnknownType, e.Type)
		}
		if err != nil {
			return fmt.Errorf("replaying event %d: %w", e.Seq, err)
		}
	}
	return nil
}

// VerifyJournal checks the signature of every stored event
func (n *Node) VerifyJournal(ctx context.Context) (int, error) {
	if n.crypto == nil {
		return 0, fmt.Errorf("event signing is not enabled")
	}

	n.mu.RLock()
	open := n.isOpen
	n.mu.RUnlock()
	if !open {
		return 0, ErrNotRunning
	}

	events, err := n.storage.GetRepository().ListEvents(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("listing events: %w", err)
	}
	if err := security.VerifyEvents(events, n.crypto.PublicKey()); err != nil {
		return 0, err
	}
	return len(events), nil
}

// Controller returns the election controller
func (n *Node) Controller() *election.Controller {
	return n.controller
}

// Ledger returns the balance ledger
func (n *Node) Ledger() *ledger.Ledger {
	return n.ledger
}

// Journal returns the shared event journal
func (n *Node) Journal() *event.Journal {
	return n.journal
}

// Registry returns the registry holding the node's metrics
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// PublicKey returns the event signing key, nil when signing is disabled
func (n *Node) PublicKey() ed25519.PublicKey {
	if n.crypto == nil {
		return nil
	}
	return n.crypto.PublicKey()
}

// PublicKeyString returns the base64 event signing key, empty when signing is disabled
func (n *Node) PublicKeyString() string {
	if n.crypto == nil {
		return ""
	}
	return n.crypto.ExportPublicKey()
}

// IsHealthy reports whether the node is open and its storage answers
func (n *Node) IsHealthy() bool {
	n.mu.RLock()
	open := n.isOpen
	n.mu.RUnlock()
	return open && n.storage.IsHealthy()
}
