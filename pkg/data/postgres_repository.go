package data

import (
	"context"
	"errors"
	"fmt"

	"election_ledger/pkg/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Ensure PostgresRepository implements the Repository interface
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository over an existing pool.
// The pool is owned by the caller and is not closed by Close.
func NewPostgresRepository(pool *pgxpool.Pool, logger *zap.Logger) (*PostgresRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PostgresRepository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close is a no-op; the database service closes the pool
func (r *PostgresRepository) Close() error {
	return nil
}

// SaveSnapshot persists a snapshot, replacing any snapshot with the same sequence
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("validating snapshot: %w", err)
	}

	query := `
		INSERT INTO ledger_snapshots (id, seq, election, ledger, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (seq) DO UPDATE SET
			id = EXCLUDED.id,
			election = EXCLUDED.election,
			ledger = EXCLUDED.ledger,
			created_at = EXCLUDED.created_at`

	_, err := r.pool.Exec(ctx, query,
		snapshot.ID, int64(snapshot.Seq), []byte(snapshot.Election),
		[]byte(snapshot.Ledger), snapshot.CreatedAt,
	)
	if err != nil {
		if isPgDuplicateError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	return nil
}

// LatestSnapshot returns the snapshot with the highest sequence
func (r *PostgresRepository) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	query := `
		SELECT id, seq, election, ledger, created_at
		FROM ledger_snapshots
		ORDER BY seq DESC, created_at DESC
		LIMIT 1`

	var (
		snapshot Snapshot
		seq      int64
		election []byte
		ledger   []byte
	)
	err := r.pool.QueryRow(ctx, query).Scan(
		&snapshot.ID, &seq, &election, &ledger, &snapshot.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	snapshot.Seq = uint64(seq)
	snapshot.Election = election
	snapshot.Ledger = ledger
	snapshot.CreatedAt = snapshot.CreatedAt.UTC()
	return &snapshot, nil
}

// AppendEvents stores events in one transaction
func (r *PostgresRepository) AppendEvents(ctx context.Context, events []event.Event) error {
	if err := validateBatch(events); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO ledger_events (seq, id, type, actor, occurred_at, body)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, e := range events {
		body, err := e.Marshal()
		if err != nil {
			return fmt.Errorf("marshal event %d: %w", e.Seq, err)
		}
		_, err = tx.Exec(ctx, query,
			int64(e.Seq), e.ID, string(e.Type), e.Actor.String(), e.Timestamp, body,
		)
		if err != nil {
			if isPgDuplicateError(err) {
				return fmt.Errorf("%w: event %d", ErrDuplicate, e.Seq)
			}
			return fmt.Errorf("inserting event %d: %w", e.Seq, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing events: %w", err)
	}

	r.logger.Debug("Appended events",
		zap.Uint64("firstSeq", events[0].Seq),
		zap.Int("count", len(events)))
	return nil
}

// ListEvents returns events after afterSeq in order, at most limit when limit > 0
func (r *PostgresRepository) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	query := `
		SELECT seq, body
		FROM ledger_events
		WHERE seq > $1
		ORDER BY seq ASC`

	args := []interface{}{int64(afterSeq)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	out := make([]event.Event, 0)
	for rows.Next() {
		var (
			seq  int64
			body []byte
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		e, err := event.Unmarshal(body)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", seq, err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return out, nil
}

// LastEventSeq returns the highest stored sequence, 0 when empty
func (r *PostgresRepository) LastEventSeq(ctx context.Context) (uint64, error) {
	var last int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM ledger_events`).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("querying last event: %w", err)
	}
	return uint64(last), nil
}

func isPgDuplicateError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
