package data

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"election_ledger/pkg/event"
	"election_ledger/pkg/utils"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	snapshotBucket = "snapshots"
	eventBucket    = "events"
)

var storageDirs = &utils.FileHelper{}

// BoltRepository stores snapshots and events in a single bbolt file.
// Both buckets are keyed by big-endian sequence so cursors iterate in order.
type BoltRepository struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Ensure BoltRepository implements the Repository interface
var _ Repository = (*BoltRepository)(nil)

// OpenBoltRepository opens or creates the database file at path
func OpenBoltRepository(path string, logger *zap.Logger) (*BoltRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cleanPath := filepath.Clean(path)
	if err := storageDirs.EnsureDirectory(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	repo := &BoltRepository{db: db, logger: logger}
	if err := repo.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("Opened bolt storage", zap.String("path", cleanPath))
	return repo, nil
}

// Close closes the underlying database
func (r *BoltRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveSnapshot persists a snapshot, replacing any snapshot with the same sequence
func (r *BoltRepository) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("validating snapshot: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		return bucket.Put(seqKey(snapshot.Seq), payload)
	})
}

// LatestSnapshot returns the snapshot with the highest sequence
func (r *BoltRepository) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snapshot Snapshot
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return fmt.Errorf("snapshot bucket is missing")
		}
		_, payload := bucket.Cursor().Last()
		if payload == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			return fmt.Errorf("unmarshal snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// AppendEvents stores events in one transaction; any duplicate rolls back the batch
func (r *BoltRepository) AppendEvents(ctx context.Context, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(events); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	return r.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventBucket))
		if bucket == nil {
			return fmt.Errorf("event bucket is missing")
		}
		for _, e := range events {
			key := seqKey(e.Seq)
			if bucket.Get(key) != nil {
				return fmt.Errorf("%w: event %d", ErrDuplicate, e.Seq)
			}
			payload, err := e.Marshal()
			if err != nil {
				return fmt.Errorf("marshal event %d: %w", e.Seq, err)
			}
			if err := bucket.Put(key, payload); err != nil {
				return fmt.Errorf("put event %d: %w", e.Seq, err)
			}
		}
		return nil
	})
}

// ListEvents returns events after afterSeq in order, at most limit when limit > 0
func (r *BoltRepository) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]event.Event, 0)
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventBucket))
		if bucket == nil {
			return fmt.Errorf("event bucket is missing")
		}
		c := bucket.Cursor()
		for k, v := c.Seek(seqKey(afterSeq + 1)); k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			e, err := event.Unmarshal(v)
			if err != nil {
				return fmt.Errorf("event %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LastEventSeq returns the highest stored sequence, 0 when empty
func (r *BoltRepository) LastEventSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var last uint64
	err := r.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventBucket))
		if bucket == nil {
			return fmt.Errorf("event bucket is missing")
		}
		if k, _ := bucket.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return last, err
}

func (r *BoltRepository) ensureBuckets() error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{snapshotBucket, eventBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
