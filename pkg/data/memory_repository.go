package data

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"election_ledger/pkg/event"
)

// MemoryRepository keeps snapshots and events in process memory
type MemoryRepository struct {
	snapshots []*Snapshot
	events    map[uint64]event.Event
	mu        sync.RWMutex
}

// Ensure MemoryRepository implements the Repository interface
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: make(map[uint64]event.Event),
	}
}

// SaveSnapshot stores a copy of snapshot, replacing any snapshot with the same sequence
func (m *MemoryRepository) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("validating snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	replace := -1
	for i, s := range m.snapshots {
		switch {
		case s.Seq == snapshot.Seq:
			replace = i
		case s.ID == snapshot.ID:
			return ErrDuplicate
		}
	}
	stored := *snapshot
	if replace >= 0 {
		m.snapshots[replace] = &stored
		return nil
	}
	m.snapshots = append(m.snapshots, &stored)
	return nil
}

// LatestSnapshot returns the snapshot with the highest sequence
func (m *MemoryRepository) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Snapshot
	for _, s := range m.snapshots {
		if latest == nil || s.Seq >= latest.Seq {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

// SnapshotCount returns the number of stored snapshots
func (m *MemoryRepository) SnapshotCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots)
}

// AppendEvents stores events; the whole batch fails on any duplicate
func (m *MemoryRepository) AppendEvents(ctx context.Context, events []event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(events); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range events {
		if _, exists := m.events[e.Seq]; exists {
			return fmt.Errorf("%w: event %d", ErrDuplicate, e.Seq)
		}
	}
	for _, e := range events {
		m.events[e.Seq] = e
	}
	return nil
}

// ListEvents returns events after afterSeq in order, at most limit when limit > 0
func (m *MemoryRepository) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]event.Event, 0)
	for seq, e := range m.events {
		if seq > afterSeq {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LastEventSeq returns the highest stored sequence, 0 when empty
func (m *MemoryRepository) LastEventSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var last uint64
	for seq := range m.events {
		if seq > last {
			last = seq
		}
	}
	return last, nil
}

// Close is a no-op
func (m *MemoryRepository) Close() error {
	return nil
}
