package data

import (
	"context"
	"errors"
	"fmt"

	"election_ledger/pkg/event"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("duplicate record")
	ErrInvalidEvent = errors.New("invalid event")
)

// Repository defines the interface for ledger persistence
type Repository interface {
	// Snapshot operations. A snapshot replaces any stored snapshot with the same sequence.
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	LatestSnapshot(ctx context.Context) (*Snapshot, error)

	// Event operations
	AppendEvents(ctx context.Context, events []event.Event) error
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
	LastEventSeq(ctx context.Context) (uint64, error)

	Close() error
}

// validateBatch checks that events carry strictly increasing sequences
func validateBatch(events []event.Event) error {
	var last uint64
	for _, e := range events {
		if e.Seq == 0 {
			return fmt.Errorf("%w: event %s has no sequence", ErrInvalidEvent, e.ID)
		}
		if e.Seq <= last {
			return fmt.Errorf("%w: sequence %d follows %d", ErrInvalidEvent, e.Seq, last)
		}
		last = e.Seq
	}
	return nil
}
