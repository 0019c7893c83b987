package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder appends events and returns them with their assigned sequence
type Recorder interface {
	Record(e Event) (Event, error)
}

// Signer produces a detached signature over event bytes
type Signer interface {
	Sign(data []byte) ([]byte, error)
}

// Option configures a Journal
type Option func(*Journal)

// WithSigner signs every recorded event
func WithSigner(s Signer) Option {
	return func(j *Journal) {
		j.signer = s
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		j.now = now
	}
}

// Journal is an in-memory, append-only event log.
// Persisted prefixes can be dropped with Compact; numbering continues.
type Journal struct {
	events  []Event
	lastSeq uint64
	signer  Signer
	now     func() time.Time
	mu      sync.RWMutex
}

// NewJournal creates an empty journal starting at sequence 1
func NewJournal(opts ...Option) *Journal {
	j := &Journal{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Record assigns sequence, id and timestamp, signs the event and appends it
func (j *Journal) Record(e Event) (Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e.Seq = j.lastSeq + 1
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		// microsecond precision survives every storage driver unchanged
		e.Timestamp = j.now().UTC().Truncate(time.Microsecond)
	}

	if j.signer != nil {
		data, err := e.SigningBytes()
		if err != nil {
			return Event{}, fmt.Errorf("encoding event for signing: %w", err)
		}
		sig, err := j.signer.Sign(data)
		if err != nil {
			return Event{}, fmt.Errorf("signing event: %w", err)
		}
		e.Signature = sig
	}

	j.events = append(j.events, e)
	j.lastSeq = e.Seq
	return e, nil
}

// Resume continues numbering after lastSeq. Only valid on an empty journal.
func (j *Journal) Resume(lastSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.events) > 0 || j.lastSeq > 0 {
		return fmt.Errorf("journal already holds events up to %d", j.lastSeq)
	}
	j.lastSeq = lastSeq
	return nil
}

// Events returns a copy of all retained events
func (j *Journal) Events() []Event {
	return j.Since(0)
}

// Since returns retained events with a sequence greater than seq
func (j *Journal) Since(seq uint64) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Event, 0, len(j.events))
	for _, e := range j.events {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the sequence of the most recent event
func (j *Journal) LastSeq() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastSeq
}

// Len returns the number of retained events
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events)
}

// Compact drops retained events up to and including seq
func (j *Journal) Compact(seq uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	keep := j.events[:0]
	for _, e := range j.events {
		if e.Seq > seq {
			keep = append(keep, e)
		}
	}
	j.events = keep
}
