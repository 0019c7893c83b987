package data

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Snapshot is a persisted copy of the election and ledger state.
// Seq is the last journal sequence reflected in the state.
type Snapshot struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Election  json.RawMessage `json:"election"`
	Ledger    json.RawMessage `json:"ledger"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewSnapshot encodes both component states into a new snapshot
func NewSnapshot(seq uint64, election, ledger interface{}) (*Snapshot, error) {
	electionRaw, err := json.Marshal(election)
	if err != nil {
		return nil, fmt.Errorf("encoding election state: %w", err)
	}
	ledgerRaw, err := json.Marshal(ledger)
	if err != nil {
		return nil, fmt.Errorf("encoding ledger state: %w", err)
	}

	return &Snapshot{
		ID:        uuid.New().String(),
		Seq:       seq,
		Election:  electionRaw,
		Ledger:    ledgerRaw,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}, nil
}

// Decode unmarshals both component states
func (s *Snapshot) Decode(election, ledger interface{}) error {
	if err := json.Unmarshal(s.Election, election); err != nil {
		return fmt.Errorf("decoding election state: %w", err)
	}
	if err := json.Unmarshal(s.Ledger, ledger); err != nil {
		return fmt.Errorf("decoding ledger state: %w", err)
	}
	return nil
}

// Validate performs basic validation of the snapshot
func (s *Snapshot) Validate() error {
	if _, err := uuid.Parse(s.ID); err != nil {
		return fmt.Errorf("invalid snapshot id %q: %w", s.ID, err)
	}
	if len(s.Election) == 0 || len(s.Ledger) == 0 {
		return fmt.Errorf("snapshot %s is missing component state", s.ID)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("snapshot %s has no creation time", s.ID)
	}
	return nil
}
