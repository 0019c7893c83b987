package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"election_ledger/pkg/identity"
)

// Type identifies the kind of a journaled event
type Type string

// Election events
const (
	TypeCandidateAdded       Type = "election.candidate_added"
	TypeElectionStarted      Type = "election.started"
	TypeElectionEnded        Type = "election.ended"
	TypeVoted                Type = "election.voted"
	TypeOwnershipTransferred Type = "election.ownership_transferred"
	TypeElectionReset        Type = "election.reset"
)

// Ledger events
const (
	TypeDeposit    Type = "ledger.deposit"
	TypeWithdrawal Type = "ledger.withdrawal"
	TypeRefund     Type = "ledger.refund"
)

var (
	ErrUnknownType  = errors.New("unknown event type")
	ErrEmptyPayload = errors.New("event payload is empty")
)

// IsElection reports whether the type belongs to the election controller
func (t Type) IsElection() bool {
	switch t {
	case TypeCandidateAdded, TypeElectionStarted, TypeElectionEnded,
		TypeVoted, TypeOwnershipTransferred, TypeElectionReset:
		return true
	}
	return false
}

// IsLedger reports whether the type belongs to the balance ledger
func (t Type) IsLedger() bool {
	return t == TypeDeposit || t == TypeWithdrawal || t == TypeRefund
}

// Event is an immutable record of a successful mutation.
// Seq, ID and Timestamp are assigned by the journal on append.
type Event struct {
	Seq       uint64             `json:"seq"`
	ID        string             `json:"id"`
	Type      Type               `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Actor     identity.Principal `json:"actor"`
	Payload   json.RawMessage    `json:"payload"`
	Signature []byte             `json:"signature,omitempty"`
}

// New builds an unsequenced event with a JSON encoded payload
func New(typ Type, actor identity.Principal, payload interface{}) (Event, error) {
	if !typ.IsElection() && !typ.IsLedger() {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling %s payload: %w", typ, err)
	}

	return Event{
		Type:    typ,
		Actor:   actor,
		Payload: raw,
	}, nil
}

// Decode unmarshals the payload into v
func (e Event) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Type, err)
	}
	return nil
}

// SigningBytes returns the canonical encoding covered by the signature
func (e Event) SigningBytes() ([]byte, error) {
	unsigned := e
	unsigned.Signature = nil
	return json.Marshal(unsigned)
}

// Marshal serializes the event
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an event
func Unmarshal(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshaling event: %w", err)
	}
	return e, nil
}
