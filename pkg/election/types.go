package election

import "election_ledger/pkg/identity"

// Phase is the election lifecycle state
type Phase string

const (
	PhaseNotStarted Phase = "NotStarted"
	PhaseActive     Phase = "Active"
	PhaseEnded      Phase = "Ended"
)

// Phases lists every phase in lifecycle order
var Phases = []Phase{PhaseNotStarted, PhaseActive, PhaseEnded}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// String returns the phase label
func (p Phase) String() string {
	return string(p)
}

// Candidate is a registered candidate and its tally
type Candidate struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	VoteCount uint64 `json:"vote_count"`
}

// Voter is the voting record of one principal.
// Round is the reset round in which the vote was cast.
type Voter struct {
	HasVoted bool   `json:"has_voted"`
	VotedFor uint64 `json:"voted_for,omitempty"`
	Round    uint64 `json:"round"`
}

// State is a detached copy of the whole controller state.
// LastSeq is the sequence of the last journal event reflected in it.
type State struct {
	Administrator identity.Principal           `json:"administrator"`
	Phase         Phase                        `json:"phase"`
	Round         uint64                       `json:"round"`
	Candidates    []Candidate                  `json:"candidates"`
	Voters        map[identity.Principal]Voter `json:"voters"`
	LastSeq       uint64                       `json:"last_seq"`
}
