package event

import "election_ledger/pkg/identity"

// CandidateAdded is the payload of TypeCandidateAdded
type CandidateAdded struct {
	CandidateID uint64 `json:"candidate_id"`
	Name        string `json:"name"`
}

// ElectionStarted is the payload of TypeElectionStarted
type ElectionStarted struct {
	CandidateCount int `json:"candidate_count"`
}

// ElectionEnded is the payload of TypeElectionEnded
type ElectionEnded struct {
	TotalVotes uint64 `json:"total_votes"`
}

// Voted is the payload of TypeVoted
type Voted struct {
	Voter       identity.Principal `json:"voter"`
	CandidateID uint64             `json:"candidate_id"`
}

// OwnershipTransferred is the payload of TypeOwnershipTransferred
type OwnershipTransferred struct {
	Previous identity.Principal `json:"previous"`
	New      identity.Principal `json:"new"`
}

// ElectionReset is the payload of TypeElectionReset.
// Round is the round number that begins with the reset.
type ElectionReset struct {
	Round uint64 `json:"round"`
}

// Deposit is the payload of TypeDeposit
type Deposit struct {
	Account identity.Principal `json:"account"`
	Amount  uint64             `json:"amount"`
}

// Withdrawal is the payload of TypeWithdrawal
type Withdrawal struct {
	Account identity.Principal `json:"account"`
	Amount  uint64             `json:"amount"`
}

// Refund is the payload of TypeRefund. It reverses a withdrawal whose
// external transfer failed.
type Refund struct {
	Account identity.Principal `json:"account"`
	Amount  uint64             `json:"amount"`
	Reason  string             `json:"reason,omitempty"`
}
