package election

import "election_ledger/pkg/identity"

// voterRegistry maps principals to their voting record. Records are never removed.
type voterRegistry struct {
	records map[identity.Principal]Voter
}

func newVoterRegistry() *voterRegistry {
	return &voterRegistry{
		records: make(map[identity.Principal]Voter),
	}
}

// get returns the record for p, or the zero record when p never voted
func (r *voterRegistry) get(p identity.Principal) Voter {
	return r.records[p]
}

func (r *voterRegistry) record(p identity.Principal, candidateID, round uint64) {
	r.records[p] = Voter{HasVoted: true, VotedFor: candidateID, Round: round}
}

func (r *voterRegistry) copyRecords() map[identity.Principal]Voter {
	out := make(map[identity.Principal]Voter, len(r.records))
	for p, v := range r.records {
		out[p] = v
	}
	return out
}

func (r *voterRegistry) load(records map[identity.Principal]Voter) {
	r.records = make(map[identity.Principal]Voter, len(records))
	for p, v := range records {
		r.records[p] = v
	}
}
