package election

import (
	"fmt"

	"election_ledger/pkg/event"
	"election_ledger/pkg/identity"

	"go.uber.org/zap"
)

// Snapshot returns a deep copy of the controller state
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Restore replaces the controller state with s after validating it
func (c *Controller) Restore(s State) error {
	if err := validateState(s); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.auth.admin = s.Administrator
	c.gate.set(s.Phase)
	c.round = s.Round
	c.candidates.load(s.Candidates)
	c.voters.load(s.Voters)
	c.lastSeq = s.LastSeq
	c.observe()

	c.logger.Info("Election state restored",
		zap.String("phase", s.Phase.String()),
		zap.Int("candidates", len(s.Candidates)),
		zap.Int("voters", len(s.Voters)),
		zap.Uint64("lastSeq", s.LastSeq))
	return nil
}

// Verify re-checks the state invariants
func (c *Controller) Verify() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return validateState(c.snapshotLocked())
}

// Apply re-applies a journaled election event. Authority is not checked,
// structural preconditions are. Events at or below LastSeq are skipped.
func (c *Controller) Apply(e event.Event) error {
	if !e.Type.IsElection() {
		return fmt.Errorf("%w: %s is not an election event", event.ErrUnknownType, e.Type)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.Seq != 0 && e.Seq <= c.lastSeq {
		return nil
	}

	var err error
	switch e.Type {
	case event.TypeCandidateAdded:
		err = c.applyCandidateAdded(e)
	case event.TypeElectionStarted:
		err = c.applyElectionStarted()
	case event.TypeElectionEnded:
		err = c.applyElectionEnded()
	case event.TypeVoted:
		err = c.applyVoted(e)
	case event.TypeOwnershipTransferred:
		err = c.applyOwnershipTransferred(e)
	case event.TypeElectionReset:
		err = c.applyElectionReset(e)
	}
	if err != nil {
		return fmt.Errorf("applying event %d (%s): %w", e.Seq, e.Type, err)
	}

	if e.Seq > c.lastSeq {
		c.lastSeq = e.Seq
	}
	c.observe()
	return nil
}

func (c *Controller) applyCandidateAdded(e event.Event) error {
	var p event.CandidateAdded
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := c.checkAddCandidate(p.Name); err != nil {
		return err
	}
	if p.CandidateID != c.candidates.nextID() {
		return fmt.Errorf("%w: expected id %d, got %d", ErrInvalidCandidateID, c.candidates.nextID(), p.CandidateID)
	}
	c.candidates.add(p.Name)
	return nil
}

func (c *Controller) applyElectionStarted() error {
	next, err := c.checkStart()
	if err != nil {
		return err
	}
	c.gate.set(next)
	return nil
}

func (c *Controller) applyElectionEnded() error {
	next, err := c.gate.next(transitionEnd)
	if err != nil {
		return err
	}
	c.gate.set(next)
	return nil
}

func (c *Controller) applyVoted(e event.Event) error {
	var p event.Voted
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := c.checkVote(p.Voter, p.CandidateID); err != nil {
		return err
	}
	c.castVote(p.Voter, p.CandidateID)
	return nil
}

func (c *Controller) applyOwnershipTransferred(e event.Event) error {
	var p event.OwnershipTransferred
	if err := e.Decode(&p); err != nil {
		return err
	}
	if err := c.auth.authorize(p.Previous); err != nil {
		return err
	}
	if err := c.auth.checkTransfer(p.New); err != nil {
		return err
	}
	c.auth.admin = p.New
	return nil
}

func (c *Controller) applyElectionReset(e event.Event) error {
	var p event.ElectionReset
	if err := e.Decode(&p); err != nil {
		return err
	}
	next, err := c.gate.next(transitionReset)
	if err != nil {
		return err
	}
	if p.Round != c.round+1 {
		return fmt.Errorf("%w: expected round %d, got %d", ErrInvariantViolation, c.round+1, p.Round)
	}
	c.reset(next, p.Round)
	return nil
}

func (c *Controller) snapshotLocked() State {
	return State{
		Administrator: c.auth.admin,
		Phase:         c.gate.phase,
		Round:         c.round,
		Candidates:    c.candidates.all(),
		Voters:        c.voters.copyRecords(),
		LastSeq:       c.lastSeq,
	}
}

func violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

// validateState checks the structural invariants of s:
// contiguous ids, unique names, per-candidate tallies matching the
// votes of the current round, and an Active phase only with candidates.
func validateState(s State) error {
	if s.Administrator.IsZero() {
		return violation("administrator is empty")
	}
	if !s.Phase.Valid() {
		return violation("unknown phase %q", s.Phase)
	}
	if s.Phase == PhaseActive && len(s.Candidates) == 0 {
		return violation("active election without candidates")
	}

	names := make(map[string]struct{}, len(s.Candidates))
	for i, cand := range s.Candidates {
		if cand.ID != uint64(i+1) {
			return violation("candidate at position %d has id %d", i+1, cand.ID)
		}
		if cand.Name == "" {
			return violation("candidate %d has an empty name", cand.ID)
		}
		if _, dup := names[cand.Name]; dup {
			return violation("duplicate candidate name %q", cand.Name)
		}
		names[cand.Name] = struct{}{}
	}

	count := uint64(len(s.Candidates))
	tally := make(map[uint64]uint64)
	for p, v := range s.Voters {
		if err := validateVoter(p, v, s.Round, count); err != nil {
			return err
		}
		if v.HasVoted && v.Round == s.Round {
			tally[v.VotedFor]++
		}
	}

	for _, cand := range s.Candidates {
		if cand.VoteCount != tally[cand.ID] {
			return violation("candidate %d has %d votes, voters recorded %d", cand.ID, cand.VoteCount, tally[cand.ID])
		}
	}
	return nil
}

func validateVoter(p identity.Principal, v Voter, round, count uint64) error {
	if p.IsZero() {
		return violation("voter with empty principal")
	}
	if !v.HasVoted {
		if v.VotedFor != 0 || v.Round != 0 {
			return violation("voter %s has a choice but has_voted is false", p)
		}
		return nil
	}
	if v.VotedFor == 0 {
		return violation("voter %s voted for no candidate", p)
	}
	if v.Round > round {
		return violation("voter %s voted in future round %d", p, v.Round)
	}
	if v.Round == round && v.VotedFor > count {
		return violation("voter %s voted for unknown candidate %d", p, v.VotedFor)
	}
	return nil
}
