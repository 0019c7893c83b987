package election

import (
	"fmt"
	"sync"

	"election_ledger/pkg/event"
	"election_ledger/pkg/identity"
	"election_ledger/pkg/metrics"

	"go.uber.org/zap"
)

// Operation labels used in logs and metrics
const (
	OpAddCandidate      = "add_candidate"
	OpStartElection     = "start_election"
	OpEndElection       = "end_election"
	OpVote              = "vote"
	OpTransferOwnership = "transfer_ownership"
	OpResetElection     = "reset_election"
)

var phaseLabels = func() []string {
	labels := make([]string, len(Phases))
	for i, p := range Phases {
		labels[i] = p.String()
	}
	return labels
}()

// Controller is the single entry point to the election state. Every
// mutation runs under one write lock and is journaled before it is applied.
type Controller struct {
	candidates *candidateRegistry
	voters     *voterRegistry
	gate       *lifecycleGate
	auth       *authority
	round      uint64
	journal    event.Recorder
	lastSeq    uint64
	logger     *zap.Logger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

// NewController creates a new election controller administered by admin.
// A nil journal gets a private in-memory one.
func NewController(admin identity.Principal, journal event.Recorder, logger *zap.Logger, m *metrics.Metrics) (*Controller, error) {
	auth, err := newAuthority(admin)
	if err != nil {
		return nil, err
	}
	if journal == nil {
		journal = event.NewJournal()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		candidates: newCandidateRegistry(),
		voters:     newVoterRegistry(),
		gate:       newLifecycleGate(),
		auth:       auth,
		journal:    journal,
		logger:     logger,
		metrics:    m,
	}
	c.observe()
	return c, nil
}

// AddCandidate registers a new candidate with the next sequential id
func (c *Controller) AddCandidate(caller identity.Principal, name string) (Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.auth.authorize(caller); err != nil {
		return Candidate{}, c.reject(OpAddCandidate, caller, err)
	}
	if err := c.checkAddCandidate(name); err != nil {
		return Candidate{}, c.reject(OpAddCandidate, caller, err)
	}

	id := c.candidates.nextID()
	if err := c.record(event.TypeCandidateAdded, caller, event.CandidateAdded{CandidateID: id, Name: name}); err != nil {
		return Candidate{}, c.reject(OpAddCandidate, caller, err)
	}
	candidate := c.candidates.add(name)

	c.accept(OpAddCandidate)
	c.logger.Info("Candidate added",
		zap.Uint64("candidateID", candidate.ID),
		zap.String("name", candidate.Name))
	return candidate, nil
}

// StartElection opens voting
func (c *Controller) StartElection(caller identity.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.auth.authorize(caller); err != nil {
		return c.reject(OpStartElection, caller, err)
	}
	next, err := c.checkStart()
	if err != nil {
		return c.reject(OpStartElection, caller, err)
	}

	count := c.candidates.count()
	if err := c.record(event.TypeElectionStarted, caller, event.ElectionStarted{CandidateCount: count}); err != nil {
		return c.reject(OpStartElection, caller, err)
	}
	c.gate.set(next)

	c.accept(OpStartElection)
	c.logger.Info("Election started",
		zap.Int("candidates", count),
		zap.Uint64("round", c.round))
	return nil
}

// EndElection closes voting
func (c *Controller) EndElection(caller identity.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.auth.authorize(caller); err != nil {
		return c.reject(OpEndElection, caller, err)
	}
	next, err := c.gate.next(transitionEnd)
	if err != nil {
		return c.reject(OpEndElection, caller, err)
	}

	total := c.candidates.totalVotes()
	if err := c.record(event.TypeElectionEnded, caller, event.ElectionEnded{TotalVotes: total}); err != nil {
		return c.reject(OpEndElection, caller, err)
	}
	c.gate.set(next)

	c.accept(OpEndElection)
	c.logger.Info("Election ended", zap.Uint64("totalVotes", total))
	return nil
}

// Vote records caller's single vote for candidateID. Any principal may vote.
func (c *Controller) Vote(caller identity.Principal, candidateID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVote(caller, candidateID); err != nil {
		return c.reject(OpVote, caller, err)
	}

	if err := c.record(event.TypeVoted, caller, event.Voted{Voter: caller, CandidateID: candidateID}); err != nil {
		return c.reject(OpVote, caller, err)
	}
	c.castVote(caller, candidateID)

	c.accept(OpVote)
	c.metrics.Vote()
	c.logger.Info("Vote cast",
		zap.String("voter", caller.String()),
		zap.Uint64("candidateID", candidateID))
	return nil
}

// TransferOwnership hands the administrator role to newAdmin
func (c *Controller) TransferOwnership(caller, newAdmin identity.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.auth.authorize(caller); err != nil {
		return c.reject(OpTransferOwnership, caller, err)
	}
	if err := c.auth.checkTransfer(newAdmin); err != nil {
		return c.reject(OpTransferOwnership, caller, err)
	}

	previous := c.auth.admin
	payload := event.OwnershipTransferred{Previous: previous, New: newAdmin}
	if err := c.record(event.TypeOwnershipTransferred, caller, payload); err != nil {
		return c.reject(OpTransferOwnership, caller, err)
	}
	c.auth.admin = newAdmin

	c.accept(OpTransferOwnership)
	c.logger.Info("Ownership transferred",
		zap.String("previous", previous.String()),
		zap.String("new", newAdmin.String()))
	return nil
}

// ResetElection clears the candidate registry and returns to NotStarted.
// Voter records are kept.
func (c *Controller) ResetElection(caller identity.Principal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.auth.authorize(caller); err != nil {
		return c.reject(OpResetElection, caller, err)
	}
	next, err := c.gate.next(transitionReset)
	if err != nil {
		return c.reject(OpResetElection, caller, err)
	}

	round := c.round + 1
	if err := c.record(event.TypeElectionReset, caller, event.ElectionReset{Round: round}); err != nil {
		return c.reject(OpResetElection, caller, err)
	}
	c.reset(next, round)

	c.accept(OpResetElection)
	c.logger.Info("Election reset", zap.Uint64("round", round))
	return nil
}

// GetCandidate returns the candidate with the given id
func (c *Controller) GetCandidate(id uint64) (Candidate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candidate, ok := c.candidates.get(id)
	if !ok {
		return Candidate{}, fmt.Errorf("%w: %d", ErrInvalidCandidateID, id)
	}
	return candidate, nil
}

// GetAllCandidates returns all candidates ordered by id
func (c *Controller) GetAllCandidates() []Candidate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.candidates.all()
}

// GetElectionStatus returns the current phase
func (c *Controller) GetElectionStatus() Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gate.phase
}

// GetCandidatesCount returns the number of registered candidates
func (c *Controller) GetCandidatesCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.candidates.count()
}

// HasVoted reports whether p has voted and for which candidate id
func (c *Controller) HasVoted(p identity.Principal) (bool, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := c.voters.get(p)
	return v.HasVoted, v.VotedFor
}

// GetTotalVotes sums the vote counts of all current candidates
func (c *Controller) GetTotalVotes() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.candidates.totalVotes()
}

// Administrator returns the current administrator
func (c *Controller) Administrator() identity.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.auth.admin
}

// Round returns the number of resets performed
func (c *Controller) Round() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.round
}

// LastSeq returns the sequence of the last event this controller recorded or applied
func (c *Controller) LastSeq() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeq
}

// Precondition checks shared by live operations and replay

func (c *Controller) checkAddCandidate(name string) error {
	if err := c.gate.requireInactive(); err != nil {
		return err
	}
	if name == "" {
		return ErrEmptyCandidateName
	}
	if c.candidates.hasName(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateCandidate, name)
	}
	return nil
}

func (c *Controller) checkStart() (Phase, error) {
	next, err := c.gate.next(transitionStart)
	if err != nil {
		return next, err
	}
	if c.candidates.count() == 0 {
		return c.gate.phase, ErrNoCandidates
	}
	return next, nil
}

func (c *Controller) checkVote(voter identity.Principal, candidateID uint64) error {
	if err := c.gate.requireActive(); err != nil {
		return err
	}
	if voter.IsZero() {
		return fmt.Errorf("%w: voter is empty", ErrInvalidAddress)
	}
	if !c.candidates.validID(candidateID) {
		return fmt.Errorf("%w: %d", ErrInvalidCandidateID, candidateID)
	}
	if c.voters.get(voter).HasVoted {
		return ErrAlreadyVoted
	}
	return nil
}

// Mutations, called with mu held and preconditions checked

func (c *Controller) castVote(voter identity.Principal, candidateID uint64) {
	c.voters.record(voter, candidateID, c.round)
	c.candidates.increment(candidateID)
}

func (c *Controller) reset(next Phase, round uint64) {
	c.candidates.clear()
	c.round = round
	c.gate.set(next)
}

func (c *Controller) record(typ event.Type, actor identity.Principal, payload interface{}) error {
	e, err := event.New(typ, actor, payload)
	if err != nil {
		return err
	}
	recorded, err := c.journal.Record(e)
	if err != nil {
		return fmt.Errorf("recording %s: %w", typ, err)
	}
	c.lastSeq = recorded.Seq
	return nil
}

func (c *Controller) accept(op string) {
	c.metrics.ElectionOp(op, nil)
	c.observe()
}

func (c *Controller) reject(op string, caller identity.Principal, err error) error {
	c.metrics.ElectionOp(op, err)
	c.logger.Debug("Election operation rejected",
		zap.String("operation", op),
		zap.String("caller", caller.String()),
		zap.Error(err))
	return err
}

func (c *Controller) observe() {
	c.metrics.SetCandidates(c.candidates.count())
	c.metrics.SetPhase(c.gate.phase.String(), phaseLabels...)
}
