package election

import "errors"

var (
	ErrUnauthorized       = errors.New("caller is not the administrator")
	ErrInvalidPhase       = errors.New("operation not allowed in current election phase")
	ErrDuplicateCandidate = errors.New("candidate name already registered")
	ErrNoCandidates       = errors.New("no candidates registered")
	ErrInvalidCandidateID = errors.New("invalid candidate id")
	ErrAlreadyVoted       = errors.New("principal has already voted")
	ErrInvalidAddress     = errors.New("invalid principal")
	ErrAlreadySame        = errors.New("new administrator equals current administrator")
	ErrEmptyCandidateName = errors.New("candidate name is empty")
	ErrInvariantViolation = errors.New("election invariant violated")
)
