package election

import "fmt"

type transition string

const (
	transitionStart transition = "start"
	transitionEnd   transition = "end"
	transitionReset transition = "reset"
)

// lifecycleGate holds the election phase. Every mutating controller
// operation consults it before touching the registries.
type lifecycleGate struct {
	phase Phase
}

func newLifecycleGate() *lifecycleGate {
	return &lifecycleGate{phase: PhaseNotStarted}
}

// next returns the phase reached by t from the current phase
func (g *lifecycleGate) next(t transition) (Phase, error) {
	switch t {
	case transitionStart, transitionReset:
		if g.phase == PhaseActive {
			return g.phase, fmt.Errorf("%w: cannot %s while %s", ErrInvalidPhase, t, g.phase)
		}
		if t == transitionStart {
			return PhaseActive, nil
		}
		return PhaseNotStarted, nil
	case transitionEnd:
		if g.phase != PhaseActive {
			return g.phase, fmt.Errorf("%w: cannot %s while %s", ErrInvalidPhase, t, g.phase)
		}
		return PhaseEnded, nil
	}
	return g.phase, fmt.Errorf("unknown transition %q", t)
}

func (g *lifecycleGate) requireActive() error {
	if g.phase != PhaseActive {
		return fmt.Errorf("%w: election is %s", ErrInvalidPhase, g.phase)
	}
	return nil
}

func (g *lifecycleGate) requireInactive() error {
	if g.phase == PhaseActive {
		return fmt.Errorf("%w: election is %s", ErrInvalidPhase, g.phase)
	}
	return nil
}

func (g *lifecycleGate) set(p Phase) {
	g.phase = p
}
