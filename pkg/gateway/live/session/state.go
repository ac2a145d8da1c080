package session

import (
	"errors"
	"fmt"
)

// State is the turn state of a live session.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateTranscribing
	StateGenerating
	StateSynthesizing
	StateSending
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateSending:
		return "sending"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether a turn occupies the session in this state.
func (s State) InFlight() bool {
	switch s {
	case StateTranscribing, StateGenerating, StateSynthesizing, StateSending:
		return true
	default:
		return false
	}
}

// ErrIllegalTransition is returned for a state change the table forbids.
var ErrIllegalTransition = errors.New("illegal session state transition")

var allowedTransitions = map[State][]State{
	StateIdle:         {StateAccumulating, StateSynthesizing, StateTerminal},
	StateAccumulating: {StateTranscribing, StateSynthesizing, StateTerminal},
	StateTranscribing: {StateGenerating, StateIdle, StateAccumulating, StateTerminal},
	StateGenerating:   {StateSynthesizing, StateIdle, StateAccumulating, StateTerminal},
	StateSynthesizing: {StateSending, StateIdle, StateAccumulating, StateTerminal},
	StateSending:      {StateIdle, StateAccumulating, StateTerminal},
	StateTerminal:     nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// turnMachine holds the current state. It is owned by the run loop.
type turnMachine struct {
	state State
}

func (m *turnMachine) transition(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
	}
	m.state = to
	return nil
}
