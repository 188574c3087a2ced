package playback

import (
	"errors"
	"fmt"
)

// TickMs is the playback time credited by one tick.
const TickMs int64 = 1000

var ErrAlreadyStarted = errors.New("playback already started")

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhasePaused
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseIdle; candidate <= PhaseEnded; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown playback phase: %q", text)
}

// State is the playback accounting of a single workout session.
// All transitions are pure: they return the next state and never mutate the receiver.
type State struct {
	Phase         Phase `json:"phase"`
	AccumulatedMs int64 `json:"accumulatedMs"`
	Running       bool  `json:"running"`
}

// Start moves Idle to Running with a zeroed accumulator.
func (s State) Start() (State, error) {
	if s.Phase != PhaseIdle {
		return s, fmt.Errorf("%w: phase %s", ErrAlreadyStarted, s.Phase)
	}
	return State{Phase: PhaseRunning, Running: true}, nil
}

// Play resumes a paused session. No-op when already running, before Start or after End.
func (s State) Play() State {
	if s.Phase != PhasePaused {
		return s
	}
	s.Phase = PhaseRunning
	s.Running = true
	return s
}

func (s State) Pause() State {
	if s.Phase != PhaseRunning {
		return s
	}
	s.Phase = PhasePaused
	s.Running = false
	return s
}

// Tick credits one second of playback. It reports false, leaving the state
// unchanged, when playback is not running.
func (s State) Tick() (State, bool) {
	if s.Phase != PhaseRunning || !s.Running {
		return s, false
	}
	s.AccumulatedMs += TickMs
	return s, true
}

// End freezes the accumulator. Ended is terminal.
func (s State) End() State {
	s.Phase = PhaseEnded
	s.Running = false
	return s
}

func (s State) Ended() bool {
	return s.Phase == PhaseEnded
}
