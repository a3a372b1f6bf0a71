package scanner

import (
	"fmt"
	"sync"
)

// ScannerState tracks the lifecycle of a single scan
type ScannerState int

const (
	StateIdle ScannerState = iota
	StateScanning
	StatePaused
	StateComplete
	StateError
	StateCancelled
)

func (s ScannerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StatePaused:
		return "paused"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsActive reports whether a scan is in progress (running or paused)
func (s ScannerState) IsActive() bool {
	return s == StateScanning || s == StatePaused
}

// IsFinished reports whether the scan reached a terminal state
func (s ScannerState) IsFinished() bool {
	return s == StateComplete || s == StateError || s == StateCancelled
}

// CanStart reports whether a new scan may begin from this state
func (s ScannerState) CanStart() bool {
	return s == StateIdle || s.IsFinished()
}

// canTransition encodes the legal lifecycle transitions
func canTransition(from, to ScannerState) bool {
	switch to {
	case StateScanning:
		return from.CanStart() || from == StatePaused
	case StatePaused:
		return from == StateScanning
	case StateCancelled:
		return from == StateScanning || from == StatePaused
	case StateComplete, StateError:
		return from == StateScanning
	}
	return false
}

// stateMachine serializes state mutation. Only the orchestrator writes;
// readers take a snapshot.
type stateMachine struct {
	mu    sync.RWMutex
	state ScannerState
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateIdle}
}

// Current returns a snapshot of the state
func (sm *stateMachine) Current() ScannerState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Transition moves to the target state, rejecting illegal transitions
func (sm *stateMachine) Transition(to ScannerState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !canTransition(sm.state, to) {
		return newScanError(ErrKindState, "",
			fmt.Errorf("illegal transition from %s to %s", sm.state, to))
	}
	sm.state = to
	return nil
}

// TransitionStart moves to Scanning only when a fresh scan may begin.
// Resume takes the Paused edge through Transition; Start must not, or a
// paused scan would grow a second pipeline.
func (sm *stateMachine) TransitionStart() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.state.CanStart() {
		return newScanError(ErrKindState, "",
			fmt.Errorf("cannot start scan from state %s", sm.state))
	}
	sm.state = StateScanning
	return nil
}

// TransitionTerminal moves to a terminal state at the end of a run. A
// pause that lands after the pipeline has already drained resolves here,
// so Complete and Error are reachable from Paused at finalization.
func (sm *stateMachine) TransitionTerminal(to ScannerState) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	from := sm.state
	if from == StatePaused {
		from = StateScanning
	}
	if !canTransition(from, to) {
		return newScanError(ErrKindState, "",
			fmt.Errorf("illegal transition from %s to %s", sm.state, to))
	}
	sm.state = to
	return nil
}
