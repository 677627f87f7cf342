package session

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateConnecting - Connection accepted, session not yet registered.
	StateConnecting State = iota
	// StateActive - Session registered, accepting audio.
	StateActive
	// StateEnding - End requested, flushing remaining audio.
	StateEnding
	// StateTerminated - Session is gone. Terminal state.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Errors for invalid state transitions.
var (
	ErrSessionTerminated = errors.New("session is terminated")
	ErrNotActive         = errors.New("session is not active")
	ErrAlreadyEnding     = errors.New("session is already ending")
)

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	CONNECTING → ACTIVE → ENDING → TERMINATED
//	                │                  ▲
//	                └── Terminate() ───┘
//
// Rules:
//   - CONNECTING: No audio accepted yet; Activate() moves to ACTIVE.
//   - ACTIVE: Audio accepted, End() starts the final flush, Terminate()
//     skips it (connection loss, reaper).
//   - ENDING: No further audio; the flush finishes with Terminate().
//   - TERMINATED: All operations return errors.
type Lifecycle struct {
	mu    sync.RWMutex
	state State
}

// NewLifecycle creates a session lifecycle in CONNECTING state.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateConnecting}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptsAudio returns true if inbound audio may be buffered.
func (l *Lifecycle) AcceptsAudio() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateActive
}

// IsTerminated returns true if the session reached its terminal state.
func (l *Lifecycle) IsTerminated() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateTerminated
}

// Activate transitions CONNECTING to ACTIVE.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateConnecting:
		l.state = StateActive
		return nil
	case StateTerminated:
		return ErrSessionTerminated
	default:
		return ErrNotActive
	}
}

// End transitions ACTIVE to ENDING for the final flush.
func (l *Lifecycle) End() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateActive:
		l.state = StateEnding
		return nil
	case StateEnding:
		return ErrAlreadyEnding
	case StateTerminated:
		return ErrSessionTerminated
	default:
		return ErrNotActive
	}
}

// Terminate moves the session to TERMINATED from any state. Idempotent.
// Returns true on the first call that actually terminated.
func (l *Lifecycle) Terminate() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateTerminated {
		return false
	}
	l.state = StateTerminated
	return true
}
