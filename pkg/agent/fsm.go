package agent

import (
	"sync"
	"time"
)

// TurnState tracks where a user turn is in the dispatch loop.
type TurnState int

const (
	StateIdle TurnState = iota
	StateGenerating
	StateToolCall
	StateToolDone
	StateAnswered
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateGenerating:
		return "GENERATING"
	case StateToolCall:
		return "TOOL_CALL"
	case StateToolDone:
		return "TOOL_DONE"
	case StateAnswered:
		return "ANSWERED"
	default:
		return "UNKNOWN"
	}
}

// StateChange represents a state transition event.
type StateChange struct {
	FromState TurnState
	ToState   TurnState
	Timestamp time.Time
	Reason    string
}

// StateListener observes turn state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// stateMachine implements the finite state machine for the dispatch loop.
type stateMachine struct {
	currentState TurnState
	mu           sync.RWMutex

	stateChangeListeners []StateListener
}

func newStateMachine() *stateMachine {
	return &stateMachine{currentState: StateIdle}
}

// State returns the current state.
func (sm *stateMachine) State() TurnState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (sm *stateMachine) transitionValid(from, to TurnState) bool {
	validTransitions := map[TurnState][]TurnState{
		StateIdle:       {StateGenerating},
		StateGenerating: {StateAnswered, StateToolCall, StateIdle},
		StateToolCall:   {StateToolDone, StateIdle},
		StateToolDone:   {StateGenerating},
		StateAnswered:   {StateIdle},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}
	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation.
func (sm *stateMachine) Transition(state TurnState, reason string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.transitionValid(sm.currentState, state) {
		return &InvalidTransitionError{
			From: sm.currentState,
			To:   state,
		}
	}

	oldState := sm.currentState
	sm.currentState = state

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners (release lock during notification to avoid deadlocks)
	listeners := make([]StateListener, len(sm.stateChangeListeners))
	copy(listeners, sm.stateChangeListeners)
	sm.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}

	sm.mu.Lock()
	return nil
}

// AddListener registers a listener for state change events.
func (sm *stateMachine) AddListener(listener StateListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stateChangeListeners = append(sm.stateChangeListeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From TurnState
	To   TurnState
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
