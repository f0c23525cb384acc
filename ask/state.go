package ask

import "fmt"

// State tracks one request through the orchestration pipeline.
type State string

const (
	StateIdle             State = "idle"              // Waiting for a request
	StateCapturingContext State = "capturing_context" // Gathering screenshot and history
	StateDispatched       State = "dispatched"        // Adapter constructed, stream starting
	StateStreaming        State = "streaming"         // Consuming token events
	StateSaving           State = "saving"            // Persisting the finished exchange
	StateDone             State = "done"              // Completed
	StateAborted          State = "aborted"           // Hard failure
)

// validTransitions defines the legal moves. Aborted is reachable from every
// live state; Done and Aborted return to Idle so one orchestrator can serve
// the next request on its session.
var validTransitions = map[State][]State{
	StateIdle:             {StateCapturingContext, StateAborted},
	StateCapturingContext: {StateDispatched, StateAborted},
	StateDispatched:       {StateStreaming, StateAborted},
	StateStreaming:        {StateSaving, StateAborted},
	StateSaving:           {StateDone, StateAborted},
	StateDone:             {StateIdle},
	StateAborted:          {StateIdle},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to State) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition reports an illegal state move.
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
