package job

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a
	// dispatch loop.
	StatePending State = "pending"
	// StateRunning means a dispatch loop is currently executing the job.
	StateRunning State = "running"
	// StatePaused means the job is parked and will not be dispatched
	// until resumed.
	StatePaused State = "paused"
	// StateCompleted means the job finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the job's handler returned an error. Terminal.
	StateFailed State = "failed"
	// StateCancelled means the job was explicitly cancelled. Terminal.
	StateCancelled State = "cancelled"
)

// States lists every lifecycle state.
func States() []State {
	return []State{
		StatePending, StateRunning, StatePaused,
		StateCompleted, StateFailed, StateCancelled,
	}
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StatePaused,
		StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state. No transition is
// permitted out of a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions is the set of permitted state changes. A running job may be
// parked as paused, but only at a dispatch boundary: pause of in-flight
// work is cooperative, signalled through the job's context.
var transitions = map[State][]State{
	StatePending: {StateRunning, StatePaused, StateCancelled},
	StateRunning: {StateCompleted, StateFailed, StatePaused, StateCancelled},
	StatePaused:  {StatePending, StateCancelled},
}

// CanTransition reports whether the state machine permits moving from s
// to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
