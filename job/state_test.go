package job

import "testing"

func TestStateTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StatePaused, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Terminal(); got != tt.want {
				t.Fatalf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStateCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"dispatch", StatePending, StateRunning, true},
		{"pause pending", StatePending, StatePaused, true},
		{"cancel pending", StatePending, StateCancelled, true},
		{"complete", StateRunning, StateCompleted, true},
		{"fail", StateRunning, StateFailed, true},
		{"pause running", StateRunning, StatePaused, true},
		{"cancel running", StateRunning, StateCancelled, true},
		{"resume", StatePaused, StatePending, true},
		{"cancel paused", StatePaused, StateCancelled, true},

		{"pending cannot complete", StatePending, StateCompleted, false},
		{"paused cannot run", StatePaused, StateRunning, false},
		{"completed is terminal", StateCompleted, StatePending, false},
		{"failed is terminal", StateFailed, StateRunning, false},
		{"cancelled is terminal", StateCancelled, StatePending, false},
		{"no self transition", StateRunning, StateRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Fatalf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	t.Parallel()

	for _, from := range States() {
		if !from.Terminal() {
			continue
		}
		for _, to := range States() {
			if from.CanTransition(to) {
				t.Fatalf("terminal state %s permits transition to %s", from, to)
			}
		}
	}
}

func TestStateValid(t *testing.T) {
	t.Parallel()

	for _, s := range States() {
		if !s.Valid() {
			t.Fatalf("Valid(%s) = false", s)
		}
	}
	if State("bogus").Valid() {
		t.Fatal(`Valid("bogus") = true`)
	}
}
