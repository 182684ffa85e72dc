package worker

import (
	"context"
	"sync"

	"github.com/ledgerline/taskbus/job"
)

// Signal is the interrupt handle for one running job. Cancelling and
// pausing a running job both cancel its context; the recorded reason
// tells the executor which terminal (or parked) state to persist.
type Signal struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	reason job.State
}

// NewSignal wraps a cancel function in an interrupt handle.
func NewSignal(cancel context.CancelFunc) *Signal {
	return &Signal{cancel: cancel}
}

// Interrupt records the reason (job.StateCancelled or job.StatePaused)
// and cancels the job's context. The first reason wins; later interrupts
// only re-cancel.
func (s *Signal) Interrupt(reason job.State) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
	s.cancel()
}

// Reason returns the recorded interrupt reason, or the empty state when
// the job was never interrupted.
func (s *Signal) Reason() job.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
