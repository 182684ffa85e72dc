package job

import (
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/id"
)

// Job represents a unit of deferred work tracked through the lifecycle
// state machine. Payload and Result are opaque to the core; each handler
// owns its own decoding.
type Job struct {
	taskbus.Entity

	ID       id.JobID `json:"id"`
	Type     string   `json:"type"`
	Payload  []byte   `json:"payload,omitempty"`
	State    State    `json:"state"`
	Priority int      `json:"priority"`

	// Progress is 0-100 and monotonically non-decreasing while running.
	Progress int `json:"progress"`

	// Result is set only when State is StateCompleted.
	Result []byte `json:"result,omitempty"`

	// Error is set only when State is StateFailed.
	Error string `json:"error,omitempty"`

	// WorkerID identifies the dispatch pool that claimed the job.
	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New returns a pending job for the given type and payload.
func New(jobType string, payload []byte, opts ...Option) *Job {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Job{
		Entity:   taskbus.NewEntity(),
		ID:       id.NewJobID(),
		Type:     jobType,
		Payload:  payload,
		State:    StatePending,
		Priority: o.Priority,
	}
}

// Options configures per-job behavior at enqueue time.
type Options struct {
	// Priority determines claim ordering. Higher values are picked first.
	Priority int
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{Priority: 0}
}

// Option is a functional option applied at enqueue time.
type Option func(*Options)

// WithPriority sets the job priority. Higher values are dispatched first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}
