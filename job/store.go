package job

import (
	"context"
	"time"

	"github.com/ledgerline/taskbus/id"
)

// Filter controls filtering and pagination for job list queries.
type Filter struct {
	// State filters by lifecycle state. Empty means all states.
	State State
	// Type filters by job type. Empty means all types.
	Type string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for jobs. All mutations are
// durable before the call returns.
type Store interface {
	// EnqueueJob persists a new job in pending state. Safe to call
	// concurrently from many producers; a duplicate ID returns
	// taskbus.ErrJobAlreadyExists.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJob atomically selects the single most eligible pending job
	// (highest priority, then oldest) and moves it to running with a
	// start timestamp. The select-and-mark step is exclusive: no two
	// concurrent claims ever return the same job. Returns nil, nil when
	// no pending job exists.
	ClaimJob(ctx context.Context, workerID id.WorkerID) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// UpdateProgress records handler progress for a running job.
	// Progress is clamped to [0, 100] and never decreases; updates for
	// jobs no longer running are ignored.
	UpdateProgress(ctx context.Context, jobID id.JobID, pct int) error

	// TransitionState moves a job from one state to another as a single
	// compare-and-set: the update applies only if the job is currently
	// in the from state, otherwise taskbus.ErrInvalidState is returned.
	TransitionState(ctx context.Context, jobID id.JobID, from, to State) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs matching the filter, ordered by priority
	// descending then creation time ascending.
	ListJobs(ctx context.Context, f Filter) ([]*Job, error)

	// CountJobs returns the number of jobs matching the filter.
	CountJobs(ctx context.Context, f Filter) (int64, error)

	// PruneTerminalJobs deletes jobs in a terminal state that finished
	// before the cutoff. Returns the number of rows removed.
	PruneTerminalJobs(ctx context.Context, before time.Time) (int64, error)
}
