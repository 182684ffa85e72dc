package ext

import (
	"context"
	"time"

	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called after a job reaches the cancelled state,
// whether it was cancelled while queued or interrupted mid-execution.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// JobPaused is called after a job transitions to the paused state.
type JobPaused interface {
	OnJobPaused(ctx context.Context, j *job.Job) error
}

// JobResumed is called after a paused job is returned to the queue.
type JobResumed interface {
	OnJobResumed(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EventPublished is called after an event is published on the bus.
// Implementations must not publish from inside this hook.
type EventPublished interface {
	OnEventPublished(ctx context.Context, evt *event.Event) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
