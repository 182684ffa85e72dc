// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent claim loops dispatching jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/ext"
	"github.com/ledgerline/taskbus/job"
	"github.com/ledgerline/taskbus/middleware"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then persists the outcome and emits lifecycle
// events. A handler failure never stops the dispatcher; the job is
// marked failed and the claim loop moves on.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks completed with the result, emits JobCompleted.
// On failure: marks failed with the error, emits JobFailed.
// On interrupt (sig): marks cancelled or paused instead of failed.
// The job must be in running state (freshly claimed).
func (e *Executor) Execute(ctx context.Context, j *job.Job, sig *Signal) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		return e.finishFailed(ctx, j, fmt.Errorf("no handler registered for job type %q", j.Type))
	}

	start := time.Now()

	progress := func(pct int) {
		if err := e.store.UpdateProgress(ctx, j.ID, pct); err != nil {
			e.logger.Warn("progress update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	// The terminal handler invokes the registered job handler and
	// captures its result for the success path.
	var result []byte
	terminal := func(ctx context.Context) error {
		var handlerErr error
		result, handlerErr = handler(ctx, j.Payload, progress)
		return handlerErr
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err == nil {
		return e.finishCompleted(ctx, j, result, elapsed)
	}

	// An interrupted handler surfaces context cancellation; the signal
	// reason decides whether that means cancelled, paused, or a plain
	// handler failure racing the interrupt.
	if sig != nil {
		switch sig.Reason() {
		case job.StateCancelled:
			return e.finishCancelled(ctx, j)
		case job.StatePaused:
			return e.finishPaused(ctx, j)
		}
	}

	return e.finishFailed(ctx, j, err)
}

// finishCompleted persists the success outcome and emits JobCompleted.
func (e *Executor) finishCompleted(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.store.TransitionState(ctx, j.ID, job.StateRunning, job.StateCompleted); err != nil {
		return e.transitionLost(j, job.StateCompleted, err)
	}

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = result
	j.Progress = 100
	j.CompletedAt = &now
	j.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to persist job result",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// finishFailed persists the failure outcome and emits JobFailed.
func (e *Executor) finishFailed(ctx context.Context, j *job.Job, handlerErr error) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.store.TransitionState(ctx, j.ID, job.StateRunning, job.StateFailed); err != nil {
		return e.transitionLost(j, job.StateFailed, err)
	}

	// The executor holds the claim-time copy; keep the progress the
	// handler reported before it failed.
	if stored, err := e.store.GetJob(ctx, j.ID); err == nil {
		j.Progress = stored.Progress
	}

	now := time.Now().UTC()
	j.State = job.StateFailed
	j.Error = handlerErr.Error()
	j.CompletedAt = &now
	j.UpdatedAt = now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to persist job failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// finishCancelled persists the cancelled state and emits JobCancelled.
func (e *Executor) finishCancelled(ctx context.Context, j *job.Job) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.store.TransitionState(ctx, j.ID, job.StateRunning, job.StateCancelled); err != nil {
		return e.transitionLost(j, job.StateCancelled, err)
	}

	now := time.Now().UTC()
	j.State = job.StateCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now

	e.extensions.EmitJobCancelled(ctx, j)

	e.logger.Info("job cancelled mid-execution",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)

	return nil
}

// finishPaused parks the job in paused state, keeping its progress, and
// emits JobPaused. A later resume returns it to pending for a fresh claim.
func (e *Executor) finishPaused(ctx context.Context, j *job.Job) error {
	ctx = context.WithoutCancel(ctx)

	if err := e.store.TransitionState(ctx, j.ID, job.StateRunning, job.StatePaused); err != nil {
		return e.transitionLost(j, job.StatePaused, err)
	}

	j.State = job.StatePaused
	j.UpdatedAt = time.Now().UTC()

	e.extensions.EmitJobPaused(ctx, j)

	e.logger.Info("job paused mid-execution",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)

	return nil
}

// transitionLost handles the narrow race where the job's state changed
// underneath a finishing executor (e.g. cancelled between handler return
// and persistence). The other writer owns the terminal state.
func (e *Executor) transitionLost(j *job.Job, target job.State, err error) error {
	if errors.Is(err, taskbus.ErrInvalidState) || errors.Is(err, taskbus.ErrJobNotFound) {
		e.logger.Info("job state changed externally, keeping it",
			slog.String("job_id", j.ID.String()),
			slog.String("target", string(target)),
		)
		return nil
	}
	e.logger.Error("failed to transition job state",
		slog.String("job_id", j.ID.String()),
		slog.String("target", string(target)),
		slog.String("error", err.Error()),
	)
	return err
}
