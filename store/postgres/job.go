package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

const jobColumns = `
	id, type, payload, state, priority, progress, result, error,
	worker_id, started_at, completed_at, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO taskbus_jobs (
			id, type, payload, state, priority, progress, result, error,
			worker_id, started_at, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13
		)`,
		j.ID.String(), j.Type, j.Payload, string(j.State),
		j.Priority, j.Progress, j.Result, j.Error,
		j.WorkerID.String(), j.StartedAt, j.CompletedAt,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		// Check for unique violation (duplicate ID).
		if isDuplicateKey(err) {
			return taskbus.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskbus/postgres: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims the single most eligible pending job, sets
// it to running, and returns it. Uses SELECT FOR UPDATE SKIP LOCKED for
// concurrent-safe claims across pools and processes. Returns nil, nil
// when nothing is pending.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		WITH claimed AS (
			UPDATE taskbus_jobs
			SET state = 'running', worker_id = $1, started_at = NOW(), updated_at = NOW()
			WHERE id = (
				SELECT id FROM taskbus_jobs
				WHERE state = 'pending'
				ORDER BY priority DESC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM claimed`,
		workerID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("taskbus/postgres: claim job: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM taskbus_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskbus.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskbus/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskbus_jobs SET
			type = $2, payload = $3, state = $4, priority = $5,
			progress = $6, result = $7, error = $8, worker_id = $9,
			started_at = $10, completed_at = $11, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Type, j.Payload, string(j.State), j.Priority,
		j.Progress, j.Result, j.Error, j.WorkerID.String(),
		j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("taskbus/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskbus.ErrJobNotFound
	}
	return nil
}

// UpdateProgress records handler progress for a running job. Values are
// clamped to [0, 100] and never decrease; updates for jobs no longer
// running are ignored.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, pct int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskbus_jobs
		SET progress = LEAST(GREATEST($2, 0), 100), updated_at = NOW()
		WHERE id = $1
		  AND state = 'running'
		  AND progress < LEAST(GREATEST($2, 0), 100)`,
		jobID.String(), pct,
	)
	if err != nil {
		return fmt.Errorf("taskbus/postgres: update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the job is gone, or the update was a no-op (not
		// running, or a regression). Only the former is an error.
		return s.errIfMissing(ctx, jobID)
	}
	return nil
}

// TransitionState moves a job from one state to another as a single
// compare-and-set. Terminal transitions stamp completed_at; resuming to
// pending clears the worker assignment.
func (s *Store) TransitionState(ctx context.Context, jobID id.JobID, from, to job.State) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE taskbus_jobs SET
			state = $3,
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END,
			worker_id    = CASE WHEN $3 = 'pending' THEN '' ELSE worker_id END,
			started_at   = CASE WHEN $3 = 'pending' THEN NULL ELSE started_at END,
			updated_at   = NOW()
		WHERE id = $1 AND state = $2`,
		jobID.String(), string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("taskbus/postgres: transition state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if missingErr := s.errIfMissing(ctx, jobID); missingErr != nil {
			return missingErr
		}
		return taskbus.ErrInvalidState
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM taskbus_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("taskbus/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return taskbus.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs matching the filter, ordered by priority DESC
// then created_at ASC.
func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM taskbus_jobs
		WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if f.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(f.State))
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, f.Type)
		argIdx++
	}

	query += " ORDER BY priority DESC, created_at ASC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskbus/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the filter.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	query := `SELECT COUNT(*) FROM taskbus_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if f.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(f.State))
		argIdx++
	}
	if f.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argIdx)
		args = append(args, f.Type)
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("taskbus/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PruneTerminalJobs deletes jobs in a terminal state that finished
// before the cutoff.
func (s *Store) PruneTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM taskbus_jobs
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, updated_at) < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("taskbus/postgres: prune terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// errIfMissing returns ErrJobNotFound when no row exists for the ID.
func (s *Store) errIfMissing(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM taskbus_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("taskbus/postgres: check job exists: %w", err)
	}
	if !exists {
		return taskbus.ErrJobNotFound
	}
	return nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		stateStr  string
		workerStr string
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &stateStr,
		&j.Priority, &j.Progress, &j.Result, &j.Error,
		&workerStr, &j.StartedAt, &j.CompletedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskbus/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("taskbus/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskbus/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
