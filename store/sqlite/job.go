package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

const jobColumns = `
	id, type, payload, state, priority, progress, result, error,
	worker_id, started_at, completed_at, created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taskbus_jobs (
			id, type, payload, state, priority, progress, result, error,
			worker_id, started_at, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Type, j.Payload, string(j.State),
		j.Priority, j.Progress, j.Result, j.Error,
		j.WorkerID.String(), nullTime(j.StartedAt), nullTime(j.CompletedAt),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return taskbus.ErrJobAlreadyExists
		}
		return fmt.Errorf("taskbus/sqlite: enqueue job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims the most eligible pending job. SQLite has
// no FOR UPDATE SKIP LOCKED; the SELECT-then-UPDATE runs inside one
// write transaction, which SQLite serializes against all other writers.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: begin claim: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM taskbus_jobs
		WHERE state = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1`,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("taskbus/sqlite: claim select: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE taskbus_jobs
		SET state = 'running', worker_id = ?, started_at = ?, updated_at = ?
		WHERE id = ?`,
		workerID.String(), now, now, j.ID.String(),
	); err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: claim update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: claim commit: %w", err)
	}

	j.State = job.StateRunning
	j.WorkerID = workerID
	j.StartedAt = &now
	j.UpdatedAt = now
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM taskbus_jobs
		WHERE id = ?`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, taskbus.ErrJobNotFound
		}
		return nil, fmt.Errorf("taskbus/sqlite: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskbus_jobs SET
			type = ?, payload = ?, state = ?, priority = ?,
			progress = ?, result = ?, error = ?, worker_id = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		j.Type, j.Payload, string(j.State), j.Priority,
		j.Progress, j.Result, j.Error, j.WorkerID.String(),
		nullTime(j.StartedAt), nullTime(j.CompletedAt), time.Now().UTC(),
		j.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("taskbus/sqlite: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return taskbus.ErrJobNotFound
	}
	return nil
}

// UpdateProgress records handler progress for a running job. Values are
// clamped to [0, 100] and never decrease; updates for jobs no longer
// running are ignored.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, pct int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskbus_jobs
		SET progress = MIN(MAX(?, 0), 100), updated_at = ?
		WHERE id = ?
		  AND state = 'running'
		  AND progress < MIN(MAX(?, 0), 100)`,
		pct, time.Now().UTC(), jobID.String(), pct,
	)
	if err != nil {
		return fmt.Errorf("taskbus/sqlite: update progress: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return s.errIfMissing(ctx, jobID)
	}
	return nil
}

// TransitionState moves a job from one state to another as a single
// compare-and-set. Terminal transitions stamp completed_at; resuming to
// pending clears the worker assignment.
func (s *Store) TransitionState(ctx context.Context, jobID id.JobID, from, to job.State) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE taskbus_jobs SET
			state = ?,
			completed_at = CASE WHEN ? IN ('completed', 'failed', 'cancelled') THEN ? ELSE completed_at END,
			worker_id    = CASE WHEN ? = 'pending' THEN '' ELSE worker_id END,
			started_at   = CASE WHEN ? = 'pending' THEN NULL ELSE started_at END,
			updated_at   = ?
		WHERE id = ? AND state = ?`,
		string(to), string(to), now, string(to), string(to), now,
		jobID.String(), string(from),
	)
	if err != nil {
		return fmt.Errorf("taskbus/sqlite: transition state: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		if missingErr := s.errIfMissing(ctx, jobID); missingErr != nil {
			return missingErr
		}
		return taskbus.ErrInvalidState
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM taskbus_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("taskbus/sqlite: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
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
	args := []any{}

	if f.State != "" {
		query += " AND state = ?"
		args = append(args, string(f.State))
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}

	query += " ORDER BY priority DESC, created_at ASC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("taskbus/sqlite: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: iterate job rows: %w", err)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the filter.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	query := `SELECT COUNT(*) FROM taskbus_jobs WHERE 1=1`
	args := []any{}

	if f.State != "" {
		query += " AND state = ?"
		args = append(args, string(f.State))
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, f.Type)
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("taskbus/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// PruneTerminalJobs deletes jobs in a terminal state that finished
// before the cutoff.
func (s *Store) PruneTerminalJobs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM taskbus_jobs
		WHERE state IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, updated_at) < ?`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("taskbus/sqlite: prune terminal jobs: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// errIfMissing returns ErrJobNotFound when no row exists for the ID.
func (s *Store) errIfMissing(ctx context.Context, jobID id.JobID) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM taskbus_jobs WHERE id = ?)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("taskbus/sqlite: check job exists: %w", err)
	}
	if !exists {
		return taskbus.ErrJobNotFound
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob scans a single job row.
func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		stateStr    string
		workerStr   string
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&idStr, &j.Type, &j.Payload, &stateStr,
		&j.Priority, &j.Progress, &j.Result, &j.Error,
		&workerStr, &startedAt, &completedAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskbus/sqlite: parse job id %q: %w", idStr, parseErr)
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

// nullTime converts a *time.Time into a driver-friendly NULL-able value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
