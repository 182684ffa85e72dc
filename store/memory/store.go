package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store = (*Store)(nil)
	_ event.Log = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job

	// events is kept in append order so replay needs no re-sort.
	events []*event.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Compact / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Compact is a no-op for the memory store.
func (m *Store) Compact(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job in pending state.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return taskbus.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// ClaimJob atomically claims the most eligible pending job, sets it to
// running, and returns it. Returns nil, nil when nothing is pending.
func (m *Store) ClaimJob(_ context.Context, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Pick: priority DESC, CreatedAt ASC.
	var best *job.Job
	for _, j := range m.jobs {
		if j.State != job.StatePending {
			continue
		}
		if best == nil ||
			j.Priority > best.Priority ||
			(j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	best.State = job.StateRunning
	best.WorkerID = workerID
	best.StartedAt = &now
	best.UpdatedAt = now

	// Return a copy so callers can mutate without racing with the store.
	cp := *best
	return &cp, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, taskbus.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return taskbus.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// UpdateProgress records handler progress for a running job. Values are
// clamped to [0, 100] and never decrease; updates for jobs no longer
// running are ignored.
func (m *Store) UpdateProgress(_ context.Context, jobID id.JobID, pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return taskbus.ErrJobNotFound
	}
	if j.State != job.StateRunning {
		return nil
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= j.Progress {
		return nil
	}
	j.Progress = pct
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// TransitionState moves a job from one state to another as a single
// compare-and-set.
func (m *Store) TransitionState(_ context.Context, jobID id.JobID, from, to job.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return taskbus.ErrJobNotFound
	}
	if j.State != from {
		return taskbus.ErrInvalidState
	}

	now := time.Now().UTC()
	j.State = to
	j.UpdatedAt = now
	if to.Terminal() {
		j.CompletedAt = &now
	}
	if to == job.StatePending {
		// Resumed jobs go back through a fresh claim.
		j.WorkerID = id.WorkerID{}
		j.StartedAt = nil
	}
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return taskbus.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns jobs matching the filter, ordered by priority DESC
// then CreatedAt ASC.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.State != "" && j.State != f.State {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].Priority != result[k].Priority {
			return result[i].Priority > result[k].Priority
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the filter.
func (m *Store) CountJobs(_ context.Context, f job.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if f.State != "" && j.State != f.State {
			continue
		}
		if f.Type != "" && j.Type != f.Type {
			continue
		}
		count++
	}
	return count, nil
}

// PruneTerminalJobs deletes jobs in a terminal state that finished
// before the cutoff.
func (m *Store) PruneTerminalJobs(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, j := range m.jobs {
		if !j.State.Terminal() {
			continue
		}
		finished := j.UpdatedAt
		if j.CompletedAt != nil {
			finished = *j.CompletedAt
		}
		if finished.Before(before) {
			delete(m.jobs, key)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Event Log
// ──────────────────────────────────────────────────

// AppendEvent appends an event to its channel's sequence.
func (m *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events = append(m.events, &cp)
	return nil
}

// ReplayEvents returns the events on a channel strictly after since, in
// append order.
func (m *Store) ReplayEvents(_ context.Context, channel string, since time.Time, limit int) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*event.Event
	for _, evt := range m.events {
		if evt.Channel != channel {
			continue
		}
		if !evt.CreatedAt.After(since) {
			continue
		}
		cp := *evt
		result = append(result, &cp)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// PruneEvents deletes events older than the cutoff across all channels.
func (m *Store) PruneEvents(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var count int64
	for _, evt := range m.events {
		if evt.CreatedAt.Before(before) {
			count++
			continue
		}
		kept = append(kept, evt)
	}
	m.events = kept
	return count, nil
}
