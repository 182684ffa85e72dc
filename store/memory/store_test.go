package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Compact", func() error { return s.Compact(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Job Store tests
// ──────────────────────────────────────────────────

func newJob(jobType string, state job.State, priority int) *job.Job {
	return &job.Job{
		Entity:   taskbus.NewEntity(),
		ID:       id.NewJobID(),
		Type:     jobType,
		Payload:  []byte(`{"test":true}`),
		State:    state,
		Priority: priority,
	}
}

func TestJobEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("test-job", job.StatePending, 0)

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{
			name:    "enqueue new job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: nil,
		},
		{
			name:    "enqueue duplicate job",
			fn:      func() error { return s.EnqueueJob(ctx, j) },
			wantErr: taskbus.ErrJobAlreadyExists,
		},
		{
			name: "get existing job",
			fn: func() error {
				got, err := s.GetJob(ctx, j.ID)
				if err != nil {
					return err
				}
				if got.Type != "test-job" {
					t.Errorf("Type = %q, want %q", got.Type, "test-job")
				}
				return nil
			},
			wantErr: nil,
		},
		{
			name: "get missing job",
			fn: func() error {
				_, err := s.GetJob(ctx, id.NewJobID())
				return err
			},
			wantErr: taskbus.ErrJobNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnqueueStoresCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("copy-check", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Mutating the caller's struct must not affect the stored job.
	j.State = job.StateFailed

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StatePending {
		t.Fatalf("stored state mutated through caller pointer: %v", got.State)
	}
}

func TestClaimJobPriorityOrder(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	low := newJob("low", job.StatePending, 1)
	low.CreatedAt = time.Now().UTC().Add(-3 * time.Second)
	high := newJob("high", job.StatePending, 10)
	high.CreatedAt = time.Now().UTC().Add(-time.Second)
	oldLow := newJob("old-low", job.StatePending, 1)
	oldLow.CreatedAt = time.Now().UTC().Add(-5 * time.Second)

	for _, j := range []*job.Job{low, high, oldLow} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	worker := id.NewWorkerID()

	// Highest priority first, then oldest within equal priority.
	wantOrder := []string{"high", "old-low", "low"}
	for i, want := range wantOrder {
		got, err := s.ClaimJob(ctx, worker)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if got == nil {
			t.Fatalf("claim %d: got nil, want %q", i, want)
		}
		if got.Type != want {
			t.Errorf("claim %d = %q, want %q", i, got.Type, want)
		}
		if got.State != job.StateRunning {
			t.Errorf("claim %d state = %v, want running", i, got.State)
		}
		if got.StartedAt == nil {
			t.Errorf("claim %d StartedAt not set", i)
		}
		if got.WorkerID != worker {
			t.Errorf("claim %d WorkerID = %v, want %v", i, got.WorkerID, worker)
		}
	}

	// Queue drained.
	got, err := s.ClaimJob(ctx, worker)
	if err != nil {
		t.Fatalf("claim on empty queue: %v", err)
	}
	if got != nil {
		t.Fatalf("claim on empty queue = %v, want nil", got)
	}
}

func TestClaimJobExclusive(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	const jobs = 50
	for i := range jobs {
		j := newJob("race", job.StatePending, i%5)
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Many goroutines claim concurrently; every job must be claimed
	// exactly once.
	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				j, err := s.ClaimJob(ctx, worker)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for jid, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", jid, n)
		}
	}
}

func TestUpdateJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("update-me", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	j.State = job.StateCompleted
	j.Result = []byte(`{"ok":true}`)
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("state = %v, want completed", got.State)
	}
	if string(got.Result) != `{"ok":true}` {
		t.Errorf("result = %s", got.Result)
	}

	missing := newJob("ghost", job.StatePending, 0)
	if err := s.UpdateJob(ctx, missing); !errors.Is(err, taskbus.ErrJobNotFound) {
		t.Fatalf("update missing = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateProgress(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("progress", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.ClaimJob(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	tests := []struct {
		name string
		pct  int
		want int
	}{
		{"initial", 10, 10},
		{"advance", 60, 60},
		{"regress ignored", 30, 60},
		{"clamp above 100", 150, 100},
		{"clamp below 0 ignored", -5, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.UpdateProgress(ctx, j.ID, tt.pct); err != nil {
				t.Fatalf("UpdateProgress(%d): %v", tt.pct, err)
			}
			got, err := s.GetJob(ctx, j.ID)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Progress != tt.want {
				t.Fatalf("progress = %d, want %d", got.Progress, tt.want)
			}
		})
	}
}

func TestUpdateProgressIgnoredWhenNotRunning(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("parked", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := s.UpdateProgress(ctx, j.ID, 50); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Progress != 0 {
		t.Fatalf("progress = %d, want 0 for non-running job", got.Progress)
	}

	if err := s.UpdateProgress(ctx, id.NewJobID(), 50); !errors.Is(err, taskbus.ErrJobNotFound) {
		t.Fatalf("UpdateProgress missing = %v, want ErrJobNotFound", err)
	}
}

func TestTransitionState(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("transition", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// CAS with the wrong from state must fail and leave the job untouched.
	err := s.TransitionState(ctx, j.ID, job.StateRunning, job.StateCompleted)
	if !errors.Is(err, taskbus.ErrInvalidState) {
		t.Fatalf("wrong-from transition = %v, want ErrInvalidState", err)
	}

	if err := s.TransitionState(ctx, j.ID, job.StatePending, job.StateCancelled); err != nil {
		t.Fatalf("transition: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %v, want cancelled", got.State)
	}
	if got.CompletedAt == nil {
		t.Errorf("CompletedAt not stamped on terminal transition")
	}

	if err := s.TransitionState(ctx, id.NewJobID(), job.StatePending, job.StateCancelled); !errors.Is(err, taskbus.ErrJobNotFound) {
		t.Fatalf("transition missing = %v, want ErrJobNotFound", err)
	}
}

func TestTransitionStateResumeClearsWorker(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("resume", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.TransitionState(ctx, j.ID, job.StatePending, job.StatePaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := s.TransitionState(ctx, j.ID, job.StatePaused, job.StatePending); err != nil {
		t.Fatalf("resume: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.WorkerID.IsNil() {
		t.Errorf("WorkerID = %v, want cleared", got.WorkerID)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want cleared", got.StartedAt)
	}

	// A resumed job is claimable again.
	claimed, err := s.ClaimJob(ctx, id.NewWorkerID())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != j.ID {
		t.Fatalf("claim after resume = %v, want job %v", claimed, j.ID)
	}
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := newJob("delete-me", job.StatePending, 0)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, taskbus.ErrJobNotFound) {
		t.Fatalf("get deleted = %v, want ErrJobNotFound", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, taskbus.ErrJobNotFound) {
		t.Fatalf("delete twice = %v, want ErrJobNotFound", err)
	}
}

func TestListAndCountJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	seed := []*job.Job{
		newJob("email", job.StatePending, 5),
		newJob("email", job.StateCompleted, 0),
		newJob("report", job.StatePending, 1),
		newJob("report", job.StateFailed, 0),
	}
	for _, j := range seed {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter job.Filter
		want   int
	}{
		{"all", job.Filter{}, 4},
		{"by state", job.Filter{State: job.StatePending}, 2},
		{"by type", job.Filter{Type: "email"}, 2},
		{"by state and type", job.Filter{State: job.StatePending, Type: "report"}, 1},
		{"limit", job.Filter{Limit: 3}, 3},
		{"no match", job.Filter{Type: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("list len = %d, want %d", len(got), tt.want)
			}

			// Count ignores Limit.
			if tt.filter.Limit == 0 {
				n, err := s.CountJobs(ctx, tt.filter)
				if err != nil {
					t.Fatalf("count: %v", err)
				}
				if n != int64(tt.want) {
					t.Fatalf("count = %d, want %d", n, tt.want)
				}
			}
		})
	}

	// Ordering: priority DESC, CreatedAt ASC.
	all, err := s.ListJobs(ctx, job.Filter{State: job.StatePending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if all[0].Priority != 5 || all[1].Priority != 1 {
		t.Fatalf("list not priority-ordered: %d then %d", all[0].Priority, all[1].Priority)
	}
}

func TestPruneTerminalJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)

	oldDone := newJob("old-done", job.StateCompleted, 0)
	oldDone.CompletedAt = &old
	oldFailed := newJob("old-failed", job.StateFailed, 0)
	oldFailed.CompletedAt = &old
	freshDone := newJob("fresh-done", job.StateCompleted, 0)
	now := time.Now().UTC()
	freshDone.CompletedAt = &now
	oldPending := newJob("old-pending", job.StatePending, 0)
	oldPending.CreatedAt = old
	oldPending.UpdatedAt = old

	for _, j := range []*job.Job{oldDone, oldFailed, freshDone, oldPending} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	pruned, err := s.PruneTerminalJobs(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("pruned = %d, want 2", pruned)
	}

	// Fresh terminal and non-terminal jobs survive.
	if _, err := s.GetJob(ctx, freshDone.ID); err != nil {
		t.Errorf("fresh terminal job pruned: %v", err)
	}
	if _, err := s.GetJob(ctx, oldPending.ID); err != nil {
		t.Errorf("pending job pruned: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Event Log tests
// ──────────────────────────────────────────────────

func newEvent(channel string, at time.Time) *event.Event {
	evt := event.New(channel, []byte(`{"n":1}`))
	evt.CreatedAt = at
	return evt
}

func TestAppendAndReplayEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i := range 5 {
		evt := newEvent("orders", base.Add(time.Duration(i)*time.Second))
		if err := s.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.AppendEvent(ctx, newEvent("other", base)); err != nil {
		t.Fatalf("append: %v", err)
	}

	tests := []struct {
		name  string
		since time.Time
		limit int
		want  int
	}{
		{"all", base.Add(-time.Second), 0, 5},
		{"since is exclusive", base, 0, 4},
		{"mid-stream", base.Add(2 * time.Second), 0, 2},
		{"limit", base.Add(-time.Second), 3, 3},
		{"nothing newer", base.Add(time.Hour), 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ReplayEvents(ctx, "orders", tt.since, tt.limit)
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("replay len = %d, want %d", len(got), tt.want)
			}
			// Append order.
			for i := 1; i < len(got); i++ {
				if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
					t.Fatalf("replay out of order at %d", i)
				}
			}
		})
	}

	// Channel isolation.
	other, err := s.ReplayEvents(ctx, "other", base.Add(-time.Second), 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(other) != 1 {
		t.Fatalf("other channel len = %d, want 1", len(other))
	}
}

func TestPruneEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	fresh := time.Now().UTC()

	for range 3 {
		if err := s.AppendEvent(ctx, newEvent("orders", old)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.AppendEvent(ctx, newEvent("orders", fresh)); err != nil {
		t.Fatalf("append: %v", err)
	}

	pruned, err := s.PruneEvents(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("pruned = %d, want 3", pruned)
	}

	left, err := s.ReplayEvents(ctx, "orders", time.Time{}.Add(time.Second), 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(left) != 1 {
		t.Fatalf("events left = %d, want 1", len(left))
	}
}
