package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/engine"
	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/job"
	"github.com/ledgerline/taskbus/store/memory"
)

// ──────────────────────────────────────────────────
// Test payloads
// ──────────────────────────────────────────────────

type reportRequest struct {
	Rows int `json:"rows"`
}

type reportResult struct {
	Checksum string `json:"checksum"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()

	opts = append([]engine.Option{
		engine.WithLogger(testLogger()),
		engine.WithConfig(taskbus.Config{
			Concurrency:     2,
			PollInterval:    10 * time.Millisecond,
			ShutdownTimeout: 3 * time.Second,
		}),
	}, opts...)

	eng, err := engine.New(s, opts...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, s
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Register → Enqueue → Process
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterEnqueueProcess(t *testing.T) {
	eng, s := newTestEngine(t)

	var processed atomic.Bool
	var gotRows atomic.Int64
	engine.Register(eng, job.NewDefinition("build-report",
		func(_ context.Context, p reportRequest, _ job.ProgressFunc) (reportResult, error) {
			gotRows.Store(int64(p.Rows))
			processed.Store(true)
			return reportResult{Checksum: "abc123"}, nil
		}))

	j, err := engine.Enqueue(context.Background(), eng, "build-report", reportRequest{Rows: 42})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != "build-report" {
		t.Errorf("job.Type = %q, want %q", j.Type, "build-report")
	}
	if j.State != job.StatePending {
		t.Errorf("job.State = %q, want %q", j.State, job.StatePending)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, processed.Load, "timed out waiting for job to be processed")

	if gotRows.Load() != 42 {
		t.Errorf("payload.Rows = %d, want 42", gotRows.Load())
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted {
		t.Errorf("job.State = %q, want %q", got.State, job.StateCompleted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Terminal transitions are relayed onto the bus
// ──────────────────────────────────────────────────

func TestEngine_TerminalTransitionPublishedToBus(t *testing.T) {
	eng, _ := newTestEngine(t)

	engine.Register(eng, job.NewDefinition("noop",
		func(context.Context, struct{}, job.ProgressFunc) (struct{}, error) {
			return struct{}{}, nil
		}))

	var sawCompleted atomic.Bool
	unsub := eng.Subscribe("jobs.completed", func(_ context.Context, evt *event.Event) {
		if evt.Channel == "jobs.completed" {
			sawCompleted.Store(true)
		}
	})
	defer unsub()

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background()) //nolint:errcheck

	if _, err := engine.Enqueue(context.Background(), eng, "noop", struct{}{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, sawCompleted.Load, "no completion event arrived on the bus")
}

// ──────────────────────────────────────────────────
// Publish / Subscribe / Replay
// ──────────────────────────────────────────────────

func TestEngine_PublishSubscribeReplay(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var delivered atomic.Int64
	unsub := eng.Subscribe("orders", func(context.Context, *event.Event) {
		delivered.Add(1)
	})

	first, err := eng.Publish(ctx, "orders", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := eng.Publish(ctx, "orders", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if delivered.Load() != 2 {
		t.Fatalf("delivered %d events, want 2", delivered.Load())
	}

	unsub()
	if _, err := eng.Publish(ctx, "orders", []byte(`{"n":3}`)); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
	if delivered.Load() != 2 {
		t.Fatalf("delivered %d events after unsubscribe, want 2", delivered.Load())
	}

	// Replay strictly after the first event returns the later two, even
	// though nobody was subscribed for the third.
	events, err := eng.Replay(ctx, "orders", first.CreatedAt, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("replayed %d events, want 2", len(events))
	}
}

// ──────────────────────────────────────────────────
// Cancel / Pause / Resume
// ──────────────────────────────────────────────────

func TestEngine_CancelPendingJob(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	j, err := eng.EnqueueRaw(ctx, "never-runs", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if err := eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCancelled {
		t.Errorf("state = %q, want %q", got.State, job.StateCancelled)
	}

	// A second cancel is invalid: the job is already terminal.
	if err := eng.Cancel(ctx, j.ID); !errors.Is(err, taskbus.ErrInvalidState) {
		t.Errorf("second Cancel error = %v, want ErrInvalidState", err)
	}
}

func TestEngine_CancelRunningJob(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	started := make(chan struct{})
	engine.Register(eng, job.NewDefinition("long",
		func(hctx context.Context, _ struct{}, _ job.ProgressFunc) (struct{}, error) {
			close(started)
			<-hctx.Done()
			return struct{}{}, hctx.Err()
		}))

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background()) //nolint:errcheck

	j, err := engine.Enqueue(ctx, eng, "long", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	<-started
	if err := eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	waitFor(t, func() bool {
		got, gerr := s.GetJob(ctx, j.ID)
		return gerr == nil && got.State == job.StateCancelled
	}, "running job never reached cancelled")
}

func TestEngine_PauseResumeLifecycle(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	var runs atomic.Int64
	engine.Register(eng, job.NewDefinition("resumable",
		func(context.Context, struct{}, job.ProgressFunc) (struct{}, error) {
			runs.Add(1)
			return struct{}{}, nil
		}))

	// Pause before the pool is running, so the job cannot be claimed.
	j, err := engine.Enqueue(ctx, eng, "resumable", struct{}{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := eng.Pause(ctx, j.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePaused {
		t.Fatalf("state = %q, want %q", got.State, job.StatePaused)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop(context.Background()) //nolint:errcheck

	// Paused jobs stay parked even with the pool live.
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != 0 {
		t.Fatal("paused job was dispatched")
	}

	if err := eng.Resume(ctx, j.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	waitFor(t, func() bool { return runs.Load() == 1 }, "resumed job never ran")
}

func TestEngine_ResumeRequiresPausedState(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	j, err := eng.EnqueueRaw(ctx, "plain", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if err := eng.Resume(ctx, j.ID); !errors.Is(err, taskbus.ErrInvalidState) {
		t.Errorf("Resume on pending job error = %v, want ErrInvalidState", err)
	}
}

// ──────────────────────────────────────────────────
// Counts and listing
// ──────────────────────────────────────────────────

func TestEngine_Counts(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for range 3 {
		if _, err := eng.EnqueueRaw(ctx, "bulk", nil); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}
	j, err := eng.EnqueueRaw(ctx, "bulk", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}
	if err := eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	counts, err := eng.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[job.StatePending] != 3 {
		t.Errorf("pending = %d, want 3", counts[job.StatePending])
	}
	if counts[job.StateCancelled] != 1 {
		t.Errorf("cancelled = %d, want 1", counts[job.StateCancelled])
	}
	if counts[job.StateRunning] != 0 {
		t.Errorf("running = %d, want 0", counts[job.StateRunning])
	}
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestEngine_NewRequiresStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, taskbus.ErrNoStore) {
		t.Fatalf("error = %v, want ErrNoStore", err)
	}
}
