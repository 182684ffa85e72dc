package client_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/api"
	"github.com/ledgerline/taskbus/client"
	"github.com/ledgerline/taskbus/engine"
	"github.com/ledgerline/taskbus/job"
	"github.com/ledgerline/taskbus/store/memory"
)

func newTestClient(t *testing.T) *client.Client {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	eng, err := engine.New(memory.New(),
		engine.WithLogger(logger),
		engine.WithConfig(taskbus.Config{
			Concurrency:  1,
			PollInterval: 10 * time.Millisecond,
		}),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(srv.Close)
	return client.New(srv.URL, client.WithLogger(logger))
}

func TestClient_EnqueueAndGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	type invoicePayload struct {
		Invoice string `json:"invoice"`
	}
	j, err := c.Enqueue(ctx, "send-invoice", invoicePayload{Invoice: "inv-1"},
		client.WithPriority(3))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if j.Type != "send-invoice" {
		t.Errorf("type = %q", j.Type)
	}
	if j.Priority != 3 {
		t.Errorf("priority = %d, want 3", j.Priority)
	}
	if j.State != job.StatePending {
		t.Errorf("state = %q, want pending", j.State)
	}

	got, err := c.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("round-tripped id = %v, want %v", got.ID, j.ID)
	}
}

func TestClient_GetJobNotFound(t *testing.T) {
	c := newTestClient(t)

	missing := job.New("ghost", nil)
	if _, err := c.GetJob(context.Background(), missing.ID); !errors.Is(err, taskbus.ErrJobNotFound) {
		t.Fatalf("error = %v, want ErrJobNotFound", err)
	}
}

func TestClient_ListAndCounts(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for range 3 {
		if _, err := c.EnqueueRaw(ctx, "bulk", nil); err != nil {
			t.Fatalf("EnqueueRaw: %v", err)
		}
	}

	jobs, err := c.ListJobs(ctx, job.Filter{Type: "bulk", Limit: 2})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	counts, err := c.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Pending != 3 {
		t.Errorf("pending = %d, want 3", counts.Pending)
	}
}

func TestClient_LifecycleOperations(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	j, err := c.EnqueueRaw(ctx, "managed", nil)
	if err != nil {
		t.Fatalf("EnqueueRaw: %v", err)
	}

	if err := c.PauseJob(ctx, j.ID); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if err := c.ResumeJob(ctx, j.ID); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if err := c.CancelJob(ctx, j.ID); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}

	// The job is terminal now; a second cancel maps back to
	// ErrInvalidState.
	if err := c.CancelJob(ctx, j.ID); !errors.Is(err, taskbus.ErrInvalidState) {
		t.Fatalf("second cancel error = %v, want ErrInvalidState", err)
	}
}

func TestClient_PublishAndReplay(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	first, err := c.Publish(ctx, "orders", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if _, err := c.Publish(ctx, "orders", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	all, err := c.Replay(ctx, "orders", time.Time{}, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("replayed %d events, want 2", len(all))
	}

	later, err := c.Replay(ctx, "orders", first.CreatedAt, 0)
	if err != nil {
		t.Fatalf("Replay since: %v", err)
	}
	if len(later) != 1 {
		t.Fatalf("replayed %d events after since, want 1", len(later))
	}
}

func TestClient_Health(t *testing.T) {
	c := newTestClient(t)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
