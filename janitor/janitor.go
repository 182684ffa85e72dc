// Package janitor sweeps expired jobs and events out of the store on a
// fixed interval so long-running deployments do not accumulate terminal
// records without bound.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerline/taskbus/store"
)

// Pruner removes event records older than a cutoff. event.Log satisfies
// it; so does event.RedisBus, which lets distributed deployments trim
// broker streams on the same sweep.
type Pruner interface {
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}

// Janitor periodically prunes terminal jobs and old events, then
// compacts the store. Non-terminal jobs are never touched, so sweeps
// are safe to run concurrently with live traffic.
type Janitor struct {
	store          store.Store
	interval       time.Duration
	jobRetention   time.Duration
	eventRetention time.Duration
	logger         *slog.Logger

	// Extra pruners swept alongside the store's own event log.
	pruners []Pruner

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithInterval sets the time between sweeps. Defaults to one minute.
func WithInterval(d time.Duration) Option {
	return func(j *Janitor) { j.interval = d }
}

// WithJobRetention sets how long terminal jobs are kept. Zero prunes
// every terminal job on each sweep; a negative value disables job
// pruning.
func WithJobRetention(d time.Duration) Option {
	return func(j *Janitor) { j.jobRetention = d }
}

// WithEventRetention sets how long events are kept. Zero prunes every
// event on each sweep; a negative value disables event pruning.
func WithEventRetention(d time.Duration) Option {
	return func(j *Janitor) { j.eventRetention = d }
}

// WithPruner registers an additional event pruner swept with the
// configured event retention.
func WithPruner(p Pruner) Option {
	return func(j *Janitor) { j.pruners = append(j.pruners, p) }
}

// New creates a Janitor over the given store.
func New(s store.Store, logger *slog.Logger, opts ...Option) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Janitor{
		store:    s,
		interval: time.Minute,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the sweep goroutine. Calling Start on a running
// Janitor is a no-op.
func (j *Janitor) Start(_ context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	j.running = true

	j.logger.Info("janitor starting",
		slog.Duration("interval", j.interval),
		slog.Duration("job_retention", j.jobRetention),
		slog.Duration("event_retention", j.eventRetention),
	)

	j.wg.Add(1)
	go j.sweepLoop()

	return nil
}

// Stop halts the sweep goroutine and waits for an in-flight sweep to
// finish.
func (j *Janitor) Stop(_ context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = false
	j.mu.Unlock()

	close(j.stopCh)
	j.wg.Wait()
	return nil
}

func (j *Janitor) sweepLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ticker.C:
			j.Sweep(context.Background())
		}
	}
}

// Sweep runs a single maintenance pass: prune terminal jobs past the
// job retention, prune events past the event retention, then compact
// the store. A zero retention prunes everything eligible on this pass;
// a negative retention skips that pruning stage.
func (j *Janitor) Sweep(ctx context.Context) {
	now := time.Now()

	if j.jobRetention >= 0 {
		n, err := j.store.PruneTerminalJobs(ctx, now.Add(-j.jobRetention))
		if err != nil {
			j.logger.Error("job prune failed", slog.String("error", err.Error()))
		} else if n > 0 {
			j.logger.Info("pruned terminal jobs", slog.Int64("count", n))
		}
	}

	if j.eventRetention >= 0 {
		cutoff := now.Add(-j.eventRetention)
		for _, p := range append([]Pruner{j.store}, j.pruners...) {
			n, err := p.PruneEvents(ctx, cutoff)
			if err != nil {
				j.logger.Error("event prune failed", slog.String("error", err.Error()))
			} else if n > 0 {
				j.logger.Info("pruned events", slog.Int64("count", n))
			}
		}
	}

	if err := j.store.Compact(ctx); err != nil {
		j.logger.Error("store compaction failed", slog.String("error", err.Error()))
	}
}
