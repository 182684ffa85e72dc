package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ledgerline/taskbus/ext"
	"github.com/ledgerline/taskbus/id"
	"github.com/ledgerline/taskbus/job"
)

// Throttle controls per-job-type rate limiting and concurrency. The
// pool calls Acquire before executing a claimed job and Release after
// execution completes.
type Throttle interface {
	// Acquire checks rate limits and concurrency for the job type.
	// Returns true if the job is allowed to proceed.
	Acquire(jobType string) bool
	// Release decrements the active count for the job type.
	Release(jobType string)
}

// Pool manages a set of concurrent claim loops that pull pending jobs
// from the store and execute them through the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Throttle manager (optional).
	throttle Throttle

	// notify wakes idle claim loops when a job is enqueued or resumed,
	// so dispatch latency isn't bounded by the poll interval.
	notify chan struct{}

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	active   map[string]*Signal
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent claim loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often idle loops poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithThrottle sets the throttle manager for rate limiting and
// per-type concurrency control.
func WithThrottle(t Throttle) PoolOption {
	return func(p *Pool) { p.throttle = t }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  1,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		notify:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		active:       make(map[string]*Signal),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Notify wakes one idle claim loop. Non-blocking; a pending wake
// coalesces with later ones.
func (p *Pool) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Interrupt cancels the context of a running job and records the reason
// (job.StateCancelled or job.StatePaused). Returns false when the job is
// not currently executing in this pool.
func (p *Pool) Interrupt(jobID id.JobID, reason job.State) bool {
	p.activeMu.Lock()
	sig, ok := p.active[jobID.String()]
	p.activeMu.Unlock()

	if !ok {
		return false
	}
	sig.Interrupt(reason)
	return true
}

// ActiveCount returns the number of jobs currently executing.
func (p *Pool) ActiveCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

// Start launches the claim loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	return nil
}

// Stop signals all claim loops to stop and waits for them to finish.
// If the context has a deadline, active jobs are cancelled when time
// runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each pool goroutine: claim, execute, claim again.
// An idle loop parks on the poll ticker or a Notify wake.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.ClaimJob(context.Background(), p.workerID)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		if j == nil {
			p.sleep()
			continue
		}

		// Check per-type rate limit and concurrency.
		if p.throttle != nil && !p.throttle.Acquire(j.Type) {
			// Throttled: put the claim back and let another type
			// (or a later tick) go first.
			if tErr := p.store.TransitionState(context.Background(), j.ID, job.StateRunning, job.StatePending); tErr != nil {
				p.logger.Error("failed to return throttled job",
					slog.String("job_id", j.ID.String()),
					slog.String("error", tErr.Error()),
				)
			}
			p.sleep()
			continue
		}

		p.extensions.EmitJobStarted(context.Background(), j)

		ctx, cancel := context.WithCancel(context.Background())
		sig := NewSignal(cancel)
		p.trackJob(j.ID.String(), sig)

		execErr := p.executor.Execute(ctx, j, sig)
		if execErr != nil {
			p.logger.Debug("job execution failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_type", j.Type),
				slog.String("error", execErr.Error()),
			)
		}

		p.untrackJob(j.ID.String())
		cancel()

		if p.throttle != nil {
			p.throttle.Release(j.Type)
		}
	}
}

// sleep parks an idle loop until the poll interval elapses, a wake
// signal arrives, or the pool stops.
func (p *Pool) sleep() {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-p.notify:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, sig *Signal) {
	p.activeMu.Lock()
	p.active[jobID] = sig
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, sig := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		sig.Interrupt(job.StateCancelled)
	}
}
