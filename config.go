package taskbus

import "time"

// Config holds runtime configuration for the engine.
type Config struct {
	// Concurrency is the number of concurrent dispatch loops.
	// The claim step is exclusive, so any value >= 1 is safe.
	Concurrency int

	// PollInterval is how often an idle dispatch loop checks for work
	// when no wake signal arrives.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown before their contexts are cancelled.
	ShutdownTimeout time.Duration

	// JobRetention is how long terminal job records are kept before the
	// maintenance sweep removes them.
	JobRetention time.Duration

	// EventRetention is how long event log entries are kept.
	EventRetention time.Duration

	// SweepInterval is how often the maintenance sweep runs. Zero
	// disables the sweep.
	SweepInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     1,
		PollInterval:    time.Second,
		ShutdownTimeout: 30 * time.Second,
		JobRetention:    7 * 24 * time.Hour,
		EventRetention:  7 * 24 * time.Hour,
		SweepInterval:   time.Hour,
	}
}
