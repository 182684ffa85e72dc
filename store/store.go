// Package store defines the aggregate persistence interface. The job
// subsystem and the event log each define their own store interface; the
// composite Store composes both. Backends: Postgres, SQLite, and Memory.
package store

import (
	"context"

	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/job"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, sqlite, memory) implements every subsystem store plus the
// lifecycle methods.
type Store interface {
	job.Store
	event.Log

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Compact reclaims space freed by pruned rows. Backends without an
	// explicit compaction step implement it as a no-op.
	Compact(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
