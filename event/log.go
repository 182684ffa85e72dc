package event

import (
	"context"
	"time"
)

// Log defines the persistence contract for the durable event log: an
// append-only sequence per channel, queryable by time range. Any ordered,
// indexed persistent structure satisfies it.
type Log interface {
	// AppendEvent durably appends an event to its channel's sequence.
	AppendEvent(ctx context.Context, evt *Event) error

	// ReplayEvents returns the events on a channel with a timestamp
	// strictly after since, in append order. A limit <= 0 means no
	// limit.
	ReplayEvents(ctx context.Context, channel string, since time.Time, limit int) ([]*Event, error)

	// PruneEvents deletes events older than the cutoff across all
	// channels. Returns the number of entries removed.
	PruneEvents(ctx context.Context, before time.Time) (int64, error)
}
