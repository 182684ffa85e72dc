// Package event provides the notification side of taskbus: an immutable
// [Event] record, the append-only [Log] contract, and a publish/subscribe
// [Bus] with two interchangeable backends: [LocalBus] for in-process
// fan-out and [RedisBus] for multi-node deployments over Redis Streams.
package event

import (
	"time"

	"github.com/ledgerline/taskbus/id"
)

// Event is a notification published on a named channel. Events are
// immutable once written; ordering within a channel is the append order
// of the log.
type Event struct {
	ID        id.EventID `json:"id"`
	Channel   string     `json:"channel"`
	Payload   []byte     `json:"payload,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// New returns an event for the given channel stamped with the current
// UTC time.
func New(channel string, payload []byte) *Event {
	return &Event{
		ID:        id.NewEventID(),
		Channel:   channel,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
