package event

import (
	"context"
	"time"
)

// Handler receives events delivered to a subscription.
// Handlers must not block for long: the local backend delivers
// synchronously with respect to publish.
type Handler func(ctx context.Context, evt *Event)

// Bus is the publish/subscribe contract. Two interchangeable backends
// implement it: LocalBus for in-process fan-out over a durable Log, and
// RedisBus for multi-node delivery over Redis Streams. The backend is
// chosen at construction time; call sites never branch on deployment
// mode.
//
// Delivery guarantees: within one channel, live subscribers observe
// events in publish order; no cross-channel ordering exists. Delivery to
// live subscribers is best-effort at-most-once; a subscriber that was
// not listening at publish time catches up through Replay, which is the
// at-least-once path.
type Bus interface {
	// Publish appends an event to the channel and fans it out to live
	// subscribers. Broker unavailability in the distributed backend is
	// degraded to a logged warning, never an error: event delivery is
	// secondary to the mutation that triggered it. Only local storage
	// failures are returned.
	Publish(ctx context.Context, channel string, payload []byte) (*Event, error)

	// Subscribe registers a handler for a channel and returns a
	// function that cancels exactly this subscription.
	Subscribe(channel string, h Handler) (unsubscribe func())

	// Unsubscribe removes every subscription on the channel.
	Unsubscribe(channel string)

	// Replay returns historical events on the channel with a timestamp
	// strictly after since, in publish order. A limit <= 0 means no
	// limit.
	Replay(ctx context.Context, channel string, since time.Time, limit int) ([]*Event, error)

	// Close releases bus resources and stops delivery goroutines.
	Close() error
}
