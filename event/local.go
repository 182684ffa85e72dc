package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time interface check.
var _ Bus = (*LocalBus)(nil)

// LocalBus is the in-process Bus backend. Every publish is appended to
// the durable Log first (the replay source), then fanned out
// synchronously to all live subscribers on the channel. Subscriber
// panics are isolated: one misbehaving handler never affects the
// publisher or its peers.
type LocalBus struct {
	log    Log
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[string]Handler // channel → token → handler

	// Per-channel publish locks, held across the log append and the
	// fan-out so live delivery order always matches log order.
	lockMu   sync.Mutex
	pubLocks map[string]*sync.Mutex
}

// LocalOption configures a LocalBus.
type LocalOption func(*LocalBus)

// WithLocalLogger sets the structured logger for the bus.
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(b *LocalBus) { b.logger = logger }
}

// NewLocalBus creates an in-process bus over the given event log.
func NewLocalBus(log Log, opts ...LocalOption) *LocalBus {
	b := &LocalBus{
		log:      log,
		logger:   slog.Default(),
		subs:     make(map[string]map[string]Handler),
		pubLocks: make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends the event to the log and delivers it to live
// subscribers on the channel. The append happens before any delivery so
// Replay can never miss an event a live subscriber saw. Publishes to
// one channel are serialized so subscribers observe events in log
// order; handlers must not publish back to their own channel.
func (b *LocalBus) Publish(ctx context.Context, channel string, payload []byte) (*Event, error) {
	lock := b.channelLock(channel)
	lock.Lock()
	defer lock.Unlock()

	evt := New(channel, payload)

	if err := b.log.AppendEvent(ctx, evt); err != nil {
		return nil, err
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[channel]))
	for _, h := range b.subs[channel] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(ctx, h, evt)
	}

	return evt, nil
}

func (b *LocalBus) channelLock(channel string) *sync.Mutex {
	b.lockMu.Lock()
	defer b.lockMu.Unlock()
	lock, ok := b.pubLocks[channel]
	if !ok {
		lock = &sync.Mutex{}
		b.pubLocks[channel] = lock
	}
	return lock
}

// deliver invokes one handler with panic isolation.
func (b *LocalBus) deliver(ctx context.Context, h Handler, evt *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event subscriber panicked",
				slog.String("channel", evt.Channel),
				slog.String("event_id", evt.ID.String()),
				slog.Any("panic", r),
			)
		}
	}()
	h(ctx, evt)
}

// Subscribe registers a handler on the channel. The returned function
// removes exactly this subscription and is safe to call more than once.
func (b *LocalBus) Subscribe(channel string, h Handler) func() {
	token := uuid.NewString()

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[string]Handler)
	}
	b.subs[channel][token] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if handlers, ok := b.subs[channel]; ok {
				delete(handlers, token)
				if len(handlers) == 0 {
					delete(b.subs, channel)
				}
			}
		})
	}
}

// Unsubscribe removes every subscription on the channel.
func (b *LocalBus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, channel)
}

// Replay reads historical events from the log.
func (b *LocalBus) Replay(ctx context.Context, channel string, since time.Time, limit int) ([]*Event, error) {
	return b.log.ReplayEvents(ctx, channel, since, limit)
}

// Close drops all subscriptions. The underlying log is owned by the
// caller and stays open.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[string]Handler)
	return nil
}
