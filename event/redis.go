package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ledgerline/taskbus/id"
)

// Compile-time interface check.
var _ Bus = (*RedisBus)(nil)

// streamKey returns the Redis Stream key for a channel: taskbus:events:{channel}
func streamKey(channel string) string { return "taskbus:events:" + channel }

// RedisBus is the distributed Bus backend. Each channel maps to one Redis
// Stream, so independently deployed processes all observe the same
// events in stream order. Stream entry IDs are millisecond timestamps,
// which is what Replay ranges over.
//
// The broker being unreachable is never surfaced to publishers: the
// publish degrades to a logged warning, because event delivery is
// secondary to the data mutation that triggered it.
type RedisBus struct {
	client *goredis.Client
	logger *slog.Logger

	// publishTimeout bounds the network wait on publish.
	publishTimeout time.Duration
	// readBlock is the XREAD blocking window per poll.
	readBlock time.Duration

	mu       sync.Mutex
	subs     map[string]map[string]context.CancelFunc // channel → token → cancel
	channels map[string]struct{}                      // channels seen, for pruning

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisOption configures a RedisBus.
type RedisOption func(*RedisBus)

// WithRedisLogger sets the structured logger for the bus.
func WithRedisLogger(logger *slog.Logger) RedisOption {
	return func(b *RedisBus) { b.logger = logger }
}

// WithPublishTimeout bounds how long a publish may wait on the broker.
func WithPublishTimeout(d time.Duration) RedisOption {
	return func(b *RedisBus) { b.publishTimeout = d }
}

// NewRedisBus creates a distributed bus over the given Redis client.
// The caller owns the client lifecycle; Close never closes it.
func NewRedisBus(client *goredis.Client, opts ...RedisOption) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RedisBus{
		client:         client,
		logger:         slog.Default(),
		publishTimeout: 5 * time.Second,
		readBlock:      time.Second,
		subs:           make(map[string]map[string]context.CancelFunc),
		channels:       make(map[string]struct{}),
		rootCtx:        ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish appends the event to the channel's stream. On broker failure
// the event is returned anyway with a logged warning: best-effort.
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) (*Event, error) {
	evt := New(channel, payload)

	b.mu.Lock()
	b.channels[channel] = struct{}{}
	b.mu.Unlock()

	pubCtx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	err := b.client.XAdd(pubCtx, &goredis.XAddArgs{
		Stream: streamKey(channel),
		Values: map[string]interface{}{
			"id":         evt.ID.String(),
			"payload":    string(evt.Payload),
			"created_at": evt.CreatedAt.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		b.logger.Warn("event publish degraded to no-op, broker unreachable",
			slog.String("channel", channel),
			slog.String("event_id", evt.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	return evt, nil
}

// Subscribe starts a reader goroutine tailing the channel's stream from
// now onward. Events published before the subscription are reached via
// Replay, not live delivery.
func (b *RedisBus) Subscribe(channel string, h Handler) func() {
	token := uuid.NewString()
	subCtx, cancel := context.WithCancel(b.rootCtx)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[string]context.CancelFunc)
	}
	b.subs[channel][token] = cancel
	b.channels[channel] = struct{}{}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.readLoop(subCtx, channel, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			b.mu.Lock()
			defer b.mu.Unlock()
			if tokens, ok := b.subs[channel]; ok {
				delete(tokens, token)
				if len(tokens) == 0 {
					delete(b.subs, channel)
				}
			}
		})
	}
}

// readLoop tails the stream with blocking XREAD until ctx is cancelled.
func (b *RedisBus) readLoop(ctx context.Context, channel string, h Handler) {
	defer b.wg.Done()

	stream := streamKey(channel)
	lastID := "$"

	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := b.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   b.readBlock,
			Count:   64,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if err == goredis.Nil {
				continue // block window elapsed with no entries
			}
			b.logger.Warn("event stream read failed, retrying",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				lastID = msg.ID
				evt, convErr := messageToEvent(channel, msg)
				if convErr != nil {
					b.logger.Warn("skipping malformed stream entry",
						slog.String("channel", channel),
						slog.String("stream_id", msg.ID),
						slog.String("error", convErr.Error()),
					)
					continue
				}
				b.deliver(ctx, h, evt)
			}
		}
	}
}

// deliver invokes one handler with panic isolation.
func (b *RedisBus) deliver(ctx context.Context, h Handler, evt *Event) {
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

// Unsubscribe cancels every subscription on the channel.
func (b *RedisBus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.subs[channel] {
		cancel()
	}
	delete(b.subs, channel)
}

// Replay reads historical events from the channel's stream. Stream IDs
// only encode millisecond timestamps, so the range starts at the
// cutoff's own millisecond and entries are filtered on the full
// CreatedAt to keep "strictly after since" exact at the boundary.
func (b *RedisBus) Replay(ctx context.Context, channel string, since time.Time, limit int) ([]*Event, error) {
	stream := streamKey(channel)

	start := "-"
	if !since.IsZero() && since.UnixMilli() >= 0 {
		start = fmt.Sprintf("%d-0", since.UnixMilli())
	}

	msgs, err := b.client.XRange(ctx, stream, start, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("taskbus/redis: replay %q: %w", channel, err)
	}

	return replayFilter(channel, msgs, since, limit), nil
}

// replayFilter converts stream entries to events, dropping malformed
// entries and anything at or before the cutoff, bounded by limit.
func replayFilter(channel string, msgs []goredis.XMessage, since time.Time, limit int) []*Event {
	events := make([]*Event, 0, len(msgs))
	for _, msg := range msgs {
		evt, err := messageToEvent(channel, msg)
		if err != nil {
			continue
		}
		if !since.IsZero() && !evt.CreatedAt.After(since) {
			continue
		}
		events = append(events, evt)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events
}

// PruneEvents trims every known channel's stream to entries at or after
// the cutoff. Satisfies the janitor's Pruner so distributed deployments
// reclaim broker storage on the same sweep as the job store.
func (b *RedisBus) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	b.mu.Lock()
	channels := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	minID := fmt.Sprintf("%d-0", before.UnixMilli())

	var total int64
	for _, ch := range channels {
		lenBefore, err := b.client.XLen(ctx, streamKey(ch)).Result()
		if err != nil {
			return total, fmt.Errorf("taskbus/redis: prune %q: %w", ch, err)
		}
		if err := b.client.XTrimMinID(ctx, streamKey(ch), minID).Err(); err != nil {
			return total, fmt.Errorf("taskbus/redis: prune %q: %w", ch, err)
		}
		lenAfter, err := b.client.XLen(ctx, streamKey(ch)).Result()
		if err != nil {
			return total, fmt.Errorf("taskbus/redis: prune %q: %w", ch, err)
		}
		total += lenBefore - lenAfter
	}
	return total, nil
}

// Close cancels all reader goroutines and waits for them. The Redis
// client is owned by the caller and stays open.
func (b *RedisBus) Close() error {
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[string]context.CancelFunc)
	return nil
}

// messageToEvent converts a stream entry to an Event.
func messageToEvent(channel string, msg goredis.XMessage) (*Event, error) {
	idStr, ok := msg.Values["id"].(string)
	if !ok {
		return nil, fmt.Errorf("taskbus/redis: stream entry %s missing id", msg.ID)
	}
	eid, err := id.ParseEventID(idStr)
	if err != nil {
		return nil, fmt.Errorf("taskbus/redis: stream entry %s: %w", msg.ID, err)
	}

	payload, _ := msg.Values["payload"].(string)
	createdStr, _ := msg.Values["created_at"].(string)
	createdAt, _ := time.Parse(time.RFC3339Nano, createdStr) //nolint:errcheck // best-effort parse from trusted broker data

	return &Event{
		ID:        eid,
		Channel:   channel,
		Payload:   []byte(payload),
		CreatedAt: createdAt,
	}, nil
}

// sleepCtx sleeps for the given duration, or returns early if the
// context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
