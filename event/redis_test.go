package event

import (
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ledgerline/taskbus/id"
)

func streamMessage(t *testing.T, createdAt time.Time, payload string) goredis.XMessage {
	t.Helper()
	return goredis.XMessage{
		ID: fmt.Sprintf("%d-0", createdAt.UnixMilli()),
		Values: map[string]interface{}{
			"id":         id.NewEventID().String(),
			"payload":    payload,
			"created_at": createdAt.Format(time.RFC3339Nano),
		},
	}
}

func TestReplayFilterSinceIsExclusiveWithinMillisecond(t *testing.T) {
	t.Parallel()

	// Three events inside the same millisecond; stream IDs cannot tell
	// them apart, only CreatedAt can.
	base := time.Date(2026, 8, 1, 12, 0, 0, 500_000_000, time.UTC)
	msgs := []goredis.XMessage{
		streamMessage(t, base, `first`),
		streamMessage(t, base.Add(200*time.Microsecond), `second`),
		streamMessage(t, base.Add(400*time.Microsecond), `third`),
	}

	events := replayFilter("audit", msgs, base, 0)
	if len(events) != 2 {
		t.Fatalf("got %d events after cutoff, want 2", len(events))
	}
	for i, want := range []string{`second`, `third`} {
		if string(events[i].Payload) != want {
			t.Fatalf("events[%d] = %s, want %s", i, events[i].Payload, want)
		}
	}
}

func TestReplayFilterZeroSinceReturnsAll(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	msgs := []goredis.XMessage{
		streamMessage(t, base, `a`),
		streamMessage(t, base.Add(time.Millisecond), `b`),
	}

	if got := replayFilter("audit", msgs, time.Time{}, 0); len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
}

func TestReplayFilterLimitAppliesAfterCutoff(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	msgs := []goredis.XMessage{
		streamMessage(t, base, `old`),
		streamMessage(t, base.Add(time.Millisecond), `keep1`),
		streamMessage(t, base.Add(2*time.Millisecond), `keep2`),
	}

	events := replayFilter("audit", msgs, base, 1)
	if len(events) != 1 || string(events[0].Payload) != `keep1` {
		t.Fatalf("got %v, want exactly keep1", events)
	}
}

func TestReplayFilterSkipsMalformedEntries(t *testing.T) {
	t.Parallel()

	base := time.Now().UTC()
	msgs := []goredis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"payload": `no id field`}},
		streamMessage(t, base, `good`),
	}

	events := replayFilter("audit", msgs, time.Time{}, 0)
	if len(events) != 1 || string(events[0].Payload) != `good` {
		t.Fatalf("got %d events, want only the well-formed one", len(events))
	}
}
