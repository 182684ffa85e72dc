package client

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgerline/taskbus/event"
)

// Publish appends an event to the remote daemon's log and delivers it
// to that daemon's live subscribers.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (*event.Event, error) {
	var evt event.Event
	if err := c.doRaw(ctx, http.MethodPost, "/v1/events/"+channel, payload, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Replay reads historical events on the channel, strictly after since.
// A zero since reads from the beginning; a zero limit reads everything.
func (c *Client) Replay(ctx context.Context, channel string, since time.Time, limit int) ([]*event.Event, error) {
	q := map[string]string{}
	if !since.IsZero() {
		q["since"] = since.Format(time.RFC3339Nano)
	}
	if limit > 0 {
		q["limit"] = strconv.Itoa(limit)
	}

	var events []*event.Event
	if err := c.do(ctx, http.MethodGet, "/v1/events/"+channel+query(q), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}
