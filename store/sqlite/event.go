package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/id"
)

// AppendEvent durably appends an event to its channel's sequence.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taskbus_events (id, channel, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		evt.ID.String(), evt.Channel, evt.Payload, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("taskbus/sqlite: append event: %w", err)
	}
	return nil
}

// ReplayEvents returns the events on a channel with a timestamp strictly
// after since, in append order.
func (s *Store) ReplayEvents(ctx context.Context, channel string, since time.Time, limit int) ([]*event.Event, error) {
	query := `
		SELECT id, channel, payload, created_at
		FROM taskbus_events
		WHERE channel = ? AND created_at > ?
		ORDER BY created_at ASC`
	args := []any{channel, since}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: replay events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var (
			evt   event.Event
			idStr string
		)
		if scanErr := rows.Scan(&idStr, &evt.Channel, &evt.Payload, &evt.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("taskbus/sqlite: scan event row: %w", scanErr)
		}

		parsedID, parseErr := id.ParseEventID(idStr)
		if parseErr != nil {
			return nil, fmt.Errorf("taskbus/sqlite: parse event id %q: %w", idStr, parseErr)
		}
		evt.ID = parsedID

		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskbus/sqlite: iterate event rows: %w", err)
	}
	return events, nil
}

// PruneEvents deletes events older than the cutoff across all channels.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM taskbus_events WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("taskbus/sqlite: prune events: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}
