package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/id"
)

// AppendEvent durably appends an event to its channel's sequence.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO taskbus_events (id, channel, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		evt.ID.String(), evt.Channel, evt.Payload, evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("taskbus/postgres: append event: %w", err)
	}
	return nil
}

// ReplayEvents returns the events on a channel with a timestamp strictly
// after since, in append order.
func (s *Store) ReplayEvents(ctx context.Context, channel string, since time.Time, limit int) ([]*event.Event, error) {
	query := `
		SELECT id, channel, payload, created_at
		FROM taskbus_events
		WHERE channel = $1 AND created_at > $2
		ORDER BY created_at ASC`
	args := []interface{}{channel, since}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskbus/postgres: replay events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		evt, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("taskbus/postgres: scan event row: %w", scanErr)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskbus/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

// PruneEvents deletes events older than the cutoff across all channels.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM taskbus_events WHERE created_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("taskbus/postgres: prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEvent scans a single event row.
func scanEvent(row pgx.Row) (*event.Event, error) {
	var (
		evt   event.Event
		idStr string
	)
	err := row.Scan(&idStr, &evt.Channel, &evt.Payload, &evt.CreatedAt)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseEventID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("taskbus/postgres: parse event id %q: %w", idStr, parseErr)
	}
	evt.ID = parsedID

	return &evt, nil
}
