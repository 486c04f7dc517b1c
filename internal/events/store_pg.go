package events

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrStoreUnavailable indicates the event store is not configured.
var ErrStoreUnavailable = errors.New("events: store unavailable")

// PGStore persists events in the checkout_events table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// InsertEvent implements EventStore.
func (s *PGStore) InsertEvent(ctx context.Context, ev Event) (Event, error) {
	if s == nil || s.Pool == nil {
		return Event{}, ErrStoreUnavailable
	}
	err := s.Pool.QueryRow(ctx, `INSERT INTO checkout_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5) RETURNING occurred_at`, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt).Scan(&ev.OccurredAt)
	if err != nil {
		return Event{}, err
	}
	return ev, nil
}

// ListByAggregate returns the events of one aggregate, oldest first.
func (s *PGStore) ListByAggregate(ctx context.Context, aggregateID string) ([]Event, error) {
	if s == nil || s.Pool == nil {
		return nil, ErrStoreUnavailable
	}
	rows, err := s.Pool.Query(ctx, `SELECT id, topic, aggregate_id, payload, occurred_at FROM checkout_events
WHERE aggregate_id = $1 ORDER BY occurred_at ASC, id ASC`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.AggregateID, &payload, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
