package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEventNotFound is returned when a referenced event is missing from the
// durable store.
var ErrEventNotFound = errors.New("event not found")

// EventRecord is one raw event row. Body holds the inbound bytes untouched,
// including bodies that failed validation.
type EventRecord struct {
	ID        uuid.UUID
	MatchID   string
	EventType string
	Body      []byte
}

// EventStore persists raw game events.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a raw event store over a pgx pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert writes a raw event. The write is idempotent on the event id; the
// boolean return reports whether the row was new.
func (s *EventStore) Insert(ctx context.Context, rec EventRecord) (bool, error) {
	var matchID *string
	if rec.MatchID != "" {
		matchID = &rec.MatchID
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO game_events (id, match_id, event_type, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, matchID, rec.EventType, rec.Body)
	if err != nil {
		return false, fmt.Errorf("insert event %s: %w", rec.ID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetBody loads the raw body of an event by id.
func (s *EventStore) GetBody(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `
		SELECT body FROM game_events WHERE id = $1
	`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return body, nil
}
