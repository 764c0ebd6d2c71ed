package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements creates the worker's tables when they do not exist yet.
// game_events is the durable audit log of every inbound event, valid or not;
// the remaining tables hold derived records only.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS game_events (
		id UUID PRIMARY KEY,
		match_id TEXT,
		event_type TEXT NOT NULL,
		body BYTEA NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_game_events_match ON game_events (match_id)`,
	`CREATE TABLE IF NOT EXISTS streak_records (
		id UUID PRIMARY KEY,
		match_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		rank TEXT NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		kill_times TIMESTAMPTZ[] NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_streak_records_match_player ON streak_records (match_id, player_id)`,
	`CREATE TABLE IF NOT EXISTS spree_records (
		id UUID PRIMARY KEY,
		match_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		rank TEXT NOT NULL,
		kills INT NOT NULL,
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_spree_records_match_player ON spree_records (match_id, player_id)`,
	`CREATE TABLE IF NOT EXISTS first_bloods (
		match_id TEXT PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		killer_id TEXT NOT NULL,
		victim_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates all required tables and indexes.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
