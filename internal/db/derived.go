package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gamestate/internal/detect"
)

// DerivedStore writes streak, spree and first-blood records.
type DerivedStore struct {
	pool *pgxpool.Pool
}

// NewDerivedStore creates a derived-record writer over a pgx pool.
func NewDerivedStore(pool *pgxpool.Pool) *DerivedStore {
	return &DerivedStore{pool: pool}
}

// ReplaceMatchRecords replaces every streak and spree record of a match
// within a single transaction. Purge-then-insert keeps reruns of the
// detector idempotent.
func (s *DerivedStore) ReplaceMatchRecords(ctx context.Context, matchID string, streaks []detect.Streak, sprees []detect.Spree) error {
	return s.replace(ctx,
		`DELETE FROM streak_records WHERE match_id = $1`,
		`DELETE FROM spree_records WHERE match_id = $1`,
		[]any{matchID}, streaks, sprees)
}

// ReplacePlayerRecords replaces one player's streak and spree records,
// leaving the rest of the match untouched. Used by incremental detection.
func (s *DerivedStore) ReplacePlayerRecords(ctx context.Context, matchID, playerID string, streaks []detect.Streak, sprees []detect.Spree) error {
	return s.replace(ctx,
		`DELETE FROM streak_records WHERE match_id = $1 AND player_id = $2`,
		`DELETE FROM spree_records WHERE match_id = $1 AND player_id = $2`,
		[]any{matchID, playerID}, streaks, sprees)
}

func (s *DerivedStore) replace(ctx context.Context, purgeStreaks, purgeSprees string, purgeArgs []any, streaks []detect.Streak, sprees []detect.Spree) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, purgeStreaks, purgeArgs...); err != nil {
		return fmt.Errorf("purge streak records: %w", err)
	}
	if _, err := tx.Exec(ctx, purgeSprees, purgeArgs...); err != nil {
		return fmt.Errorf("purge spree records: %w", err)
	}

	if err := insertStreaks(ctx, tx, streaks); err != nil {
		return fmt.Errorf("insert streak records: %w", err)
	}
	if err := insertSprees(ctx, tx, sprees); err != nil {
		return fmt.Errorf("insert spree records: %w", err)
	}

	return tx.Commit(ctx)
}

func insertStreaks(ctx context.Context, tx pgx.Tx, streaks []detect.Streak) error {
	for _, st := range streaks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO streak_records (id, match_id, player_id, rank, starts_at, ends_at, kill_times)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), st.MatchID, st.PlayerID, string(st.Rank), st.StartsAt, st.EndsAt, st.Kills); err != nil {
			return err
		}
	}
	return nil
}

func insertSprees(ctx context.Context, tx pgx.Tx, sprees []detect.Spree) error {
	for _, sp := range sprees {
		if _, err := tx.Exec(ctx, `
			INSERT INTO spree_records (id, match_id, player_id, rank, kills, starts_at, ends_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), sp.MatchID, sp.PlayerID, string(sp.Rank), sp.Kills, sp.StartsAt, sp.EndsAt); err != nil {
			return err
		}
	}
	return nil
}

// RecordFirstBlood writes the match's first-blood row. The primary key on
// match_id makes the write set-once.
func (s *DerivedStore) RecordFirstBlood(ctx context.Context, matchID string, at time.Time, killerID, victimID string) error {
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO first_bloods (match_id, occurred_at, killer_id, victim_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (match_id) DO NOTHING
	`, matchID, at, killerID, victimID); err != nil {
		return fmt.Errorf("record first blood for match %s: %w", matchID, err)
	}
	return nil
}
