// Package engine applies validated game events to the aggregate state and
// triggers streak/spree derivation. It is the only component that mutates
// the game state store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gamestate/internal/db"
	"gamestate/internal/detect"
	"gamestate/internal/event"
	"gamestate/internal/logging"
	"gamestate/internal/state"
)

// Reference is the work item linking the two pipeline stages: a pointer to a
// durably stored event.
type Reference struct {
	MatchID string `json:"match_id"`
	EventID string `json:"event_id"`
}

// PartitionKey extracts the partition key from a queued reference. All of a
// match's events share a key, which keeps every player's events in order.
func PartitionKey(payload []byte) string {
	var ref Reference
	if err := json.Unmarshal(payload, &ref); err != nil {
		return ""
	}
	return ref.MatchID
}

// GameState is the slice of the state store the engine mutates and reads.
type GameState interface {
	ApplyMatchStart(ctx context.Context, matchID string, p *event.MatchStartPayload) error
	ApplyMinionKill(ctx context.Context, matchID, playerID string, gold int64) error
	ApplyPlayerKill(ctx context.Context, matchID string, u state.PlayerKillUpdate) error
	ApplyDragonKill(ctx context.Context, matchID, playerID, teamID string, gold int64) error
	ApplyTurretDestroy(ctx context.Context, matchID, teamID, attributedPlayerID string, playerGold, teamGold int64) error
	ApplyMatchEnd(ctx context.Context, matchID, winningTeamID string) error
	SetFirstBlood(ctx context.Context, matchID string, at time.Time) (bool, error)

	MatchExists(ctx context.Context, matchID string) (bool, error)
	MatchEnded(ctx context.Context, matchID string) (bool, error)
	PlayerExists(ctx context.Context, matchID, playerID string) (bool, error)
	TeamExists(ctx context.Context, matchID, teamID string) (bool, error)
	PlayerTeam(ctx context.Context, matchID, playerID string) (string, error)
	MatchPlayers(ctx context.Context, matchID string) ([]string, error)

	IsProcessed(ctx context.Context, matchID, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, matchID, eventID string) error

	KillTimeline(ctx context.Context, matchID, playerID string) ([]detect.Kill, error)
	DeathTimeline(ctx context.Context, matchID, playerID string) ([]time.Time, error)
}

// EventSource loads durably stored raw events.
type EventSource interface {
	GetBody(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// DerivedSink receives streak, spree and first-blood records.
type DerivedSink interface {
	ReplaceMatchRecords(ctx context.Context, matchID string, streaks []detect.Streak, sprees []detect.Spree) error
	ReplacePlayerRecords(ctx context.Context, matchID, playerID string, streaks []detect.Streak, sprees []detect.Spree) error
	RecordFirstBlood(ctx context.Context, matchID string, at time.Time, killerID, victimID string) error
}

// Engine dequeues event references and applies their state transitions.
type Engine struct {
	ctx          context.Context
	state        GameState
	events       EventSource
	derived      DerivedSink
	streakWindow time.Duration
	detectOnKill bool
	logger       logging.Interface
}

// New creates an Engine.
func New(ctx context.Context, state GameState, events EventSource, derived DerivedSink, streakWindow time.Duration, detectOnKill bool) *Engine {
	return &Engine{
		ctx:          ctx,
		state:        state,
		events:       events,
		derived:      derived,
		streakWindow: streakWindow,
		detectOnKill: detectOnKill,
		logger:       logging.For("engine"),
	}
}

// Handle processes a single queued reference. A returned error means a
// transient failure and the job should be retried; reference and parse
// problems are logged and absorbed.
func (e *Engine) Handle(payload []byte) error {
	var ref Reference
	if err := json.Unmarshal(payload, &ref); err != nil {
		e.logger.Warnf("dropping malformed reference: %v", err)
		return nil
	}

	eventID, err := uuid.Parse(ref.EventID)
	if err != nil {
		e.logger.Warnf("dropping reference with bad event id %q: %v", ref.EventID, err)
		return nil
	}

	body, err := e.events.GetBody(e.ctx, eventID)
	if errors.Is(err, db.ErrEventNotFound) {
		e.logger.Warnf("event %s not found in durable store, skipping", eventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load event %s: %w", eventID, err)
	}

	ev, err := event.Decode(eventID, body)
	if err != nil {
		// Ingestion only enqueues validated events; a decode failure here
		// means the stored body predates the current validation rules.
		e.logger.Warnf("stored event %s no longer decodes, skipping: %v", eventID, err)
		return nil
	}

	processed, err := e.state.IsProcessed(e.ctx, ev.MatchID, ev.ID.String())
	if err != nil {
		return err
	}
	if processed {
		e.logger.Debugf("event %s already applied, skipping", ev.ID)
		return nil
	}

	if err := e.apply(ev); err != nil {
		return err
	}

	return e.state.MarkProcessed(e.ctx, ev.MatchID, ev.ID.String())
}

func (e *Engine) apply(ev *event.Event) error {
	if ev.Type != event.TypeMatchStart {
		exists, err := e.state.MatchExists(e.ctx, ev.MatchID)
		if err != nil {
			return err
		}
		if !exists {
			e.logger.Warnf("%s event %s for unknown match %s, skipping", ev.Type, ev.ID, ev.MatchID)
			return nil
		}

		// MATCH_END itself stays re-appliable so a retried job can finish
		// its detection pass.
		if ev.Type != event.TypeMatchEnd {
			ended, err := e.state.MatchEnded(e.ctx, ev.MatchID)
			if err != nil {
				return err
			}
			if ended {
				e.logger.Warnf("%s event %s after MATCH_END of %s, skipping", ev.Type, ev.ID, ev.MatchID)
				return nil
			}
		}
	}

	switch ev.Type {
	case event.TypeMatchStart:
		return e.applyMatchStart(ev)
	case event.TypeMinionKill:
		return e.applyMinionKill(ev)
	case event.TypePlayerKill:
		return e.applyPlayerKill(ev)
	case event.TypeDragonKill:
		return e.applyDragonKill(ev)
	case event.TypeTurretDestroy:
		return e.applyTurretDestroy(ev)
	case event.TypeMatchEnd:
		return e.applyMatchEnd(ev)
	}

	e.logger.Warnf("no handler for event type %s, skipping", ev.Type)
	return nil
}

func (e *Engine) applyMatchStart(ev *event.Event) error {
	exists, err := e.state.MatchExists(e.ctx, ev.MatchID)
	if err != nil {
		return err
	}
	if exists {
		e.logger.Warnf("MATCH_START for existing match %s, skipping", ev.MatchID)
		return nil
	}
	return e.state.ApplyMatchStart(e.ctx, ev.MatchID, ev.MatchStart)
}

func (e *Engine) applyMinionKill(ev *event.Event) error {
	p := ev.MinionKill
	ok, err := e.playerKnown(ev, p.PlayerID)
	if err != nil || !ok {
		return err
	}
	return e.state.ApplyMinionKill(e.ctx, ev.MatchID, p.PlayerID, p.GoldGranted)
}

func (e *Engine) applyPlayerKill(ev *event.Event) error {
	p := ev.PlayerKill

	for _, id := range []string{p.KillerID, p.VictimID} {
		ok, err := e.playerKnown(ev, id)
		if err != nil || !ok {
			return err
		}
	}

	assistants := make([]string, 0, len(p.Assistants))
	for _, id := range p.Assistants {
		known, err := e.state.PlayerExists(e.ctx, ev.MatchID, id)
		if err != nil {
			return err
		}
		if !known {
			e.logger.Warnf("event %s names unknown assistant %s, ignoring the assist", ev.ID, id)
			continue
		}
		assistants = append(assistants, id)
	}

	err := e.state.ApplyPlayerKill(e.ctx, ev.MatchID, state.PlayerKillUpdate{
		KillerID:   p.KillerID,
		VictimID:   p.VictimID,
		At:         ev.Timestamp,
		KillerGold: p.GoldGranted,
		Assistants: assistants,
		AssistGold: p.AssistGold,
	})
	if err != nil {
		return err
	}

	won, err := e.state.SetFirstBlood(e.ctx, ev.MatchID, ev.Timestamp)
	if err != nil {
		return err
	}
	if won {
		if err := e.derived.RecordFirstBlood(e.ctx, ev.MatchID, ev.Timestamp, p.KillerID, p.VictimID); err != nil {
			return err
		}
	}

	if e.detectOnKill {
		if err := e.refreshPlayer(ev.MatchID, p.KillerID); err != nil {
			return err
		}
		if err := e.refreshPlayer(ev.MatchID, p.VictimID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyDragonKill(ev *event.Event) error {
	p := ev.DragonKill
	ok, err := e.playerKnown(ev, p.KillerID)
	if err != nil || !ok {
		return err
	}

	teamID, err := e.state.PlayerTeam(e.ctx, ev.MatchID, p.KillerID)
	if err != nil {
		return err
	}
	return e.state.ApplyDragonKill(e.ctx, ev.MatchID, p.KillerID, teamID, p.GoldGranted)
}

func (e *Engine) applyTurretDestroy(ev *event.Event) error {
	p := ev.TurretDestroy

	known, err := e.state.TeamExists(e.ctx, ev.MatchID, p.KillerTeamID)
	if err != nil {
		return err
	}
	if !known {
		e.logger.Warnf("event %s refers to unknown team %s, skipping", ev.ID, p.KillerTeamID)
		return nil
	}

	// KillerID is empty when minions destroyed the turret.
	if p.KillerID != "" {
		ok, err := e.playerKnown(ev, p.KillerID)
		if err != nil || !ok {
			return err
		}
	}

	return e.state.ApplyTurretDestroy(e.ctx, ev.MatchID, p.KillerTeamID, p.KillerID, p.PlayerGoldGranted, p.TeamGoldGranted)
}

func (e *Engine) applyMatchEnd(ev *event.Event) error {
	if err := e.state.ApplyMatchEnd(e.ctx, ev.MatchID, ev.MatchEnd.WinningTeamID); err != nil {
		return err
	}
	return e.detectMatch(ev.MatchID)
}

// playerKnown reports whether a player was registered at match start,
// logging the reference failure when not.
func (e *Engine) playerKnown(ev *event.Event, playerID string) (bool, error) {
	known, err := e.state.PlayerExists(e.ctx, ev.MatchID, playerID)
	if err != nil {
		return false, err
	}
	if !known {
		e.logger.Warnf("event %s refers to unknown player %s, skipping", ev.ID, playerID)
	}
	return known, nil
}

// detectMatch runs the batch detection pass over every player of a match
// and replaces the match's derived records.
func (e *Engine) detectMatch(matchID string) error {
	players, err := e.state.MatchPlayers(e.ctx, matchID)
	if err != nil {
		return err
	}

	var streaks []detect.Streak
	var sprees []detect.Spree
	for _, playerID := range players {
		st, sp, err := e.detectPlayer(matchID, playerID)
		if err != nil {
			return err
		}
		streaks = append(streaks, st...)
		sprees = append(sprees, sp...)
	}

	e.logger.Infof("match %s: derived %d streaks, %d sprees across %d players",
		matchID, len(streaks), len(sprees), len(players))
	return e.derived.ReplaceMatchRecords(e.ctx, matchID, streaks, sprees)
}

// refreshPlayer recomputes one player's derived records from the current
// timeline snapshot. Detection is pure, so this yields exactly what the
// batch pass would.
func (e *Engine) refreshPlayer(matchID, playerID string) error {
	streaks, sprees, err := e.detectPlayer(matchID, playerID)
	if err != nil {
		return err
	}
	return e.derived.ReplacePlayerRecords(e.ctx, matchID, playerID, streaks, sprees)
}

func (e *Engine) detectPlayer(matchID, playerID string) ([]detect.Streak, []detect.Spree, error) {
	kills, err := e.state.KillTimeline(e.ctx, matchID, playerID)
	if err != nil {
		return nil, nil, err
	}
	deaths, err := e.state.DeathTimeline(e.ctx, matchID, playerID)
	if err != nil {
		return nil, nil, err
	}

	streaks := detect.KillStreaks(matchID, playerID, kills, e.streakWindow)
	sprees := detect.Sprees(matchID, playerID, kills, deaths)
	return streaks, sprees, nil
}
