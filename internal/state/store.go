// Package state holds the per-match aggregate state in Redis.
//
// Key layout, under a configurable namespace:
//
//	ns:game:<match>                       match hash
//	ns:game:<match>:players               set of player ids
//	ns:game:<match>:team:<team>           team hash
//	ns:game:<match>:team:<team>:players   set of player ids
//	ns:game:<match>:player:<p>            player hash
//	ns:game:<match>:player:<p>:kill_history   zset of {ts_ms, victim} by ts
//	ns:game:<match>:player:<p>:death_history  zset of ts_ms by ts
//	ns:game:<match>:processed             set of applied event ids
//
// Every event kind maps to one Apply method executed as a single pipeline,
// so an event never partially mutates state.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gamestate/internal/detect"
	"gamestate/internal/event"
)

// Store is the Redis-backed game state store.
type Store struct {
	rdb *redis.Client
	ns  string
}

// New creates a Store using the given key namespace.
func New(rdb *redis.Client, namespace string) *Store {
	return &Store{rdb: rdb, ns: namespace}
}

func (s *Store) matchKey(matchID string) string {
	return fmt.Sprintf("%s:game:%s", s.ns, matchID)
}

func (s *Store) matchPlayersKey(matchID string) string {
	return s.matchKey(matchID) + ":players"
}

func (s *Store) teamKey(matchID, teamID string) string {
	return fmt.Sprintf("%s:team:%s", s.matchKey(matchID), teamID)
}

func (s *Store) teamPlayersKey(matchID, teamID string) string {
	return s.teamKey(matchID, teamID) + ":players"
}

func (s *Store) playerKey(matchID, playerID string) string {
	return fmt.Sprintf("%s:player:%s", s.matchKey(matchID), playerID)
}

func (s *Store) killHistoryKey(matchID, playerID string) string {
	return s.playerKey(matchID, playerID) + ":kill_history"
}

func (s *Store) deathHistoryKey(matchID, playerID string) string {
	return s.playerKey(matchID, playerID) + ":death_history"
}

func (s *Store) processedKey(matchID string) string {
	return s.matchKey(matchID) + ":processed"
}

// killEntry is the stored form of one kill timeline member.
type killEntry struct {
	TimestampMS int64  `json:"ts_ms"`
	VictimID    string `json:"victim"`
}

// ApplyMatchStart creates the match, team and player aggregates from the
// MATCH_START roster.
func (s *Store) ApplyMatchStart(ctx context.Context, matchID string, p *event.MatchStartPayload) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.matchKey(matchID), map[string]interface{}{
			"match_id":       matchID,
			"start_time":     p.Fixture.StartTime,
			"title":          p.Fixture.Title,
			"series_current": p.Fixture.SeriesCurrent,
			"series_max":     p.Fixture.SeriesMax,
			"series_type":    p.Fixture.SeriesType,
		})

		for _, team := range p.Teams {
			pipe.HSet(ctx, s.teamKey(matchID, team.TeamID), map[string]interface{}{
				"team_id":      team.TeamID,
				"dragon_kills": 0,
				"tower_kills":  0,
			})
			for _, player := range team.Players {
				alive := 0
				if player.Alive {
					alive = 1
				}
				pipe.HSet(ctx, s.playerKey(matchID, player.PlayerID), map[string]interface{}{
					"player_id":    player.PlayerID,
					"name":         player.Name,
					"team_id":      team.TeamID,
					"gold":         player.Gold,
					"alive":        alive,
					"minion_kills": 0,
					"player_kills": 0,
					"kill_assists": 0,
					"deaths":       0,
				})
				pipe.SAdd(ctx, s.teamPlayersKey(matchID, team.TeamID), player.PlayerID)
				pipe.SAdd(ctx, s.matchPlayersKey(matchID), player.PlayerID)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply match start %s: %w", matchID, err)
	}
	return nil
}

// ApplyMinionKill credits a minion kill to a player.
func (s *Store) ApplyMinionKill(ctx context.Context, matchID, playerID string, gold int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.playerKey(matchID, playerID)
		if gold != 0 {
			pipe.HIncrBy(ctx, key, "gold", gold)
		}
		pipe.HIncrBy(ctx, key, "minion_kills", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply minion kill for %s: %w", playerID, err)
	}
	return nil
}

// PlayerKillUpdate carries every mutation of one PLAYER_KILL event.
type PlayerKillUpdate struct {
	KillerID   string
	VictimID   string
	At         time.Time
	KillerGold int64
	Assistants []string
	AssistGold int64
}

// ApplyPlayerKill applies the full effect of a player-vs-player kill: killer
// counters and timeline, assistant counters, victim death bookkeeping.
func (s *Store) ApplyPlayerKill(ctx context.Context, matchID string, u PlayerKillUpdate) error {
	entry, err := json.Marshal(killEntry{TimestampMS: u.At.UnixMilli(), VictimID: u.VictimID})
	if err != nil {
		return fmt.Errorf("marshal kill entry: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		killerKey := s.playerKey(matchID, u.KillerID)
		if u.KillerGold != 0 {
			pipe.HIncrBy(ctx, killerKey, "gold", u.KillerGold)
		}
		pipe.HIncrBy(ctx, killerKey, "player_kills", 1)
		pipe.ZAdd(ctx, s.killHistoryKey(matchID, u.KillerID), redis.Z{
			Score:  float64(u.At.UnixMilli()),
			Member: string(entry),
		})

		for _, assistantID := range u.Assistants {
			assistantKey := s.playerKey(matchID, assistantID)
			if u.AssistGold != 0 {
				pipe.HIncrBy(ctx, assistantKey, "gold", u.AssistGold)
			}
			pipe.HIncrBy(ctx, assistantKey, "kill_assists", 1)
		}

		victimKey := s.playerKey(matchID, u.VictimID)
		pipe.HIncrBy(ctx, victimKey, "deaths", 1)
		pipe.HSet(ctx, victimKey, "alive", 0)
		ms := u.At.UnixMilli()
		pipe.ZAdd(ctx, s.deathHistoryKey(matchID, u.VictimID), redis.Z{
			Score:  float64(ms),
			Member: strconv.FormatInt(ms, 10),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply player kill %s -> %s: %w", u.KillerID, u.VictimID, err)
	}
	return nil
}

// ApplyDragonKill credits a dragon kill to a player and their team.
func (s *Store) ApplyDragonKill(ctx context.Context, matchID, playerID, teamID string, gold int64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if gold != 0 {
			pipe.HIncrBy(ctx, s.playerKey(matchID, playerID), "gold", gold)
		}
		pipe.HIncrBy(ctx, s.teamKey(matchID, teamID), "dragon_kills", 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply dragon kill for %s: %w", playerID, err)
	}
	return nil
}

// ApplyTurretDestroy credits a turret kill to a team: the tower counter,
// team gold for every member, and extra gold for the attributed player when
// one exists.
func (s *Store) ApplyTurretDestroy(ctx context.Context, matchID, teamID, attributedPlayerID string, playerGold, teamGold int64) error {
	players, err := s.TeamPlayers(ctx, matchID, teamID)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, s.teamKey(matchID, teamID), "tower_kills", 1)
		for _, playerID := range players {
			if teamGold != 0 {
				pipe.HIncrBy(ctx, s.playerKey(matchID, playerID), "gold", teamGold)
			}
		}
		if attributedPlayerID != "" && playerGold != 0 {
			pipe.HIncrBy(ctx, s.playerKey(matchID, attributedPlayerID), "gold", playerGold)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply turret destroy for team %s: %w", teamID, err)
	}
	return nil
}

// ApplyMatchEnd records the winner and closes the match to further events.
func (s *Store) ApplyMatchEnd(ctx context.Context, matchID, winningTeamID string) error {
	err := s.rdb.HSet(ctx, s.matchKey(matchID), map[string]interface{}{
		"winning_team_id": winningTeamID,
		"ended":           1,
	}).Err()
	if err != nil {
		return fmt.Errorf("apply match end %s: %w", matchID, err)
	}
	return nil
}

// SetFirstBlood records the first-blood timestamp once. The boolean return
// reports whether this call won the write.
func (s *Store) SetFirstBlood(ctx context.Context, matchID string, at time.Time) (bool, error) {
	set, err := s.rdb.HSetNX(ctx, s.matchKey(matchID), "first_blood", at.UnixMilli()).Result()
	if err != nil {
		return false, fmt.Errorf("set first blood %s: %w", matchID, err)
	}
	return set, nil
}

// MatchExists reports whether a MATCH_START has been applied for the match.
func (s *Store) MatchExists(ctx context.Context, matchID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.matchKey(matchID)).Result()
	if err != nil {
		return false, fmt.Errorf("match exists %s: %w", matchID, err)
	}
	return n > 0, nil
}

// MatchEnded reports whether MATCH_END has been applied for the match.
func (s *Store) MatchEnded(ctx context.Context, matchID string) (bool, error) {
	ended, err := s.rdb.HGet(ctx, s.matchKey(matchID), "ended").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("match ended %s: %w", matchID, err)
	}
	return ended == "1", nil
}

// PlayerExists reports whether the player was registered at match start.
func (s *Store) PlayerExists(ctx context.Context, matchID, playerID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.matchPlayersKey(matchID), playerID).Result()
	if err != nil {
		return false, fmt.Errorf("player exists %s: %w", playerID, err)
	}
	return ok, nil
}

// TeamExists reports whether the team was registered at match start.
func (s *Store) TeamExists(ctx context.Context, matchID, teamID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.teamKey(matchID, teamID)).Result()
	if err != nil {
		return false, fmt.Errorf("team exists %s: %w", teamID, err)
	}
	return n > 0, nil
}

// PlayerTeam resolves a player's team id.
func (s *Store) PlayerTeam(ctx context.Context, matchID, playerID string) (string, error) {
	teamID, err := s.rdb.HGet(ctx, s.playerKey(matchID, playerID), "team_id").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("player team %s: %w", playerID, err)
	}
	return teamID, nil
}

// MatchPlayers lists every player registered for the match, in stable order.
func (s *Store) MatchPlayers(ctx context.Context, matchID string) ([]string, error) {
	players, err := s.rdb.SMembers(ctx, s.matchPlayersKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("match players %s: %w", matchID, err)
	}
	sort.Strings(players)
	return players, nil
}

// TeamPlayers lists every player of a team.
func (s *Store) TeamPlayers(ctx context.Context, matchID, teamID string) ([]string, error) {
	players, err := s.rdb.SMembers(ctx, s.teamPlayersKey(matchID, teamID)).Result()
	if err != nil {
		return nil, fmt.Errorf("team players %s: %w", teamID, err)
	}
	sort.Strings(players)
	return players, nil
}

// IsProcessed reports whether an event id has already been applied.
func (s *Store) IsProcessed(ctx context.Context, matchID, eventID string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, s.processedKey(matchID), eventID).Result()
	if err != nil {
		return false, fmt.Errorf("is processed %s: %w", eventID, err)
	}
	return ok, nil
}

// MarkProcessed records an event id as applied.
func (s *Store) MarkProcessed(ctx context.Context, matchID, eventID string) error {
	if err := s.rdb.SAdd(ctx, s.processedKey(matchID), eventID).Err(); err != nil {
		return fmt.Errorf("mark processed %s: %w", eventID, err)
	}
	return nil
}

// KillTimeline reads a player's kill timeline ordered by timestamp.
func (s *Store) KillTimeline(ctx context.Context, matchID, playerID string) ([]detect.Kill, error) {
	members, err := s.rdb.ZRange(ctx, s.killHistoryKey(matchID, playerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kill timeline %s: %w", playerID, err)
	}

	kills := make([]detect.Kill, 0, len(members))
	for _, member := range members {
		var entry killEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			return nil, fmt.Errorf("kill timeline %s: bad entry %q: %w", playerID, member, err)
		}
		kills = append(kills, detect.Kill{
			At:       time.UnixMilli(entry.TimestampMS).UTC(),
			VictimID: entry.VictimID,
		})
	}
	return kills, nil
}

// DeathTimeline reads a player's death timeline ordered by timestamp.
func (s *Store) DeathTimeline(ctx context.Context, matchID, playerID string) ([]time.Time, error) {
	members, err := s.rdb.ZRange(ctx, s.deathHistoryKey(matchID, playerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("death timeline %s: %w", playerID, err)
	}

	deaths := make([]time.Time, 0, len(members))
	for _, member := range members {
		ms, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("death timeline %s: bad entry %q: %w", playerID, member, err)
		}
		deaths = append(deaths, time.UnixMilli(ms).UTC())
	}
	return deaths, nil
}
