package detect

import (
	"time"
)

// DefaultStreakWindow is the maximum gap between consecutive kills of one
// streak run.
const DefaultStreakWindow = 10 * time.Second

// maxStreakLength caps a single run; a sixth chained kill starts a new run.
const maxStreakLength = 5

// StreakRank names a kill streak by run length.
type StreakRank string

const (
	RankDouble StreakRank = "DOUBLE"
	RankTriple StreakRank = "TRIPLE"
	RankQuadra StreakRank = "QUADRA"
	RankPenta  StreakRank = "PENTA"
)

var streakRanks = map[int]StreakRank{
	2: RankDouble,
	3: RankTriple,
	4: RankQuadra,
	5: RankPenta,
}

// Kill is one entry of a player's kill timeline.
type Kill struct {
	At       time.Time
	VictimID string
}

// Streak is a maximal run of kills each within the window of the previous one.
type Streak struct {
	MatchID  string
	PlayerID string
	Rank     StreakRank
	StartsAt time.Time
	EndsAt   time.Time
	Kills    []time.Time
}

// KillStreaks partitions an ordered kill timeline into maximal runs where the
// gap to the previous kill in the run is at most window, and reports every
// run of two or more kills exactly once at its full length. Runs are capped
// at five kills (PENTA); the next kill opens a fresh run.
//
// The function is pure: rerunning it on the same timeline yields the same
// records.
func KillStreaks(matchID, playerID string, kills []Kill, window time.Duration) []Streak {
	var streaks []Streak

	i := 0
	for i < len(kills) {
		j := i + 1
		for j < len(kills) && kills[j].At.Sub(kills[j-1].At) <= window && j-i < maxStreakLength {
			j++
		}

		if n := j - i; n >= 2 {
			run := kills[i:j]
			times := make([]time.Time, n)
			for k, kill := range run {
				times[k] = kill.At
			}
			streaks = append(streaks, Streak{
				MatchID:  matchID,
				PlayerID: playerID,
				Rank:     streakRanks[n],
				StartsAt: run[0].At,
				EndsAt:   run[n-1].At,
				Kills:    times,
			})
		}
		i = j
	}

	return streaks
}
