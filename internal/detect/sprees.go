package detect

import (
	"time"
)

// minSpreeKills is the smallest run of deathless kills that earns a rank.
const minSpreeKills = 3

// SpreeRank names a killing spree by its kill count.
type SpreeRank string

const (
	RankKillingSpree SpreeRank = "KILLING_SPREE"
	RankRampage      SpreeRank = "RAMPAGE"
	RankUnstoppable  SpreeRank = "UNSTOPPABLE"
	RankDominating   SpreeRank = "DOMINATING"
	RankGodlike      SpreeRank = "GODLIKE"
)

var spreeRanks = map[int]SpreeRank{
	3: RankKillingSpree,
	4: RankRampage,
	5: RankUnstoppable,
	6: RankDominating,
	7: RankGodlike,
}

// Spree is a run of consecutive kills uninterrupted by the player's own
// death. Only the highest rank reached by the run is recorded.
type Spree struct {
	MatchID  string
	PlayerID string
	Rank     SpreeRank
	Kills    int
	StartsAt time.Time
	// EndsAt is the death that terminated the run, or the last kill when the
	// run was still open at detection time.
	EndsAt time.Time
}

// Sprees folds a player's ordered kill and death timelines into spree
// records. A death at or before a kill timestamp finalizes the running count
// before that kill starts a new run. Runs shorter than three kills produce
// nothing; longer runs produce one record at their final count.
func Sprees(matchID, playerID string, kills []Kill, deaths []time.Time) []Spree {
	var sprees []Spree

	count := 0
	var start, last time.Time
	di := 0

	record := func(end time.Time) {
		if count < minSpreeKills {
			return
		}
		sprees = append(sprees, Spree{
			MatchID:  matchID,
			PlayerID: playerID,
			Rank:     spreeRank(count),
			Kills:    count,
			StartsAt: start,
			EndsAt:   end,
		})
	}

	for _, kill := range kills {
		for di < len(deaths) && !kill.At.Before(deaths[di]) {
			record(deaths[di])
			count = 0
			di++
		}
		if count == 0 {
			start = kill.At
		}
		count++
		last = kill.At
	}

	// Close the trailing run: at the first death after the last kill, or at
	// the last kill if the player never died again.
	if count > 0 {
		end := last
		if di < len(deaths) {
			end = deaths[di]
		}
		record(end)
	}

	return sprees
}

func spreeRank(count int) SpreeRank {
	if count > 7 {
		count = 7
	}
	return spreeRanks[count]
}
