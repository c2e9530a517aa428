package tournament

import (
	"fmt"

	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

// MatchID names the index'th match of a round. IDs are stable so rebuilding
// a round reproduces the same records.
func MatchID(round, index int) string {
	return fmt.Sprintf("r%d-%d", round, index+1)
}

// bracketSize is the smallest power of two that holds n entrants.
func bracketSize(n int) int {
	size := 1
	for size < n {
		size *= 2
	}
	return size
}

// openingRound pads the roster to a power of two. The last entrants in
// registration order take the byes, so every later round pairs evenly and
// nobody sits out twice.
func openingRound(entrants []match.Identity) Round {
	playing := 2*len(entrants) - bracketSize(len(entrants))
	if playing < 0 {
		playing = 0
	}
	r := pairRound(1, entrants[:playing])
	r.Byes = append(r.Byes, entrants[playing:]...)
	return r
}

// pairRound pairs entrants i and i+1 in order. An odd entrant out gets a bye.
func pairRound(number int, entrants []match.Identity) Round {
	r := Round{Number: number, Matches: []Match{}}
	for i := 0; i+1 < len(entrants); i += 2 {
		idx := len(r.Matches)
		r.Matches = append(r.Matches, Match{
			ID:      MatchID(number, idx),
			Round:   number,
			Index:   idx,
			Players: [2]match.Identity{entrants[i], entrants[i+1]},
			Status:  MatchPending,
		})
	}
	if len(entrants)%2 == 1 {
		r.Byes = append(r.Byes, entrants[len(entrants)-1])
	}
	return r
}

func (r Round) resolved() bool {
	for _, m := range r.Matches {
		if m.Status != MatchFinished {
			return false
		}
	}
	return true
}

// advancers lists the winners in bracket order followed by the byes.
func (r Round) advancers() []match.Identity {
	out := make([]match.Identity, 0, len(r.Matches)+len(r.Byes))
	for _, m := range r.Matches {
		if side, ok := m.side(m.Winner); ok {
			out = append(out, m.Players[side])
		}
	}
	return append(out, r.Byes...)
}

// RoundsFor is the number of rounds a roster of n needs.
func RoundsFor(n int) int {
	rounds := 0
	for size := bracketSize(n); size > 1; size /= 2 {
		rounds++
	}
	return rounds
}
