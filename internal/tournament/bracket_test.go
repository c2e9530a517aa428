package tournament

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

func roster(ids ...string) []match.Identity {
	out := make([]match.Identity, len(ids))
	for i, id := range ids {
		out[i] = ident(id)
	}
	return out
}

func TestPairRound_Even(t *testing.T) {
	r := pairRound(1, roster("a", "b", "c", "d"))
	require.Len(t, r.Matches, 2)
	assert.Empty(t, r.Byes)
	assert.Equal(t, "r1-1", r.Matches[0].ID)
	assert.Equal(t, "r1-2", r.Matches[1].ID)
	assert.Equal(t, 1, r.Matches[1].Index)
	for _, m := range r.Matches {
		assert.Equal(t, MatchPending, m.Status)
		assert.Equal(t, 1, m.Round)
	}
}

func TestPairRound_OddGivesLastEntrantBye(t *testing.T) {
	r := pairRound(2, roster("a", "b", "c", "d", "e"))
	require.Len(t, r.Matches, 2)
	assert.Equal(t, roster("e"), r.Byes)
	assert.Equal(t, "r2-1", r.Matches[0].ID)
}

func TestOpeningRound_PadsToPowerOfTwo(t *testing.T) {
	cases := []struct {
		roster  []string
		matches int
		byes    []string
	}{
		{[]string{"a", "b"}, 1, nil},
		{[]string{"a", "b", "c"}, 1, []string{"c"}},
		{[]string{"a", "b", "c", "d"}, 2, nil},
		{[]string{"a", "b", "c", "d", "e"}, 1, []string{"c", "d", "e"}},
		{[]string{"a", "b", "c", "d", "e", "f"}, 2, []string{"e", "f"}},
		{[]string{"a", "b", "c", "d", "e", "f", "g"}, 3, []string{"g"}},
	}
	for _, tc := range cases {
		r := openingRound(roster(tc.roster...))
		assert.Len(t, r.Matches, tc.matches, "roster of %d", len(tc.roster))
		if tc.byes == nil {
			assert.Empty(t, r.Byes, "roster of %d", len(tc.roster))
		} else {
			assert.Equal(t, roster(tc.byes...), r.Byes, "roster of %d", len(tc.roster))
		}
		advancing := len(r.Matches) + len(r.Byes)
		assert.Equal(t, bracketSize(len(tc.roster))/2, advancing, "roster of %d", len(tc.roster))
	}
	assert.Empty(t, openingRound(nil).Matches)
}

func TestRound_ResolvedAndAdvancers(t *testing.T) {
	r := pairRound(1, roster("a", "b", "c", "d", "e"))
	assert.False(t, r.resolved())

	record(&r.Matches[0], "b", [2]int{2, 5}, false)
	assert.False(t, r.resolved())
	record(&r.Matches[1], "c", [2]int{5, 1}, true)
	assert.True(t, r.resolved())

	adv := r.advancers()
	assert.Equal(t, roster("b", "c", "e"), adv)
}

func TestRound_EmptyIsResolved(t *testing.T) {
	r := pairRound(1, roster("solo"))
	assert.Empty(t, r.Matches)
	assert.True(t, r.resolved())
	assert.Equal(t, roster("solo"), r.advancers())
}

func TestTournament_CloneIsDeep(t *testing.T) {
	orig := Tournament{
		ID:           "t1",
		Participants: roster("a", "b", "c"),
		Rounds:       []Round{pairRound(1, roster("a", "b", "c"))},
	}
	cp := orig.Clone()
	cp.Participants[0].Name = "changed"
	cp.Rounds[0].Matches[0].Winner = "a"
	cp.Rounds[0].Byes[0].Name = "changed"

	assert.Equal(t, "Player a", orig.Participants[0].Name)
	assert.Empty(t, orig.Rounds[0].Matches[0].Winner)
	assert.Equal(t, "Player c", orig.Rounds[0].Byes[0].Name)
}
