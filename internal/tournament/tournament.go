// Package tournament runs single-elimination brackets. Round one pairs the
// roster in registration order, padded with byes to a power of two; later
// rounds are built only once the round before them resolves.
package tournament

import (
	"time"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

var (
	ErrTournamentNotFound = apperr.New(apperr.NotFound, "tournament not found")
	ErrMatchNotFound      = apperr.New(apperr.NotFound, "match not found")
	ErrMatchNotFinished   = apperr.New(apperr.InvalidState, "match has not finished")
	ErrNotAParticipant    = apperr.New(apperr.Forbidden, "not a participant")
	ErrConflictingResult  = apperr.New(apperr.Conflict, "match already resolved with a different winner")
	ErrAlreadyRegistered  = apperr.New(apperr.Conflict, "already registered")
	ErrTournamentFull     = apperr.New(apperr.Conflict, "tournament is full")
	ErrAlreadyStarted     = apperr.New(apperr.InvalidState, "tournament already started")
	ErrNotStarted         = apperr.New(apperr.InvalidState, "tournament has not started")
	ErrNotEnoughPlayers   = apperr.New(apperr.InvalidState, "at least two participants are needed")
	ErrNotOrganizer       = apperr.New(apperr.Forbidden, "only the organizer may do that")
	ErrInvalidName        = apperr.New(apperr.InvalidArgument, "name is required")
	ErrInvalidCapacity    = apperr.New(apperr.InvalidArgument, "capacity must be zero or at least two")
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchScheduled MatchStatus = "scheduled"
	MatchFinished  MatchStatus = "finished"
)

type Match struct {
	ID             string            `json:"id"`
	Round          int               `json:"round"`
	Index          int               `json:"index"`
	Players        [2]match.Identity `json:"players"`
	SessionID      string            `json:"sessionId,omitempty"`
	Scores         [2]int            `json:"scores"`
	Winner         string            `json:"winner,omitempty"`
	EndedByForfeit bool              `json:"endedByForfeit,omitempty"`
	Status         MatchStatus       `json:"status"`
}

func (m Match) side(userID string) (int, bool) {
	for i, p := range m.Players {
		if p.ID == userID && userID != "" {
			return i, true
		}
	}
	return 0, false
}

// Round is one bracket column. Byes advance without a match.
type Round struct {
	Number  int              `json:"number"`
	Matches []Match          `json:"matches"`
	Byes    []match.Identity `json:"byes,omitempty"`
}

type Tournament struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Slug         string           `json:"slug"`
	Organizer    string           `json:"organizer"`
	Capacity     int              `json:"capacity,omitempty"`
	Participants []match.Identity `json:"participants"`
	Rounds       []Round          `json:"rounds"`
	CurrentRound int              `json:"currentRound"`
	Status       Status           `json:"status"`
	Champion     *match.Identity  `json:"champion,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    time.Time        `json:"startedAt,omitempty"`
	CompletedAt  time.Time        `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand outside the manager's lock.
func (t Tournament) Clone() Tournament {
	out := t
	out.Participants = append([]match.Identity(nil), t.Participants...)
	out.Rounds = make([]Round, len(t.Rounds))
	for i, r := range t.Rounds {
		out.Rounds[i] = Round{
			Number:  r.Number,
			Matches: append([]Match(nil), r.Matches...),
			Byes:    append([]match.Identity(nil), r.Byes...),
		}
	}
	if t.Champion != nil {
		c := *t.Champion
		out.Champion = &c
	}
	return out
}

func (t *Tournament) findMatch(matchID string) *Match {
	for i := range t.Rounds {
		for j := range t.Rounds[i].Matches {
			if t.Rounds[i].Matches[j].ID == matchID {
				return &t.Rounds[i].Matches[j]
			}
		}
	}
	return nil
}

func (t *Tournament) current() *Round {
	if t.CurrentRound < 1 || t.CurrentRound > len(t.Rounds) {
		return nil
	}
	return &t.Rounds[t.CurrentRound-1]
}

func (t *Tournament) isParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}
