// Package store is the record store behind tournaments and match results.
// Postgres (through gorm) is used when a DSN is configured, an in-memory map
// otherwise.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
)

var ErrResultNotFound = apperr.New(apperr.NotFound, "match result not found")

// Store is satisfied by both implementations.
type Store interface {
	tournament.Repository
	SaveMatchResult(ctx context.Context, r match.Result) error
	LoadMatchResult(ctx context.Context, sessionID string) (match.Result, error)
	Close() error
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)

// TournamentRecord keeps the whole bracket as one JSON snapshot; the other
// columns exist for lookups.
type TournamentRecord struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	Slug      string `gorm:"uniqueIndex;type:varchar(160)"`
	Name      string `gorm:"type:varchar(120);not null"`
	Status    string `gorm:"index;type:varchar(16)"`
	Snapshot  string `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (TournamentRecord) TableName() string { return "tournaments" }

type MatchResultRecord struct {
	SessionID      string `gorm:"primaryKey;type:varchar(64)"`
	Kind           string `gorm:"type:varchar(24)"`
	TournamentID   string `gorm:"index;type:varchar(64)"`
	MatchID        string `gorm:"type:varchar(32)"`
	LeftID         string `gorm:"index;type:varchar(128)"`
	LeftName       string `gorm:"type:varchar(120)"`
	RightID        string `gorm:"index;type:varchar(128)"`
	RightName      string `gorm:"type:varchar(120)"`
	WinnerID       string `gorm:"type:varchar(128)"`
	ScoreLeft      int
	ScoreRight     int
	EndedByForfeit bool
	FinishedAt     time.Time `gorm:"index"`
}

func (MatchResultRecord) TableName() string { return "match_results" }

func tournamentRecord(t tournament.Tournament) (TournamentRecord, error) {
	snap, err := json.Marshal(t)
	if err != nil {
		return TournamentRecord{}, fmt.Errorf("encode tournament %s: %w", t.ID, err)
	}
	return TournamentRecord{
		ID:       t.ID,
		Slug:     t.Slug,
		Name:     t.Name,
		Status:   string(t.Status),
		Snapshot: string(snap),
	}, nil
}

func (r TournamentRecord) tournament() (tournament.Tournament, error) {
	var t tournament.Tournament
	if err := json.Unmarshal([]byte(r.Snapshot), &t); err != nil {
		return tournament.Tournament{}, fmt.Errorf("decode tournament %s: %w", r.ID, err)
	}
	return t, nil
}

func resultRecord(r match.Result) MatchResultRecord {
	return MatchResultRecord{
		SessionID:      r.SessionID,
		Kind:           string(r.Kind),
		TournamentID:   r.TournamentID,
		MatchID:        r.MatchID,
		LeftID:         r.Players[0].ID,
		LeftName:       r.Players[0].Name,
		RightID:        r.Players[1].ID,
		RightName:      r.Players[1].Name,
		WinnerID:       r.Winner.ID,
		ScoreLeft:      r.Score[0],
		ScoreRight:     r.Score[1],
		EndedByForfeit: r.EndedByForfeit,
		FinishedAt:     r.FinishedAt,
	}
}

func (m MatchResultRecord) result() match.Result {
	res := match.Result{
		SessionID:    m.SessionID,
		Kind:         match.Kind(m.Kind),
		TournamentID: m.TournamentID,
		MatchID:      m.MatchID,
		Players: [2]match.Identity{
			{ID: m.LeftID, Name: m.LeftName},
			{ID: m.RightID, Name: m.RightName},
		},
		Score:          [2]int{m.ScoreLeft, m.ScoreRight},
		EndedByForfeit: m.EndedByForfeit,
		FinishedAt:     m.FinishedAt,
	}
	for _, p := range res.Players {
		if p.ID == m.WinnerID {
			res.Winner = p
		}
	}
	return res
}
