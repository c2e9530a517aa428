// Package match runs one authoritative pong match per Session. Every mutation
// happens on the session's own goroutine; callers talk to it through the
// inbox or the command methods that wrap it.
package match

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/fanout"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
)

type Kind string

const (
	KindQuickMatch      Kind = "quick_match"
	KindTournamentMatch Kind = "tournament_match"
	KindCustomLobby     Kind = "custom_lobby"
)

// Subscriber is anything that can receive outbound frames for a session.
type Subscriber = fanout.Subscriber[types.ServerMessage]

type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Spec is everything needed to create a session. Players are fixed for the
// session's lifetime; index 0 plays the left paddle.
type Spec struct {
	ID           string      `json:"id"`
	Kind         Kind        `json:"kind"`
	Players      [2]Identity `json:"players"`
	TournamentID string      `json:"tournamentId,omitempty"`
	MatchID      string      `json:"matchId,omitempty"`
}

// Result is the terminal outcome of a session.
type Result struct {
	SessionID      string      `json:"sessionId"`
	Kind           Kind        `json:"kind"`
	TournamentID   string      `json:"tournamentId,omitempty"`
	MatchID        string      `json:"matchId,omitempty"`
	Players        [2]Identity `json:"players"`
	Winner         Identity    `json:"winner"`
	Score          [2]int      `json:"score"`
	EndedByForfeit bool        `json:"endedByForfeit"`
	FinishedAt     time.Time   `json:"finishedAt"`
}

type Config struct {
	TickRate      int
	GraceWindow   time.Duration
	RematchWindow time.Duration
	Rules         engine.Rules
	Clock         clockwork.Clock
	Logger        *zap.Logger
	InboxSize     int

	// Spawn creates the follow-up session when a rematch is accepted.
	Spawn func(ctx context.Context, spec Spec) (*Session, error)
	// OnFinish receives the result exactly once, on its own goroutine.
	OnFinish func(Result)
}

const (
	DefaultTickRate      = 30
	DefaultGraceWindow   = 20 * time.Second
	DefaultRematchWindow = 30 * time.Second
	MaxChatLength        = 500
)

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = DefaultTickRate
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = DefaultGraceWindow
	}
	if c.RematchWindow <= 0 {
		c.RematchWindow = DefaultRematchWindow
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 64
	}
	return c
}

// TickInterval is the simulation period for the configured rate.
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.withDefaults().TickRate)
}
