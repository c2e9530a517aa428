// Package types is the public session protocol: event names and the payloads
// carried in the data field of outbound frames.
//
// Client -> Server frames are flat objects: {"type": "<event>", ...fields}.
// Server -> Client frames are {"type": "<event>", "data": {...}}.
// Connections that negotiate the "msgpack" subprotocol get the same shapes as
// binary msgpack frames.
package types

import "github.com/DoyleJ11/arcade-match-backend/internal/engine"

// Client -> Server
const (
	// joinGame {gameId, isSpectator, playerName, userId}
	EventJoinGame = "joinGame"
	// movePaddle {direction: "up"|"down"}
	EventMovePaddle     = "movePaddle"
	EventRequestRematch = "requestRematch"
	EventAcceptRematch  = "acceptRematch"
	EventDeclineRematch = "declineRematch"
	EventForfeit        = "forfeit"
	EventLeaveGame      = "leaveGame"
	// sendChatMessage {message}
	EventSendChatMessage = "sendChatMessage"
	EventCreateLobby     = "createLobby"
	EventQuickMatch      = "quickMatch"
	// joinLobby {lobbyId, userId, username}
	EventJoinLobby  = "joinLobby"
	EventLeaveLobby = "leaveLobby"
	// joinTournament {tournamentId, userId, username}
	EventJoinTournament  = "joinTournament"
	EventLeaveTournament = "leaveTournament"
)

// Server -> Client
const (
	EventGameJoined           = "gameJoined"
	EventGameStateUpdate      = "gameStateUpdate"
	EventGameStarted          = "gameStarted"
	EventGamePaused           = "gamePaused"
	EventGameResumed          = "gameResumed"
	EventGameEnded            = "gameEnded"
	EventPlayersUpdate        = "playersUpdate"
	EventRematchRequested     = "rematchRequested"
	EventRematchStarted       = "rematchStarted"
	EventRematchDeclined      = "rematchDeclined"
	EventRematchExpired       = "rematchExpired"
	EventPlayerDisconnected   = "playerDisconnected"
	EventPlayerReconnected    = "playerReconnected"
	EventPlayerAbandoned      = "playerAbandoned"
	EventChatMessage          = "chatMessage"
	EventLobbyCreated         = "lobbyCreated"
	EventLobbyComplete        = "lobbyComplete"
	EventTournamentUpdate     = "tournamentUpdate"
	EventTournamentMatchReady = "tournamentMatchReady"
	EventTournamentMatchEnded = "tournamentMatchEnded"
	EventError                = "error"
)

const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Side      string `json:"side"`
	Connected bool   `json:"connected"`
}

type GameJoined struct {
	Role      string       `json:"role"`
	SessionID string       `json:"sessionId"`
	Kind      string       `json:"kind"`
	GameState engine.State `json:"gameState"`
	Players   []PlayerInfo `json:"players"`
	Field     Field        `json:"field"`
}

// RematchStarted carries the fresh game state plus where to find it.
type RematchStarted struct {
	engine.State
	SessionID string `json:"sessionId"`
	GameURL   string `json:"gameUrl"`
}

type PlayersUpdate struct {
	Players        []PlayerInfo `json:"players"`
	SpectatorCount int          `json:"spectatorCount"`
}

type GameEnded struct {
	Winner         string `json:"winner"`
	WinnerName     string `json:"winnerName"`
	FinalScore     [2]int `json:"finalScore"`
	EndedByForfeit bool   `json:"endedByForfeit,omitempty"`
}

type TournamentMatchEnded struct {
	Winner       string `json:"winner"`
	FinalScore   [2]int `json:"finalScore"`
	TournamentID string `json:"tournamentId"`
	MatchID      string `json:"matchId"`
	RedirectURL  string `json:"redirectUrl"`
	Message      string `json:"message"`
}

type PlayerEvent struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	// GraceSeconds is set on playerDisconnected.
	GraceSeconds int `json:"graceSeconds,omitempty"`
}

type GamePaused struct {
	Reason string `json:"reason"`
}

type RematchRequested struct {
	FromPlayer string `json:"fromPlayer"`
	FromName   string `json:"fromName"`
	// Deadline is a unix millisecond timestamp.
	Deadline int64 `json:"deadline"`
}

type ChatMessage struct {
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	SenderID  string `json:"senderId"`
}

type LobbyCreated struct {
	LobbyID   string `json:"lobbyId"`
	IsWaiting bool   `json:"isWaiting"`
}

type LobbyComplete struct {
	LobbyID   string `json:"lobbyId"`
	SessionID string `json:"sessionId"`
	GameURL   string `json:"gameUrl"`
	Message   string `json:"message"`
}

type TournamentMatchReady struct {
	TournamentID string `json:"tournamentId"`
	MatchID      string `json:"matchId"`
	SessionID    string `json:"sessionId"`
	GameURL      string `json:"gameUrl"`
	Opponent     string `json:"opponent"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

// Field describes the static playfield so clients can scale rendering.
type Field struct {
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	PaddleWidth  float64 `json:"paddleWidth"`
	PaddleHeight float64 `json:"paddleHeight"`
	PaddleInset  float64 `json:"paddleInset"`
	BallRadius   float64 `json:"ballRadius"`
}

// DefaultField mirrors the engine geometry.
var DefaultField = Field{
	Width:        engine.FieldWidth,
	Height:       engine.FieldHeight,
	PaddleWidth:  engine.PaddleWidth,
	PaddleHeight: engine.PaddleHeight,
	PaddleInset:  engine.PaddleInset,
	BallRadius:   engine.BallRadius,
}

// GameURL is the client route for a session.
func GameURL(sessionID string) string { return "/game/" + sessionID }

// TournamentURL is the client route for a tournament bracket.
func TournamentURL(tournamentID string) string { return "/tournaments/" + tournamentID }
