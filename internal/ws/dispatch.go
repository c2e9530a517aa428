package ws

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/lobby"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

var (
	ErrUnknownEvent     = apperr.New(apperr.InvalidArgument, "unknown event type")
	ErrNotBound         = apperr.New(apperr.InvalidState, "not in a game")
	ErrIdentityMismatch = apperr.New(apperr.Forbidden, "userId does not match this connection")
	ErrMissingField     = apperr.New(apperr.InvalidArgument, "missing required field")
)

const maxNameLength = 32

func (c *Conn) dispatch(ctx context.Context, cm types.ClientMessage) {
	var err error
	switch cm.Type {
	case proto.EventMovePaddle:
		c.onMove(cm)
	case proto.EventJoinGame:
		err = c.onJoinGame(ctx, cm)
	case proto.EventLeaveGame:
		err = c.onLeaveGame(ctx)
	case proto.EventForfeit:
		err = c.asPlayer(func(s *match.Session, userID string) error { return s.Forfeit(ctx, userID) })
	case proto.EventRequestRematch:
		err = c.asPlayer(func(s *match.Session, userID string) error { return s.RequestRematch(ctx, userID) })
	case proto.EventAcceptRematch:
		err = c.asPlayer(func(s *match.Session, userID string) error { return s.AcceptRematch(ctx, userID) })
	case proto.EventDeclineRematch:
		err = c.asPlayer(func(s *match.Session, userID string) error { return s.DeclineRematch(ctx, userID) })
	case proto.EventSendChatMessage:
		err = c.asPlayer(func(s *match.Session, _ string) error { return s.Chat(ctx, c.id, cm.Message) })
	case proto.EventCreateLobby:
		err = c.onCreateLobby(ctx, cm)
	case proto.EventQuickMatch:
		err = c.onQuickMatch(ctx, cm)
	case proto.EventJoinLobby:
		err = c.onJoinLobby(ctx, cm)
	case proto.EventLeaveLobby:
		err = c.onLeaveLobby(ctx, cm)
	case proto.EventJoinTournament:
		err = c.onJoinTournament(ctx, cm)
	case proto.EventLeaveTournament:
		err = c.onLeaveTournament(ctx, cm)
	default:
		err = ErrUnknownEvent
	}
	if err != nil {
		c.sendError(cm.Type, err)
	}
}

// onMove drops anything illegal without a reply; clients send these at
// frame rate.
func (c *Conn) onMove(cm types.ClientMessage) {
	s, role := c.binding()
	if s == nil || role != proto.RolePlayer {
		c.log.Debug("movePaddle dropped", zap.String("reason", "not bound as player"))
		return
	}
	dir, ok := engine.ParseDirection(cm.Direction)
	if !ok {
		c.log.Debug("movePaddle dropped", zap.String("reason", "bad direction"), zap.String("direction", cm.Direction))
		return
	}
	if s.Status() != engine.StatusPlaying {
		c.log.Debug("movePaddle dropped", zap.String("reason", "not playing"))
		return
	}
	if err := s.Move(c.identityID(), dir); err != nil {
		c.log.Debug("movePaddle dropped", zap.Error(err))
	}
}

func (c *Conn) onJoinGame(ctx context.Context, cm types.ClientMessage) error {
	if cm.GameID == "" {
		return ErrMissingField
	}
	if _, err := c.identify(cm); err != nil {
		return err
	}
	_, err := c.gw.Bind(ctx, c.id, cm.GameID, cm.IsSpectator)
	return err
}

func (c *Conn) onLeaveGame(ctx context.Context) error {
	if s, _ := c.binding(); s == nil {
		return ErrNotBound
	}
	err := c.gw.Unbind(ctx, c.id)
	if errors.Is(err, match.ErrSessionClosed) {
		return nil
	}
	return err
}

// asPlayer runs fn for player-only events on the bound session.
func (c *Conn) asPlayer(fn func(s *match.Session, userID string) error) error {
	s, role := c.binding()
	if s == nil {
		return ErrNotBound
	}
	if role != proto.RolePlayer {
		return match.ErrNotAPlayer
	}
	return fn(s, c.identityID())
}

func (c *Conn) onCreateLobby(ctx context.Context, cm types.ClientMessage) error {
	if c.gw.opts.Lobbies == nil {
		return ErrUnknownEvent
	}
	who, err := c.identify(cm)
	if err != nil {
		return err
	}
	l, err := c.gw.opts.Lobbies.CreateLobby(ctx, who)
	if err != nil {
		return err
	}
	if err := c.watchLobby(l.ID); err != nil {
		return err
	}
	c.send(proto.EventLobbyCreated, proto.LobbyCreated{LobbyID: l.ID, IsWaiting: true})
	return nil
}

func (c *Conn) onQuickMatch(ctx context.Context, cm types.ClientMessage) error {
	if c.gw.opts.Lobbies == nil {
		return ErrUnknownEvent
	}
	who, err := c.identify(cm)
	if err != nil {
		return err
	}
	res, err := c.gw.opts.Lobbies.CreateQuickMatch(ctx, who)
	if err != nil {
		return err
	}
	return c.afterLobbyJoin(res)
}

func (c *Conn) onJoinLobby(ctx context.Context, cm types.ClientMessage) error {
	if c.gw.opts.Lobbies == nil {
		return ErrUnknownEvent
	}
	if cm.LobbyID == "" {
		return ErrMissingField
	}
	who, err := c.identify(cm)
	if err != nil {
		return err
	}
	res, err := c.gw.opts.Lobbies.Join(ctx, strings.ToUpper(cm.LobbyID), who)
	if err != nil {
		return err
	}
	return c.afterLobbyJoin(res)
}

// afterLobbyJoin either keeps the connection watching a waiting lobby or
// sends it straight to the promoted session.
func (c *Conn) afterLobbyJoin(res lobby.JoinResult) error {
	if res.IsWaiting {
		if err := c.watchLobby(res.LobbyID); err != nil {
			return err
		}
		c.send(proto.EventLobbyCreated, proto.LobbyCreated{LobbyID: res.LobbyID, IsWaiting: true})
		return nil
	}
	c.forgetLobby()
	c.send(proto.EventLobbyComplete, lobby.Complete(res.LobbyID, res.SessionID))
	return nil
}

func (c *Conn) onLeaveLobby(ctx context.Context, cm types.ClientMessage) error {
	if c.gw.opts.Lobbies == nil {
		return ErrUnknownEvent
	}
	c.mu.Lock()
	id := c.lobbyID
	c.mu.Unlock()
	if cm.LobbyID != "" {
		id = strings.ToUpper(cm.LobbyID)
	}
	if id == "" {
		return ErrMissingField
	}
	c.forgetLobby()
	return c.gw.opts.Lobbies.Leave(ctx, id, c.identityID())
}

func (c *Conn) onJoinTournament(ctx context.Context, cm types.ClientMessage) error {
	if c.gw.opts.Tournaments == nil {
		return ErrUnknownEvent
	}
	if cm.TournamentID == "" {
		return ErrMissingField
	}
	who, err := c.identify(cm)
	if err != nil {
		return err
	}
	tm := c.gw.opts.Tournaments
	_, err = tm.Join(ctx, cm.TournamentID, who)
	switch {
	case err == nil, errors.Is(err, tournament.ErrAlreadyRegistered), errors.Is(err, tournament.ErrAlreadyStarted):
		// registered, or following a bracket that is already running
	default:
		return err
	}

	t, err := tm.Get(cm.TournamentID)
	if err != nil {
		return err
	}
	c.forgetTournament()
	if err := tm.Subscribe(t.ID, who.ID, c); err != nil {
		return err
	}
	c.mu.Lock()
	c.tournamentID = t.ID
	c.mu.Unlock()
	return nil
}

func (c *Conn) onLeaveTournament(ctx context.Context, cm types.ClientMessage) error {
	if c.gw.opts.Tournaments == nil {
		return ErrUnknownEvent
	}
	c.mu.Lock()
	id := c.tournamentID
	c.mu.Unlock()
	if cm.TournamentID != "" {
		id = cm.TournamentID
	}
	if id == "" {
		return ErrMissingField
	}
	c.forgetTournament()
	_, err := c.gw.opts.Tournaments.Leave(ctx, id, c.identityID())
	if errors.Is(err, tournament.ErrNotAParticipant) {
		return nil
	}
	return err
}

func (c *Conn) watchLobby(lobbyID string) error {
	c.forgetLobby()
	if err := c.gw.opts.Lobbies.Subscribe(lobbyID, c); err != nil {
		return err
	}
	c.mu.Lock()
	c.lobbyID = lobbyID
	c.mu.Unlock()
	return nil
}

func (c *Conn) forgetLobby() {
	c.mu.Lock()
	id := c.lobbyID
	c.lobbyID = ""
	c.mu.Unlock()
	if id != "" {
		c.gw.opts.Lobbies.Unsubscribe(id, c.id)
	}
}

func (c *Conn) forgetTournament() {
	c.mu.Lock()
	id := c.tournamentID
	c.tournamentID = ""
	c.mu.Unlock()
	if id != "" {
		c.gw.opts.Tournaments.Unsubscribe(id, c.id)
	}
}

// identify settles the connection's identity from the event. A verified
// identity keeps its id; an unverified one adopts the first userId it sees.
// Display names may be updated by any event that carries one.
func (c *Conn) identify(cm types.ClientMessage) (match.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cm.UserID != "" && cm.UserID != c.who.ID {
		if c.verified || c.who.ID != "" {
			return match.Identity{}, ErrIdentityMismatch
		}
		c.who.ID = cm.UserID
	}
	if c.who.ID == "" {
		return match.Identity{}, auth.ErrMissingIdentity
	}
	if name := normalizeName(cm.DisplayName()); name != "" {
		c.who.Name = name
	}
	if c.who.Name == "" {
		c.who.Name = c.who.ID
	}
	return c.who, nil
}

func (c *Conn) identityID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.who.ID
}

// normalizeName composes the name to NFC and caps its length, so visually
// identical names compare equal.
func normalizeName(raw string) string {
	name := norm.NFC.String(strings.TrimSpace(raw))
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}
