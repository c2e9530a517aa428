// Package lobby pairs two identities before a match exists: custom lobbies
// joined by code, and a FIFO quick-match queue. A lobby that fills is
// promoted into a match session.
package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/fanout"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

const Capacity = 2

var (
	ErrLobbyNotFound   = apperr.New(apperr.NotFound, "lobby not found")
	ErrLobbyFull       = apperr.New(apperr.Conflict, "lobby is full")
	ErrAlreadyJoined   = apperr.New(apperr.Conflict, "already in this lobby")
	ErrNotInLobby      = apperr.New(apperr.Forbidden, "not a member of this lobby")
	ErrNotHost         = apperr.New(apperr.Forbidden, "only the host may close the lobby")
	ErrMissingIdentity = apperr.New(apperr.InvalidArgument, "missing user id")
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusFull    Status = "full"
)

type Lobby struct {
	ID         string           `json:"id"`
	Kind       match.Kind       `json:"kind"`
	Host       match.Identity   `json:"host"`
	Players    []match.Identity `json:"players"`
	Status     Status           `json:"status"`
	SessionID  string           `json:"sessionId,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	PromotedAt time.Time        `json:"promotedAt,omitempty"`
}

// JoinResult carries the session id once the lobby filled, or the lobby id
// while it is still waiting.
type JoinResult struct {
	LobbyID   string `json:"lobbyId"`
	SessionID string `json:"sessionId,omitempty"`
	IsWaiting bool   `json:"isWaiting"`
}

// SessionSpawner creates the match for a filled lobby. *hub.Hub satisfies it.
type SessionSpawner interface {
	Create(ctx context.Context, spec match.Spec) (*match.Session, error)
}

type entry struct {
	mu    sync.Mutex
	lobby Lobby
	group *fanout.Group[types.ServerMessage]
}

type Manager struct {
	spawner SessionSpawner
	clock   clockwork.Clock
	log     *zap.Logger

	// Lock order: entry.mu before mu, never the reverse.
	mu      sync.Mutex
	lobbies map[string]*entry
	// waiting quick-match lobbies, oldest first
	queue []queued
}

type queued struct {
	lobbyID string
	hostID  string
}

func NewManager(spawner SessionSpawner, clock clockwork.Clock, log *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		spawner: spawner,
		clock:   clock,
		log:     log.Named("lobby"),
		lobbies: make(map[string]*entry),
	}
}

// CreateLobby opens a waiting custom lobby with host in the first slot.
func (m *Manager) CreateLobby(ctx context.Context, host match.Identity) (Lobby, error) {
	if host.ID == "" {
		return Lobby{}, ErrMissingIdentity
	}
	m.mu.Lock()
	e, err := m.newEntryLocked(match.KindCustomLobby, host)
	m.mu.Unlock()
	if err != nil {
		return Lobby{}, err
	}
	m.log.Info("lobby created", zap.String("lobby_id", e.lobby.ID), zap.String("user_id", host.ID))
	return e.snapshot(), nil
}

// Join adds who to the lobby. The second join promotes the lobby into a
// match session.
func (m *Manager) Join(ctx context.Context, lobbyID string, who match.Identity) (JoinResult, error) {
	if who.ID == "" {
		return JoinResult{}, ErrMissingIdentity
	}
	e, err := m.entry(lobbyID)
	if err != nil {
		return JoinResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return m.joinLocked(ctx, e, who)
}

// CreateQuickMatch pairs who with the oldest waiting quick-match lobby, or
// opens a new one.
func (m *Manager) CreateQuickMatch(ctx context.Context, who match.Identity) (JoinResult, error) {
	if who.ID == "" {
		return JoinResult{}, ErrMissingIdentity
	}
	for {
		m.mu.Lock()
		e, own := m.popOpponentLocked(who.ID)
		if e == nil {
			if own != nil {
				m.mu.Unlock()
				return JoinResult{LobbyID: own.lobbyID, IsWaiting: true}, nil
			}
			e, err := m.newEntryLocked(match.KindQuickMatch, who)
			if err != nil {
				m.mu.Unlock()
				return JoinResult{}, err
			}
			m.queue = append(m.queue, queued{lobbyID: e.lobby.ID, hostID: who.ID})
			m.mu.Unlock()
			m.log.Info("quick match queued", zap.String("lobby_id", e.lobby.ID), zap.String("user_id", who.ID))
			return JoinResult{LobbyID: e.lobby.ID, IsWaiting: true}, nil
		}
		m.mu.Unlock()

		e.mu.Lock()
		res, err := m.joinLocked(ctx, e, who)
		switch {
		case err == nil:
			e.mu.Unlock()
			return res, nil
		case errors.Is(err, ErrLobbyFull), errors.Is(err, ErrLobbyNotFound):
			// lost a race for that lobby; try the next one
			e.mu.Unlock()
			continue
		default:
			m.requeue(e)
			e.mu.Unlock()
			return JoinResult{}, err
		}
	}
}

// Leave removes who from a waiting lobby. An emptied lobby is discarded; a
// departing host hands the lobby to whoever remains.
func (m *Manager) Leave(ctx context.Context, lobbyID, userID string) error {
	e, err := m.entry(lobbyID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lobby.Status == StatusFull {
		return ErrLobbyFull
	}
	idx := indexOf(e.lobby.Players, userID)
	if idx < 0 {
		return ErrNotInLobby
	}
	e.lobby.Players = append(e.lobby.Players[:idx], e.lobby.Players[idx+1:]...)

	if len(e.lobby.Players) == 0 {
		m.discard(e)
		m.log.Info("lobby abandoned", zap.String("lobby_id", lobbyID))
		return nil
	}
	if e.lobby.Host.ID == userID {
		e.lobby.Host = e.lobby.Players[0]
	}
	e.publishPlayers()
	return nil
}

// Close discards a waiting lobby. Only its host may do it.
func (m *Manager) Close(ctx context.Context, lobbyID, userID string) error {
	e, err := m.entry(lobbyID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lobby.Host.ID != userID {
		return ErrNotHost
	}
	if e.lobby.Status == StatusFull {
		return ErrLobbyFull
	}
	m.discard(e)
	m.log.Info("lobby closed", zap.String("lobby_id", lobbyID))
	return nil
}

func (m *Manager) Get(lobbyID string) (Lobby, error) {
	e, err := m.entry(lobbyID)
	if err != nil {
		return Lobby{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// Subscribe registers sub for the lobby's playersUpdate and lobbyComplete
// frames. Subscribing to an already promoted lobby delivers its
// lobbyComplete straight away.
func (m *Manager) Subscribe(lobbyID string, sub match.Subscriber) error {
	e, err := m.entry(lobbyID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lobby.Status == StatusFull {
		sub.Offer(e.completeMessage())
		return nil
	}
	e.group.Add(sub)
	return nil
}

func (m *Manager) Unsubscribe(lobbyID, connID string) {
	e, err := m.entry(lobbyID)
	if err != nil {
		return
	}
	e.group.Remove(connID)
}

// Sweep forgets promoted lobbies older than retention.
func (m *Manager) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	now := m.clock.Now()
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.lobbies))
	for _, e := range m.lobbies {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	removed := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.lobby.Status == StatusFull && now.Sub(e.lobby.PromotedAt) >= retention {
			m.mu.Lock()
			if m.lobbies[e.lobby.ID] == e {
				delete(m.lobbies, e.lobby.ID)
				removed++
			}
			m.mu.Unlock()
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		m.log.Debug("swept promoted lobbies", zap.Int("removed", removed))
	}
	return removed, nil
}

// SweepIdle discards waiting lobbies opened more than ttl ago that nobody is
// watching, which also takes them out of the quick-match queue. Hosts who
// created a lobby over HTTP and never came back are the usual case.
func (m *Manager) SweepIdle(ctx context.Context, ttl time.Duration) (int, error) {
	now := m.clock.Now()
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.lobbies))
	for _, e := range m.lobbies {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	removed := 0
	for _, e := range entries {
		e.mu.Lock()
		l := e.lobby
		if l.Status == StatusWaiting && now.Sub(l.CreatedAt) >= ttl && e.group.Len() == 0 && m.has(l.ID) {
			m.discard(e)
			removed++
			m.log.Info("idle lobby discarded", zap.String("lobby_id", l.ID), zap.String("user_id", l.Host.ID))
		}
		e.mu.Unlock()
	}
	return removed, nil
}

func (m *Manager) joinLocked(ctx context.Context, e *entry, who match.Identity) (JoinResult, error) {
	l := &e.lobby
	if indexOf(l.Players, who.ID) >= 0 {
		if l.Status == StatusFull {
			return JoinResult{LobbyID: l.ID, SessionID: l.SessionID}, ErrAlreadyJoined
		}
		return JoinResult{LobbyID: l.ID, IsWaiting: true}, ErrAlreadyJoined
	}
	if l.Status == StatusFull || len(l.Players) >= Capacity {
		return JoinResult{}, ErrLobbyFull
	}
	if !m.has(l.ID) {
		return JoinResult{}, ErrLobbyNotFound
	}

	l.Players = append(l.Players, who)
	if len(l.Players) < Capacity {
		e.publishPlayers()
		return JoinResult{LobbyID: l.ID, IsWaiting: true}, nil
	}

	s, err := m.spawner.Create(ctx, match.Spec{
		Kind:    l.Kind,
		Players: [2]match.Identity{l.Players[0], l.Players[1]},
	})
	if err != nil {
		l.Players = l.Players[:len(l.Players)-1]
		return JoinResult{}, fmt.Errorf("promote lobby %s: %w", l.ID, err)
	}

	l.Status = StatusFull
	l.SessionID = s.ID()
	l.PromotedAt = m.clock.Now()
	m.dequeue(l.ID)

	m.log.Info("lobby promoted",
		zap.String("lobby_id", l.ID),
		zap.String("session_id", l.SessionID),
		zap.String("kind", string(l.Kind)))
	e.publishPlayers()
	e.group.Publish(e.completeMessage())
	e.group.Clear()
	return JoinResult{LobbyID: l.ID, SessionID: l.SessionID}, nil
}

// popOpponentLocked removes and returns the oldest queued lobby hosted by
// someone other than userID. If userID is already queued, own is its slot.
func (m *Manager) popOpponentLocked(userID string) (*entry, *queued) {
	var own *queued
	for i := 0; i < len(m.queue); i++ {
		q := m.queue[i]
		cand, ok := m.lobbies[q.lobbyID]
		if !ok {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			i--
			continue
		}
		if q.hostID == userID {
			own = &q
			continue
		}
		m.queue = append(m.queue[:i], m.queue[i+1:]...)
		return cand, own
	}
	return nil, own
}

func (m *Manager) newEntryLocked(kind match.Kind, host match.Identity) (*entry, error) {
	var id string
	for {
		c, err := GenerateCode()
		if err != nil {
			return nil, fmt.Errorf("generate lobby code: %w", err)
		}
		if _, taken := m.lobbies[c]; !taken {
			id = c
			break
		}
		m.log.Debug("collision on lobby code, regenerating")
	}
	e := &entry{
		lobby: Lobby{
			ID:        id,
			Kind:      kind,
			Host:      host,
			Players:   []match.Identity{host},
			Status:    StatusWaiting,
			CreatedAt: m.clock.Now(),
		},
		group: fanout.NewGroup[types.ServerMessage](),
	}
	m.lobbies[id] = e
	return e, nil
}

func (m *Manager) entry(lobbyID string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, ErrLobbyNotFound
	}
	return e, nil
}

func (m *Manager) has(lobbyID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lobbies[lobbyID]
	return ok
}

// discard must be called with e.mu held.
func (m *Manager) discard(e *entry) {
	m.mu.Lock()
	delete(m.lobbies, e.lobby.ID)
	m.mu.Unlock()
	m.dequeue(e.lobby.ID)
	e.group.Clear()
}

// requeue puts a quick-match lobby whose promotion failed back at the head
// of the queue, where it was popped from. Must be called with e.mu held.
func (m *Manager) requeue(e *entry) {
	l := &e.lobby
	if l.Kind != match.KindQuickMatch || l.Status != StatusWaiting {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lobbies[l.ID] != e {
		return
	}
	for _, q := range m.queue {
		if q.lobbyID == l.ID {
			return
		}
	}
	m.queue = append([]queued{{lobbyID: l.ID, hostID: l.Host.ID}}, m.queue...)
}

func (m *Manager) dequeue(lobbyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queue {
		if q.lobbyID == lobbyID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (e *entry) snapshot() Lobby {
	l := e.lobby
	l.Players = append([]match.Identity(nil), e.lobby.Players...)
	return l
}

func (e *entry) publishPlayers() {
	players := make([]proto.PlayerInfo, 0, len(e.lobby.Players))
	for i, p := range e.lobby.Players {
		players = append(players, proto.PlayerInfo{
			ID:        p.ID,
			Name:      p.Name,
			Side:      engine.Side(i).String(),
			Connected: true,
		})
	}
	e.group.Publish(types.NewServerMessage(proto.EventPlayersUpdate, proto.PlayersUpdate{Players: players}))
}

func (e *entry) completeMessage() types.ServerMessage {
	return types.NewServerMessage(proto.EventLobbyComplete, Complete(e.lobby.ID, e.lobby.SessionID))
}

// Complete is the lobbyComplete payload for a lobby promoted into sessionID.
func Complete(lobbyID, sessionID string) proto.LobbyComplete {
	return proto.LobbyComplete{
		LobbyID:   lobbyID,
		SessionID: sessionID,
		GameURL:   proto.GameURL(sessionID),
		Message:   "Opponent found, starting match",
	}
}

func indexOf(players []match.Identity, userID string) int {
	for i, p := range players {
		if p.ID == userID {
			return i
		}
	}
	return -1
}

// GenerateCode returns a six character lobby code.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
