package tournament

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/fanout"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

// Sessions creates and looks up match sessions. *hub.Hub satisfies it.
type Sessions interface {
	Create(ctx context.Context, spec match.Spec) (*match.Session, error)
	Get(ctx context.Context, id string) (*match.Session, error)
}

// Repository persists bracket snapshots so a restart keeps them.
type Repository interface {
	SaveTournament(ctx context.Context, t Tournament) error
	LoadTournaments(ctx context.Context) ([]Tournament, error)
}

type entry struct {
	mu    sync.Mutex
	t     Tournament
	group *fanout.Group[types.ServerMessage]
	// conn id -> user id, for per-player notices
	watchers map[string]string
}

type Manager struct {
	sessions Sessions
	repo     Repository
	clock    clockwork.Clock
	log      *zap.Logger

	mu    sync.Mutex
	items map[string]*entry
}

func NewManager(sessions Sessions, repo Repository, clock clockwork.Clock, log *zap.Logger) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		sessions: sessions,
		repo:     repo,
		clock:    clock,
		log:      log.Named("tournament"),
		items:    make(map[string]*entry),
	}
}

// Load restores persisted tournaments and rebuilds the running ones, which
// respawns sessions lost with the previous process.
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.repo == nil {
		return 0, nil
	}
	saved, err := m.repo.LoadTournaments(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tournaments: %w", err)
	}
	m.mu.Lock()
	for _, t := range saved {
		m.items[t.ID] = newEntry(t)
	}
	m.mu.Unlock()

	for _, t := range saved {
		if t.Status != StatusInProgress {
			continue
		}
		if _, err := m.Rebuild(ctx, t.ID); err != nil {
			m.log.Error("rebuild after load failed", zap.String("tournament_id", t.ID), zap.Error(err))
		}
	}
	return len(saved), nil
}

func (m *Manager) Create(ctx context.Context, organizer match.Identity, name string, capacity int) (Tournament, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tournament{}, ErrInvalidName
	}
	if capacity < 0 || capacity == 1 {
		return Tournament{}, ErrInvalidCapacity
	}
	id := uuid.NewString()
	t := Tournament{
		ID:           id,
		Name:         name,
		Slug:         slug.Make(name) + "-" + id[:8],
		Organizer:    organizer.ID,
		Capacity:     capacity,
		Participants: []match.Identity{},
		Rounds:       []Round{},
		Status:       StatusOpen,
		CreatedAt:    m.clock.Now(),
	}
	e := newEntry(t)
	m.mu.Lock()
	m.items[id] = e
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	m.persistLocked(ctx, e)
	m.log.Info("tournament created", zap.String("tournament_id", id), zap.String("slug", t.Slug))
	return e.t.Clone(), nil
}

// Get accepts either the id or the slug.
func (m *Manager) Get(idOrSlug string) (Tournament, error) {
	e, err := m.entry(idOrSlug)
	if err != nil {
		return Tournament{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Clone(), nil
}

func (m *Manager) List() []Tournament {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.items))
	for _, e := range m.items {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]Tournament, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.t.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) Join(ctx context.Context, tournamentID string, who match.Identity) (Tournament, error) {
	if who.ID == "" {
		return Tournament{}, apperr.New(apperr.InvalidArgument, "missing user id")
	}
	e, err := m.entry(tournamentID)
	if err != nil {
		return Tournament{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &e.t
	switch {
	case t.Status != StatusOpen:
		return Tournament{}, ErrAlreadyStarted
	case t.isParticipant(who.ID):
		return Tournament{}, ErrAlreadyRegistered
	case t.Capacity > 0 && len(t.Participants) >= t.Capacity:
		return Tournament{}, ErrTournamentFull
	}
	t.Participants = append(t.Participants, who)

	m.log.Info("participant joined", zap.String("tournament_id", t.ID), zap.String("user_id", who.ID))
	m.persistLocked(ctx, e)
	m.publishLocked(e)
	return t.Clone(), nil
}

func (m *Manager) Leave(ctx context.Context, tournamentID, userID string) (Tournament, error) {
	e, err := m.entry(tournamentID)
	if err != nil {
		return Tournament{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &e.t
	if t.Status != StatusOpen {
		return Tournament{}, ErrAlreadyStarted
	}
	idx := -1
	for i, p := range t.Participants {
		if p.ID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Tournament{}, ErrNotAParticipant
	}
	t.Participants = append(t.Participants[:idx], t.Participants[idx+1:]...)

	m.persistLocked(ctx, e)
	m.publishLocked(e)
	return t.Clone(), nil
}

// Start builds round one and spawns its matches.
func (m *Manager) Start(ctx context.Context, tournamentID, userID string) (Tournament, error) {
	e, err := m.entry(tournamentID)
	if err != nil {
		return Tournament{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &e.t
	switch {
	case t.Organizer != "" && t.Organizer != userID:
		return Tournament{}, ErrNotOrganizer
	case t.Status != StatusOpen:
		return Tournament{}, ErrAlreadyStarted
	case len(t.Participants) < 2:
		return Tournament{}, ErrNotEnoughPlayers
	}

	t.Rounds = []Round{openingRound(t.Participants)}
	t.CurrentRound = 1
	t.Status = StatusInProgress
	t.StartedAt = m.clock.Now()
	m.log.Info("tournament started",
		zap.String("tournament_id", t.ID),
		zap.Int("participants", len(t.Participants)),
		zap.Int("rounds", RoundsFor(len(t.Participants))))

	err = m.scheduleLocked(ctx, e)
	m.persistLocked(ctx, e)
	m.publishLocked(e)
	return t.Clone(), err
}

// AdvanceWinner records winnerID as the winner of matchID. Repeating a call
// for an already resolved match returns the recorded result unchanged.
func (m *Manager) AdvanceWinner(ctx context.Context, tournamentID, matchID, winnerID string, scores [2]int) (Match, error) {
	e, err := m.entry(tournamentID)
	if err != nil {
		return Match{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return m.advanceLocked(ctx, e, matchID, winnerID, scores)
}

// HandleResult feeds a finished tournament session into its bracket.
func (m *Manager) HandleResult(ctx context.Context, r match.Result) error {
	if r.Kind != match.KindTournamentMatch || r.TournamentID == "" {
		return nil
	}
	e, err := m.entry(r.TournamentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if mm := e.t.findMatch(r.MatchID); mm != nil && mm.SessionID != "" && mm.SessionID != r.SessionID {
		m.log.Warn("ignoring result from superseded session",
			zap.String("tournament_id", r.TournamentID),
			zap.String("match_id", r.MatchID),
			zap.String("session_id", r.SessionID))
		return nil
	}
	_, err = m.advanceLocked(ctx, e, r.MatchID, r.Winner.ID, r.Score)
	return err
}

// Rebuild repairs a running bracket: it creates a missing first round,
// records results of finished sessions that never reached the bracket,
// respawns sessions that no longer exist, and constructs any round that is
// due. On a consistent bracket it changes nothing.
func (m *Manager) Rebuild(ctx context.Context, tournamentID string) (Tournament, error) {
	e, err := m.entry(tournamentID)
	if err != nil {
		return Tournament{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &e.t
	if t.Status != StatusInProgress {
		return t.Clone(), nil
	}
	if len(t.Rounds) == 0 {
		t.Rounds = []Round{openingRound(t.Participants)}
	}
	t.CurrentRound = len(t.Rounds)

	r := t.current()
	for i := range r.Matches {
		mm := &r.Matches[i]
		if mm.Status == MatchFinished || mm.SessionID == "" {
			continue
		}
		s, err := m.sessions.Get(ctx, mm.SessionID)
		switch {
		case err == nil:
			if res, ok := s.Result(); ok {
				record(mm, res.Winner.ID, res.Score, res.EndedByForfeit)
			}
		case apperr.CodeOf(err) == apperr.NotFound:
			m.log.Info("respawning lost match session", zap.String("tournament_id", t.ID), zap.String("match_id", mm.ID))
			mm.SessionID = ""
			mm.Status = MatchPending
		default:
			return t.Clone(), fmt.Errorf("rebuild %s: %w", t.ID, err)
		}
	}

	if err := m.scheduleLocked(ctx, e); err != nil {
		return t.Clone(), err
	}
	if err := m.advanceRoundsLocked(ctx, e); err != nil {
		return t.Clone(), err
	}
	m.persistLocked(ctx, e)
	m.publishLocked(e)
	return t.Clone(), nil
}

// Subscribe registers sub for tournamentUpdate frames, plus
// tournamentMatchReady notices addressed to userID.
func (m *Manager) Subscribe(tournamentID, userID string, sub match.Subscriber) error {
	e, err := m.entry(tournamentID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.group.Add(sub)
	e.watchers[sub.ID()] = userID
	e.group.Send(sub.ID(), types.NewServerMessage(proto.EventTournamentUpdate, e.t.Clone()))
	return nil
}

func (m *Manager) Unsubscribe(tournamentID, connID string) {
	e, err := m.entry(tournamentID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.group.Remove(connID)
	delete(e.watchers, connID)
}

func (m *Manager) advanceLocked(ctx context.Context, e *entry, matchID, winnerID string, scores [2]int) (Match, error) {
	t := &e.t
	if t.Status == StatusOpen {
		return Match{}, ErrNotStarted
	}
	mm := t.findMatch(matchID)
	if mm == nil {
		return Match{}, ErrMatchNotFound
	}
	if mm.Status == MatchFinished {
		if mm.Winner == winnerID {
			return *mm, nil
		}
		return Match{}, ErrConflictingResult
	}
	if _, ok := mm.side(winnerID); !ok {
		return Match{}, ErrNotAParticipant
	}
	if mm.SessionID == "" {
		return Match{}, ErrMatchNotFinished
	}
	s, err := m.sessions.Get(ctx, mm.SessionID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.NotFound {
			return Match{}, ErrMatchNotFinished
		}
		return Match{}, fmt.Errorf("look up session %s: %w", mm.SessionID, err)
	}
	if s.Status() != engine.StatusFinished {
		return Match{}, ErrMatchNotFinished
	}
	forfeit := false
	if res, ok := s.Result(); ok {
		if res.Winner.ID != winnerID {
			return Match{}, ErrConflictingResult
		}
		forfeit = res.EndedByForfeit
	}

	record(mm, winnerID, scores, forfeit)
	recorded := *mm
	m.log.Info("winner advanced",
		zap.String("tournament_id", t.ID),
		zap.String("match_id", matchID),
		zap.String("winner", winnerID))

	err = m.advanceRoundsLocked(ctx, e)
	m.persistLocked(ctx, e)
	m.publishLocked(e)
	return recorded, err
}

// advanceRoundsLocked builds the next round once the current one resolves,
// or crowns the champion after the final.
func (m *Manager) advanceRoundsLocked(ctx context.Context, e *entry) error {
	t := &e.t
	for {
		r := t.current()
		if r == nil || !r.resolved() {
			return nil
		}
		adv := r.advancers()
		if len(adv) <= 1 {
			t.Status = StatusCompleted
			t.CompletedAt = m.clock.Now()
			if len(adv) == 1 {
				champ := adv[0]
				t.Champion = &champ
				m.log.Info("tournament completed", zap.String("tournament_id", t.ID), zap.String("champion", champ.ID))
			}
			return nil
		}
		t.Rounds = append(t.Rounds, pairRound(t.CurrentRound+1, adv))
		t.CurrentRound = len(t.Rounds)
		if err := m.scheduleLocked(ctx, e); err != nil {
			return err
		}
	}
}

// scheduleLocked spawns a session for every pending match of the current
// round and tells both players where to go.
func (m *Manager) scheduleLocked(ctx context.Context, e *entry) error {
	t := &e.t
	r := t.current()
	if r == nil {
		return nil
	}
	var errs []error
	for i := range r.Matches {
		mm := &r.Matches[i]
		if mm.Status != MatchPending {
			continue
		}
		s, err := m.sessions.Create(ctx, match.Spec{
			Kind:         match.KindTournamentMatch,
			Players:      mm.Players,
			TournamentID: t.ID,
			MatchID:      mm.ID,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", mm.ID, err))
			continue
		}
		mm.SessionID = s.ID()
		mm.Status = MatchScheduled
		m.notifyReadyLocked(e, *mm)
	}
	return errors.Join(errs...)
}

func (m *Manager) notifyReadyLocked(e *entry, mm Match) {
	for side, p := range mm.Players {
		msg := types.NewServerMessage(proto.EventTournamentMatchReady, proto.TournamentMatchReady{
			TournamentID: e.t.ID,
			MatchID:      mm.ID,
			SessionID:    mm.SessionID,
			GameURL:      proto.GameURL(mm.SessionID),
			Opponent:     mm.Players[1-side].Name,
		})
		for connID, userID := range e.watchers {
			if userID == p.ID {
				e.group.Send(connID, msg)
			}
		}
	}
}

func (m *Manager) publishLocked(e *entry) {
	e.group.Publish(types.NewServerMessage(proto.EventTournamentUpdate, e.t.Clone()))
}

func (m *Manager) persistLocked(ctx context.Context, e *entry) {
	if m.repo == nil {
		return
	}
	if err := m.repo.SaveTournament(ctx, e.t.Clone()); err != nil {
		m.log.Error("persist tournament", zap.String("tournament_id", e.t.ID), zap.Error(err))
	}
}

func (m *Manager) entry(idOrSlug string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[idOrSlug]; ok {
		return e, nil
	}
	for _, e := range m.items {
		// Slug never changes after Create.
		if e.t.Slug == idOrSlug && idOrSlug != "" {
			return e, nil
		}
	}
	return nil, ErrTournamentNotFound
}

func newEntry(t Tournament) *entry {
	return &entry{
		t:        t,
		group:    fanout.NewGroup[types.ServerMessage](),
		watchers: make(map[string]string),
	}
}

func record(mm *Match, winnerID string, scores [2]int, forfeit bool) {
	mm.Winner = winnerID
	mm.Scores = scores
	mm.EndedByForfeit = forfeit
	mm.Status = MatchFinished
}
