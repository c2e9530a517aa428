package match

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/fanout"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

// View is a race-free copy of the session's state.
type View struct {
	Spec           Spec               `json:"spec"`
	State          engine.State       `json:"state"`
	Players        []proto.PlayerInfo `json:"players"`
	SpectatorCount int                `json:"spectatorCount"`
	Subscribers    int                `json:"subscribers"`
	RematchFrom    string             `json:"rematchFrom,omitempty"`
	RematchSession string             `json:"rematchSession,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
}

type slot struct {
	Identity
	connID    string
	connected bool
	seen      bool
	grace     clockwork.Timer
	graceGen  int
}

type negotiation struct {
	from     engine.Side
	deadline time.Time
	timer    clockwork.Timer
	gen      int
	next     string
}

type Session struct {
	spec  Spec
	cfg   Config
	log   *zap.Logger
	clock clockwork.Clock
	inbox chan Msg
	group *fanout.Group[types.ServerMessage]

	// owned by loop
	state      engine.State
	slots      [2]slot
	spectators map[string]Identity
	ticker     clockwork.Ticker
	rematch    *negotiation
	rematchGen int
	createdAt  time.Time

	// latest direction per side, overwritten by Move and drained by tick
	moves      [2]atomic.Int32
	status     atomic.Value
	finishedAt atomic.Int64
	result     atomic.Pointer[Result]

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(parent context.Context, spec Spec, cfg Config) *Session {
	cfg = cfg.withDefaults()
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if spec.Kind == "" {
		spec.Kind = KindCustomLobby
	}
	ctx, cancel := context.WithCancel(parent)

	s := &Session{
		spec:       spec,
		cfg:        cfg,
		log:        cfg.Logger.With(zap.String("session_id", spec.ID), zap.String("kind", string(spec.Kind))),
		clock:      cfg.Clock,
		inbox:      make(chan Msg, cfg.InboxSize),
		group:      fanout.NewGroup[types.ServerMessage](),
		state:      engine.NewState(cfg.Rules),
		spectators: make(map[string]Identity),
		createdAt:  cfg.Clock.Now(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for i, p := range spec.Players {
		s.slots[i].Identity = p
	}
	s.status.Store(s.state.Status)
	s.group.OnEvict = func(id string) {
		s.log.Info("dropped slow subscriber", zap.String("conn_id", id))
	}

	go s.loop()
	return s
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.Chan()
		}

		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case <-tick:
			s.tick()

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Attach:
				msg.Reply <- s.attach(msg)

			case Detach:
				s.detach(msg)

			case Forfeit:
				msg.Reply <- s.forfeit(msg.UserID)

			case RequestRematch:
				msg.Reply <- s.requestRematch(msg.UserID)

			case AcceptRematch:
				msg.Reply <- s.acceptRematch(msg.UserID)

			case DeclineRematch:
				msg.Reply <- s.declineRematch(msg.UserID)

			case Chat:
				msg.Reply <- s.chat(msg)

			case GetState:
				msg.Reply <- s.view()

			case graceExpired:
				s.onGraceExpired(msg)

			case rematchExpired:
				s.onRematchExpired(msg)

			case Shutdown:
				s.shutdown()
				s.cancel()
				return
			}
		}
	}
}

func (s *Session) shutdown() {
	s.stopTicker()
	for side := range s.slots {
		s.stopGrace(engine.Side(side))
	}
	if s.rematch != nil && s.rematch.timer != nil {
		s.rematch.timer.Stop()
	}
	s.group.Clear()
}

func (s *Session) tick() {
	var in engine.Input
	for side := range s.moves {
		in[side] = decodeDirection(s.moves[side].Swap(0))
	}

	events, next := engine.Step(s.state, in)
	s.state = next
	s.publish(proto.EventGameStateUpdate, s.state)

	for _, ev := range events {
		if ev.Type == engine.EvtGameCompleted {
			s.finish(ev.Side, false)
			return
		}
	}
}

func (s *Session) attach(msg Attach) AttachResult {
	if msg.Sub == nil {
		return AttachResult{Err: ErrNoSubscriber}
	}
	connID := msg.Sub.ID()
	side, isPlayer := s.sideOf(msg.UserID)

	if msg.Spectator || !isPlayer {
		s.spectators[connID] = Identity{ID: msg.UserID, Name: msg.Name}
		s.group.Add(msg.Sub)
		s.group.Send(connID, s.joined(proto.RoleSpectator))
		s.publishPlayers()
		return AttachResult{Role: proto.RoleSpectator}
	}

	sl := &s.slots[side]
	if sl.connID != "" && sl.connID != connID {
		// A newer connection for the same identity supersedes the old one.
		s.group.Remove(sl.connID)
	}
	reconnected := sl.seen && !sl.connected
	sl.connID = connID
	sl.connected = true
	sl.seen = true
	if sl.Name == "" {
		sl.Name = msg.Name
	}
	s.stopGrace(side)

	s.group.Add(msg.Sub)
	s.group.Send(connID, s.joined(proto.RolePlayer))
	if reconnected {
		s.log.Info("player reconnected", zap.String("user_id", sl.ID))
		s.publish(proto.EventPlayerReconnected, proto.PlayerEvent{PlayerID: sl.ID, PlayerName: sl.Name})
	}
	s.publishPlayers()
	s.maybeStart()
	return AttachResult{Role: proto.RolePlayer}
}

func (s *Session) maybeStart() {
	if !s.slots[engine.SideLeft].connected || !s.slots[engine.SideRight].connected {
		return
	}
	switch s.state.Status {
	case engine.StatusWaiting:
		s.setStatus(engine.StatusPlaying)
		s.log.Info("match started")
		s.publish(proto.EventGameStarted, s.state)
		s.publish(proto.EventGameStateUpdate, s.state)
		s.startTicker()
	case engine.StatusPaused:
		s.setStatus(engine.StatusPlaying)
		s.log.Info("match resumed")
		s.publish(proto.EventGameResumed, s.state)
		s.startTicker()
	}
}

func (s *Session) detach(msg Detach) {
	if _, ok := s.spectators[msg.ConnID]; ok {
		delete(s.spectators, msg.ConnID)
		s.group.Remove(msg.ConnID)
		s.publishPlayers()
		return
	}

	side, ok := s.sideOfConn(msg.ConnID)
	if !ok {
		return
	}
	sl := &s.slots[side]
	sl.connected = false
	sl.connID = ""
	s.group.Remove(msg.ConnID)

	switch s.state.Status {
	case engine.StatusPlaying, engine.StatusPaused:
		if !msg.Abrupt {
			s.abandon(side)
			return
		}
		s.suspend(side)
	}
	s.publishPlayers()
}

// suspend pauses simulation for a lost player and starts its grace window.
func (s *Session) suspend(side engine.Side) {
	sl := &s.slots[side]
	if s.state.Status == engine.StatusPlaying {
		s.stopTicker()
		s.setStatus(engine.StatusPaused)
		s.publish(proto.EventGamePaused, proto.GamePaused{Reason: proto.EventPlayerDisconnected})
	}

	s.stopGrace(side)
	gen := sl.graceGen
	sl.grace = s.clock.AfterFunc(s.cfg.GraceWindow, func() {
		s.post(graceExpired{side: side, gen: gen})
	})

	s.log.Info("player disconnected", zap.String("user_id", sl.ID), zap.Duration("grace", s.cfg.GraceWindow))
	s.publish(proto.EventPlayerDisconnected, proto.PlayerEvent{
		PlayerID:     sl.ID,
		PlayerName:   sl.Name,
		GraceSeconds: int(s.cfg.GraceWindow / time.Second),
	})
}

func (s *Session) onGraceExpired(msg graceExpired) {
	sl := &s.slots[msg.side]
	if msg.gen != sl.graceGen || sl.connected || s.state.Status == engine.StatusFinished {
		return
	}
	sl.grace = nil
	s.abandon(msg.side)
}

func (s *Session) abandon(side engine.Side) {
	sl := s.slots[side]
	s.log.Info("player abandoned match", zap.String("user_id", sl.ID))
	s.publish(proto.EventPlayerAbandoned, proto.PlayerEvent{PlayerID: sl.ID, PlayerName: sl.Name})
	s.finish(side.Opponent(), true)
}

func (s *Session) forfeit(userID string) error {
	side, ok := s.sideOf(userID)
	if !ok {
		return ErrNotAPlayer
	}
	switch s.state.Status {
	case engine.StatusPlaying, engine.StatusPaused:
	default:
		return ErrNotPlaying
	}
	s.log.Info("player forfeited", zap.String("user_id", userID))
	s.finish(side.Opponent(), true)
	return nil
}

func (s *Session) finish(winner engine.Side, byForfeit bool) {
	s.stopTicker()
	for side := range s.slots {
		s.stopGrace(engine.Side(side))
	}
	s.setStatus(engine.StatusFinished)

	now := s.clock.Now()
	w := s.slots[winner].Identity
	res := Result{
		SessionID:      s.spec.ID,
		Kind:           s.spec.Kind,
		TournamentID:   s.spec.TournamentID,
		MatchID:        s.spec.MatchID,
		Players:        [2]Identity{s.slots[0].Identity, s.slots[1].Identity},
		Winner:         w,
		Score:          s.state.Score,
		EndedByForfeit: byForfeit,
		FinishedAt:     now,
	}
	s.result.Store(&res)
	s.finishedAt.Store(now.UnixNano())

	s.log.Info("match finished",
		zap.String("winner", w.ID),
		zap.Ints("score", s.state.Score[:]),
		zap.Bool("forfeit", byForfeit))

	s.publish(proto.EventGameEnded, proto.GameEnded{
		Winner:         w.ID,
		WinnerName:     w.Name,
		FinalScore:     s.state.Score,
		EndedByForfeit: byForfeit,
	})
	if s.spec.Kind == KindTournamentMatch {
		s.publish(proto.EventTournamentMatchEnded, proto.TournamentMatchEnded{
			Winner:       w.ID,
			FinalScore:   s.state.Score,
			TournamentID: s.spec.TournamentID,
			MatchID:      s.spec.MatchID,
			RedirectURL:  proto.TournamentURL(s.spec.TournamentID),
			Message:      fmt.Sprintf("%s advances", displayName(w)),
		})
	}

	if s.cfg.OnFinish != nil {
		go s.cfg.OnFinish(res)
	}
}

func (s *Session) chat(msg Chat) error {
	side, ok := s.sideOfConn(msg.ConnID)
	if !ok {
		return ErrNotAPlayer
	}
	if strings.TrimSpace(msg.Text) == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(msg.Text) > MaxChatLength {
		return ErrMessageTooLong
	}
	sl := s.slots[side]
	s.group.PublishExcept(msg.ConnID, types.NewServerMessage(proto.EventChatMessage, proto.ChatMessage{
		Username:  displayName(sl.Identity),
		Message:   msg.Text,
		Timestamp: s.clock.Now().UnixMilli(),
		SenderID:  sl.ID,
	}))
	return nil
}

func (s *Session) view() View {
	v := View{
		Spec:           s.spec,
		State:          s.state,
		Players:        s.players(),
		SpectatorCount: len(s.spectators),
		Subscribers:    s.group.Len(),
		CreatedAt:      s.createdAt,
	}
	v.Spec.Players = [2]Identity{s.slots[0].Identity, s.slots[1].Identity}
	if s.rematch != nil {
		v.RematchFrom = s.slots[s.rematch.from].ID
		v.RematchSession = s.rematch.next
	}
	return v
}

func (s *Session) players() []proto.PlayerInfo {
	out := make([]proto.PlayerInfo, 0, len(s.slots))
	for i, sl := range s.slots {
		out = append(out, proto.PlayerInfo{
			ID:        sl.ID,
			Name:      sl.Name,
			Side:      engine.Side(i).String(),
			Connected: sl.connected,
		})
	}
	return out
}

func (s *Session) joined(role string) types.ServerMessage {
	return types.NewServerMessage(proto.EventGameJoined, proto.GameJoined{
		Role:      role,
		SessionID: s.spec.ID,
		Kind:      string(s.spec.Kind),
		GameState: s.state,
		Players:   s.players(),
		Field:     proto.DefaultField,
	})
}

func (s *Session) publishPlayers() {
	s.publish(proto.EventPlayersUpdate, proto.PlayersUpdate{
		Players:        s.players(),
		SpectatorCount: len(s.spectators),
	})
}

func (s *Session) publish(event string, data any) {
	s.group.Publish(types.NewServerMessage(event, data))
}

func (s *Session) setStatus(st engine.Status) {
	s.state.Status = st
	s.status.Store(st)
}

func (s *Session) startTicker() {
	if s.ticker != nil {
		return
	}
	s.ticker = s.clock.NewTicker(s.cfg.TickInterval())
}

func (s *Session) stopTicker() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	s.moves[engine.SideLeft].Store(0)
	s.moves[engine.SideRight].Store(0)
}

// stopGrace cancels a pending grace timer. Bumping the generation also
// neutralises a timer that already fired but whose message is still queued.
func (s *Session) stopGrace(side engine.Side) {
	sl := &s.slots[side]
	if sl.grace != nil {
		sl.grace.Stop()
		sl.grace = nil
	}
	sl.graceGen++
}

func (s *Session) sideOf(userID string) (engine.Side, bool) {
	if userID == "" {
		return 0, false
	}
	for i, p := range s.spec.Players {
		if p.ID == userID {
			return engine.Side(i), true
		}
	}
	return 0, false
}

func (s *Session) sideOfConn(connID string) (engine.Side, bool) {
	if connID == "" {
		return 0, false
	}
	for i, sl := range s.slots {
		if sl.connID == connID {
			return engine.Side(i), true
		}
	}
	return 0, false
}

// post delivers a timer message unless the session has stopped.
func (s *Session) post(m Msg) {
	select {
	case s.inbox <- m:
	case <-s.ctx.Done():
	}
}

func displayName(id Identity) string {
	if id.Name != "" {
		return id.Name
	}
	return id.ID
}

func encodeDirection(d engine.Direction) int32 {
	switch d {
	case engine.DirUp:
		return 1
	case engine.DirDown:
		return 2
	default:
		return 0
	}
}

func decodeDirection(v int32) engine.Direction {
	switch v {
	case 1:
		return engine.DirUp
	case 2:
		return engine.DirDown
	default:
		return engine.DirNone
	}
}
