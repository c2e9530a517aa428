package match

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

func (s *Session) rematchAllowed(userID string) (engine.Side, error) {
	side, ok := s.sideOf(userID)
	if !ok {
		return 0, ErrNotAPlayer
	}
	if s.spec.Kind == KindTournamentMatch {
		return 0, ErrRematchUnavailable
	}
	if s.state.Status != engine.StatusFinished {
		return 0, ErrNotFinished
	}
	return side, nil
}

func (s *Session) requestRematch(userID string) error {
	side, err := s.rematchAllowed(userID)
	if err != nil {
		return err
	}
	if n := s.rematch; n != nil {
		switch {
		case n.next != "":
			return ErrRematchClosed
		case n.from == side:
			return nil
		default:
			// Both asked: the second request accepts the first.
			return s.startRematch(side)
		}
	}

	s.rematchGen++
	gen := s.rematchGen
	n := &negotiation{
		from:     side,
		deadline: s.clock.Now().Add(s.cfg.RematchWindow),
		gen:      gen,
	}
	n.timer = s.clock.AfterFunc(s.cfg.RematchWindow, func() {
		s.post(rematchExpired{gen: gen})
	})
	s.rematch = n

	from := s.slots[side]
	s.log.Info("rematch requested", zap.String("user_id", from.ID))
	if opp := s.slots[side.Opponent()]; opp.connID != "" {
		s.group.Send(opp.connID, types.NewServerMessage(proto.EventRematchRequested, proto.RematchRequested{
			FromPlayer: from.ID,
			FromName:   from.Name,
			Deadline:   n.deadline.UnixMilli(),
		}))
	}
	return nil
}

func (s *Session) acceptRematch(userID string) error {
	side, err := s.rematchAllowed(userID)
	if err != nil {
		return err
	}
	n := s.rematch
	if n == nil || n.from == side {
		return ErrNoRematchPending
	}
	if n.next != "" {
		return nil
	}
	return s.startRematch(side)
}

func (s *Session) startRematch(accepter engine.Side) error {
	if s.cfg.Spawn == nil {
		return errors.New("rematch: no session spawner configured")
	}
	spec := Spec{
		ID:      uuid.NewString(),
		Kind:    s.spec.Kind,
		Players: [2]Identity{s.slots[0].Identity, s.slots[1].Identity},
	}
	next, err := s.cfg.Spawn(s.ctx, spec)
	if err != nil {
		return fmt.Errorf("rematch: spawn session: %w", err)
	}

	n := s.rematch
	n.timer.Stop()
	n.next = next.ID()

	s.log.Info("rematch accepted",
		zap.String("user_id", s.slots[accepter].ID),
		zap.String("next_session_id", n.next))
	s.publish(proto.EventRematchStarted, proto.RematchStarted{
		State:     engine.NewState(s.cfg.Rules),
		SessionID: n.next,
		GameURL:   proto.GameURL(n.next),
	})
	return nil
}

func (s *Session) declineRematch(userID string) error {
	side, err := s.rematchAllowed(userID)
	if err != nil {
		return err
	}
	n := s.rematch
	if n == nil || n.next != "" {
		return ErrNoRematchPending
	}
	n.timer.Stop()
	s.rematch = nil

	sl := s.slots[side]
	s.publish(proto.EventRematchDeclined, proto.PlayerEvent{PlayerID: sl.ID, PlayerName: sl.Name})
	return nil
}

func (s *Session) onRematchExpired(msg rematchExpired) {
	n := s.rematch
	if n == nil || n.gen != msg.gen || n.next != "" {
		return
	}
	s.rematch = nil
	s.publish(proto.EventRematchExpired, nil)
}
