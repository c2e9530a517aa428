package match

import (
	"context"
	"time"

	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
)

func (s *Session) ID() string { return s.spec.ID }

func (s *Session) Spec() Spec { return s.spec }

// Inbox exposes the actor's mailbox to the hub and tests.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Done is closed when the actor has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Status is safe to call from any goroutine.
func (s *Session) Status() engine.Status {
	return s.status.Load().(engine.Status)
}

// Result returns the outcome once the session has finished.
func (s *Session) Result() (Result, bool) {
	r := s.result.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// FinishedAt is the zero time until the session finishes.
func (s *Session) FinishedAt() time.Time {
	ns := s.finishedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stop cancels the actor without waiting for it.
func (s *Session) Stop() { s.cancel() }

// Move records the latest paddle direction for userID. It never blocks; a
// later call before the next tick overwrites an earlier one.
func (s *Session) Move(userID string, dir engine.Direction) error {
	side, ok := s.sideOf(userID)
	if !ok {
		return ErrNotAPlayer
	}
	if dir != engine.DirUp && dir != engine.DirDown {
		return ErrInvalidDirection
	}
	if s.Status() != engine.StatusPlaying {
		return ErrNotPlaying
	}
	s.moves[side].Store(encodeDirection(dir))
	return nil
}

// Attach binds sub and returns the role it was given.
func (s *Session) Attach(ctx context.Context, sub Subscriber, userID, name string, spectator bool) (string, error) {
	reply := make(chan AttachResult, 1)
	if err := s.send(ctx, Attach{Sub: sub, UserID: userID, Name: name, Spectator: spectator, Reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.Role, res.Err
	case <-s.done:
		return "", ErrSessionClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Session) Detach(ctx context.Context, connID string, abrupt bool) error {
	return s.send(ctx, Detach{ConnID: connID, Abrupt: abrupt})
}

func (s *Session) Forfeit(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	return s.ask(ctx, Forfeit{UserID: userID, Reply: reply}, reply)
}

func (s *Session) RequestRematch(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	return s.ask(ctx, RequestRematch{UserID: userID, Reply: reply}, reply)
}

func (s *Session) AcceptRematch(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	return s.ask(ctx, AcceptRematch{UserID: userID, Reply: reply}, reply)
}

func (s *Session) DeclineRematch(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	return s.ask(ctx, DeclineRematch{UserID: userID, Reply: reply}, reply)
}

// Chat relays text from the player bound to connID to every other subscriber.
func (s *Session) Chat(ctx context.Context, connID, text string) error {
	reply := make(chan error, 1)
	return s.ask(ctx, Chat{ConnID: connID, Text: text, Reply: reply}, reply)
}

func (s *Session) Snapshot(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := s.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-s.done:
		return View{}, ErrSessionClosed
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (s *Session) send(ctx context.Context, m Msg) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- m:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) ask(ctx context.Context, m Msg, reply <-chan error) error {
	if err := s.send(ctx, m); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
