package hub

import (
	"context"
	"time"

	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

// Create starts a new session. An empty spec ID gets a generated one.
func (h *Hub) Create(ctx context.Context, spec match.Spec) (*match.Session, error) {
	reply := make(chan createReply, 1)
	if err := h.send(ctx, CreateSession{Spec: spec, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.session, r.err
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Get(ctx context.Context, id string) (*match.Session, error) {
	reply := make(chan *match.Session, 1)
	if err := h.send(ctx, GetSession{ID: id, Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case s := <-reply:
		if s == nil {
			return nil, ErrSessionNotFound
		}
		return s, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) List(ctx context.Context) ([]*match.Session, error) {
	reply := make(chan []*match.Session, 1)
	if err := h.send(ctx, ListSessions{Reply: reply}); err != nil {
		return nil, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-h.done:
		return nil, ErrHubClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) Remove(ctx context.Context, id string) error {
	return h.send(ctx, RemoveSession{ID: id})
}

// Sweep removes finished sessions older than retention and reports how many
// went.
func (h *Hub) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	reply := make(chan int, 1)
	if err := h.send(ctx, SweepFinished{Retention: retention, Reply: reply}); err != nil {
		return 0, err
	}
	select {
	case n := <-reply:
		return n, nil
	case <-h.done:
		return 0, ErrHubClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// OnResult registers fn for every session result from now on.
func (h *Hub) OnResult(ctx context.Context, fn ResultListener) error {
	return h.send(ctx, AddListener{Fn: fn})
}

// Shutdown stops every session and the hub itself, and waits for the hub's
// loop to exit.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.done:
	}
	<-h.done
}

func (h *Hub) send(ctx context.Context, m HubMsg) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	select {
	case h.inbox <- m:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
