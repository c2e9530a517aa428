// Package hub is the process-wide session registry. Like the sessions it
// owns, it is an actor: one goroutine holds the id -> session table.
package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

var (
	ErrSessionNotFound = apperr.New(apperr.NotFound, "session not found")
	ErrSessionExists   = apperr.New(apperr.Conflict, "session id already in use")
	ErrHubClosed       = apperr.New(apperr.InvalidState, "hub is shut down")
)

// ResultListener observes every finished session. Listeners run on their own
// goroutine and may call back into the hub.
type ResultListener func(match.Result)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Spec  match.Spec
	Reply chan createReply
}

type createReply struct {
	session *match.Session
	err     error
}

type GetSession struct {
	ID    string
	Reply chan *match.Session
}

type ListSessions struct {
	Reply chan []*match.Session
}

type RemoveSession struct {
	ID string
}

type SweepFinished struct {
	Retention time.Duration
	Reply     chan int
}

type AddListener struct {
	Fn ResultListener
}

type ShutdownHub struct{}

type sessionFinished struct {
	result match.Result
}

func (CreateSession) isHubMsg()   {}
func (GetSession) isHubMsg()      {}
func (ListSessions) isHubMsg()    {}
func (RemoveSession) isHubMsg()   {}
func (SweepFinished) isHubMsg()   {}
func (AddListener) isHubMsg()     {}
func (ShutdownHub) isHubMsg()     {}
func (sessionFinished) isHubMsg() {}

type Hub struct {
	inbox     chan HubMsg
	sessions  map[string]*match.Session
	listeners []ResultListener
	cfg       match.Config
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewHub starts the registry. cfg is the template for every session it
// creates; its Spawn and OnFinish hooks are replaced by the hub's own.
func NewHub(parent context.Context, cfg match.Config) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*match.Session),
		log:      cfg.Logger.Named("hub"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	cfg.Logger = cfg.Logger.Named("match")
	cfg.Spawn = h.Create
	cfg.OnFinish = func(r match.Result) { h.post(sessionFinished{result: r}) }
	h.cfg = cfg

	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				if _, ok := h.sessions[msg.Spec.ID]; ok && msg.Spec.ID != "" {
					msg.Reply <- createReply{err: ErrSessionExists}
					break
				}
				s := match.NewSession(h.ctx, msg.Spec, h.cfg)
				h.sessions[s.ID()] = s
				h.log.Debug("session created", zap.String("session_id", s.ID()), zap.String("kind", string(msg.Spec.Kind)))
				msg.Reply <- createReply{session: s}

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // May be nil

			case ListSessions:
				out := make([]*match.Session, 0, len(h.sessions))
				for _, s := range h.sessions {
					out = append(out, s)
				}
				msg.Reply <- out

			case RemoveSession:
				if s := h.sessions[msg.ID]; s != nil {
					s.Stop()
					delete(h.sessions, msg.ID)
				}

			case SweepFinished:
				msg.Reply <- h.sweep(msg.Retention)

			case AddListener:
				h.listeners = append(h.listeners, msg.Fn)

			case sessionFinished:
				for _, fn := range h.listeners {
					go fn(msg.result)
				}

			case ShutdownHub:
				h.shutdown()
				h.cancel()
				return
			}
		}
	}
}

// sweep drops sessions that finished more than retention ago, and any whose
// actor already exited.
func (h *Hub) sweep(retention time.Duration) int {
	now := h.now()
	removed := 0
	for id, s := range h.sessions {
		select {
		case <-s.Done():
			delete(h.sessions, id)
			removed++
			continue
		default:
		}
		if s.Status() != engine.StatusFinished {
			continue
		}
		if now.Sub(s.FinishedAt()) < retention {
			continue
		}
		s.Stop()
		delete(h.sessions, id)
		removed++
	}
	if removed > 0 {
		h.log.Info("swept finished sessions", zap.Int("removed", removed), zap.Int("remaining", len(h.sessions)))
	}
	return removed
}

func (h *Hub) shutdown() {
	for id, s := range h.sessions {
		s.Stop()
		delete(h.sessions, id)
	}
}

func (h *Hub) now() time.Time {
	if h.cfg.Clock != nil {
		return h.cfg.Clock.Now()
	}
	return time.Now()
}

func (h *Hub) post(m HubMsg) {
	select {
	case h.inbox <- m:
	case <-h.ctx.Done():
	}
}
