package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

// Conn is one client connection. It is a fan-out subscriber for whichever
// session, lobby and tournament it is attached to.
type Conn struct {
	id     string
	gw     *Gateway
	ws     *websocket.Conn
	codec  types.Codec
	outbox chan types.ServerMessage
	cancel context.CancelFunc
	log    *zap.Logger

	// verified identities cannot be replaced by event fields
	verified bool

	mu           sync.Mutex
	who          match.Identity
	session      *match.Session
	role         string
	lobbyID      string
	tournamentID string
}

func newConn(g *Gateway, wsConn *websocket.Conn, id string, who match.Identity, verified bool, cancel context.CancelFunc) *Conn {
	return &Conn{
		id:       id,
		gw:       g,
		ws:       wsConn,
		codec:    types.CodecFor(wsConn.Subprotocol()),
		outbox:   make(chan types.ServerMessage, g.opts.OutboxSize),
		cancel:   cancel,
		log:      g.log.With(zap.String("conn_id", id)),
		verified: verified,
		who:      who,
	}
}

func (c *Conn) ID() string { return c.id }

// Offer queues msg without blocking.
func (c *Conn) Offer(msg types.ServerMessage) bool {
	select {
	case c.outbox <- msg:
		return true
	default:
		return false
	}
}

// Evict drops the connection; its session sees an abrupt loss.
func (c *Conn) Evict(reason string) {
	c.log.Info("evicting connection", zap.String("reason", reason))
	c.cancel()
}

// serve runs the reader, writer and pinger until one of them fails.
func (c *Conn) serve(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.readLoop(ctx) })
	eg.Go(func() error { return c.writeLoop(ctx) })
	eg.Go(func() error { return c.pingLoop(ctx) })
	return eg.Wait()
}

func (c *Conn) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		var cm types.ClientMessage
		if err := c.codec.Decode(data, &cm); err != nil {
			c.sendError("", apperr.Wrap(apperr.InvalidArgument, "malformed frame", err))
			continue
		}
		c.dispatch(ctx, cm)
	}
}

func (c *Conn) writeLoop(ctx context.Context) error {
	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.outbox:
			payload, err := c.codec.Encode(msg)
			if err != nil {
				c.log.Error("encode frame", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, c.gw.opts.WriteTimeout)
			err = c.ws.Write(wctx, typ, payload)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (c *Conn) pingLoop(ctx context.Context) error {
	t := time.NewTicker(c.gw.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, c.gw.opts.PingInterval)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// cleanup releases every attachment after the connection is gone. A session
// binding is released as an abrupt loss so the player gets a grace window.
func (c *Conn) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.unbind(ctx, true); err != nil && !errors.Is(err, match.ErrSessionClosed) {
		c.log.Debug("detach on close", zap.Error(err))
	}

	c.mu.Lock()
	lobbyID, tournamentID, who := c.lobbyID, c.tournamentID, c.who
	c.lobbyID, c.tournamentID = "", ""
	c.mu.Unlock()

	if lobbyID != "" && c.gw.opts.Lobbies != nil {
		c.gw.opts.Lobbies.Unsubscribe(lobbyID, c.id)
		// a waiting player who went away should not be paired
		if err := c.gw.opts.Lobbies.Leave(ctx, lobbyID, who.ID); err == nil {
			c.log.Debug("left waiting lobby on close", zap.String("lobby_id", lobbyID))
		}
	}
	if tournamentID != "" && c.gw.opts.Tournaments != nil {
		c.gw.opts.Tournaments.Unsubscribe(tournamentID, c.id)
	}
}

func (c *Conn) bind(ctx context.Context, sessionID string, spectator bool) (string, error) {
	if c.gw.opts.Sessions == nil {
		return "", apperr.New(apperr.Internal, "no session registry")
	}
	s, err := c.gw.opts.Sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	prev, who := c.session, c.who
	c.mu.Unlock()
	if prev != nil && prev != s {
		if err := c.unbind(ctx, false); err != nil && !errors.Is(err, match.ErrSessionClosed) {
			return "", err
		}
	}

	role, err := s.Attach(ctx, c, who.ID, who.Name, spectator)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.session, c.role = s, role
	c.mu.Unlock()
	c.log.Debug("bound", zap.String("session_id", sessionID), zap.String("role", role), zap.String("user_id", who.ID))
	return role, nil
}

// unbind detaches from the bound session, if any. abrupt marks a lost
// connection rather than a deliberate leave.
func (c *Conn) unbind(ctx context.Context, abrupt bool) error {
	c.mu.Lock()
	s := c.session
	c.session, c.role = nil, ""
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Detach(ctx, c.id, abrupt)
}

func (c *Conn) binding() (*match.Session, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session, c.role
}

func (c *Conn) sendError(event string, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.Internal {
		c.log.Error("event failed", zap.String("event", event), zap.Error(err))
	} else {
		c.log.Debug("event rejected", zap.String("event", event), zap.Error(err))
	}
	c.send(proto.EventError, proto.Error{Code: string(code), Message: apperr.Message(err), Event: event})
}

func (c *Conn) send(event string, data any) {
	if !c.Offer(types.NewServerMessage(event, data)) {
		c.Evict("outbox full")
	}
}
