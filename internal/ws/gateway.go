// Package ws is the connection gateway. It upgrades HTTP requests to
// websockets, binds each connection to at most one session, and routes
// inbound events to the session, lobby or tournament they concern. It owns
// no game state.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/lobby"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
)

var ErrUnknownConnection = apperr.New(apperr.NotFound, "connection not found")

// Sessions looks up live sessions. *hub.Hub satisfies it.
type Sessions interface {
	Get(ctx context.Context, id string) (*match.Session, error)
}

type Options struct {
	Sessions    Sessions
	Lobbies     *lobby.Manager
	Tournaments *tournament.Manager
	Auth        *auth.Verifier
	Logger      *zap.Logger

	// OriginPatterns are passed to the websocket handshake; same-host
	// requests are always accepted.
	OriginPatterns []string
	OutboxSize     int
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

const (
	defaultOutboxSize   = 64
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 3 * time.Second
	readLimit           = 8 << 10
)

type Gateway struct {
	opts Options
	log  *zap.Logger

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewGateway(opts Options) *Gateway {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewVerifier("", nil, opts.Logger)
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Gateway{
		opts:  opts,
		log:   opts.Logger.Named("ws"),
		conns: make(map[string]*Conn),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	who, ok, err := g.opts.Auth.Resolve(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !ok && !g.opts.Auth.DevMode() {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{types.SubprotocolMsgpack, types.SubprotocolJSON},
		OriginPatterns: g.opts.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the response.
		g.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	wsConn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(g, wsConn, uuid.NewString(), who, !g.opts.Auth.DevMode(), cancel)
	g.register(c)
	defer g.unregister(c.id)

	c.log.Debug("connection opened", zap.String("codec", c.codec.Name()), zap.String("user_id", who.ID))
	err = c.serve(ctx)
	c.cleanup()

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		_ = wsConn.Close(websocket.StatusNormalClosure, "")
	default:
		c.log.Debug("connection lost", zap.Error(err))
		_ = wsConn.CloseNow()
	}
}

// Bind attaches the connection to a session, as a player when its identity
// holds one of the session's slots and as a spectator otherwise. A previous
// binding is released first.
func (g *Gateway) Bind(ctx context.Context, connID, sessionID string, spectator bool) (string, error) {
	c, ok := g.conn(connID)
	if !ok {
		return "", ErrUnknownConnection
	}
	return c.bind(ctx, sessionID, spectator)
}

// Unbind releases the connection's session binding as a voluntary leave.
func (g *Gateway) Unbind(ctx context.Context, connID string) error {
	c, ok := g.conn(connID)
	if !ok {
		return ErrUnknownConnection
	}
	return c.unbind(ctx, false)
}

// Len is the number of open connections.
func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// CloseAll drops every open connection. http.Server.Shutdown does not wait
// for hijacked connections, so the server calls this on the way out.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	conns := make([]*Conn, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()
	for _, c := range conns {
		c.cancel()
	}
}

func (g *Gateway) register(c *Conn) {
	g.mu.Lock()
	g.conns[c.id] = c
	g.mu.Unlock()
}

func (g *Gateway) unregister(id string) {
	g.mu.Lock()
	delete(g.conns, id)
	g.mu.Unlock()
}

func (g *Gateway) conn(id string) (*Conn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.conns[id]
	return c, ok
}
