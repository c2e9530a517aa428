package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/lobby"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
)

// Sessions is the part of the session registry the API reads.
type Sessions interface {
	Get(ctx context.Context, id string) (*match.Session, error)
}

// Results finds results of sessions that have already left the registry.
type Results interface {
	LoadMatchResult(ctx context.Context, sessionID string) (match.Result, error)
}

type Deps struct {
	Sessions    Sessions
	Results     Results
	Lobbies     *lobby.Manager
	Tournaments *tournament.Manager
	Auth        *auth.Verifier
	// Gateway serves /ws.
	Gateway http.Handler
	Logger  *zap.Logger
}

type api struct {
	Deps
	log *zap.Logger
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Auth == nil {
		d.Auth = auth.NewVerifier("", nil, d.Logger)
	}
	a := &api{Deps: d, log: d.Logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthz", Healthz)
	if d.Gateway != nil {
		r.Method(http.MethodGet, "/ws", d.Gateway)
	}

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(a.log))
		r.Use(d.Auth.Middleware)

		r.Post("/lobbies", a.createLobby)
		r.Get("/lobbies/{id}", a.getLobby)
		r.Post("/lobbies/{id}/join", a.joinLobby)
		r.Post("/lobbies/{id}/leave", a.leaveLobby)
		r.Delete("/lobbies/{id}", a.closeLobby)
		r.Post("/quickmatch", a.quickMatch)

		r.Get("/sessions/{id}", a.getSession)

		r.Route("/tournaments", func(r chi.Router) {
			r.Post("/", a.createTournament)
			r.Get("/", a.listTournaments)
			r.Get("/{id}", a.getTournament)
			r.Post("/{id}/join", a.joinTournament)
			r.Post("/{id}/leave", a.leaveTournament)
			r.Post("/{id}/start", a.startTournament)
			r.Post("/{id}/rebuild", a.rebuildTournament)
			r.Post("/{id}/matches/{matchId}/winner", a.advanceWinner)
		})
	})
	return r
}
