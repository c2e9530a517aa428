package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/arcade-match-backend/internal/apperr"
	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/hub"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func lobbyID(r *http.Request) string {
	return strings.ToUpper(chi.URLParam(r, "id"))
}

func (a *api) createLobby(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	l, err := a.Lobbies.CreateLobby(r.Context(), who)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (a *api) getLobby(w http.ResponseWriter, r *http.Request) {
	l, err := a.Lobbies.Get(lobbyID(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *api) joinLobby(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.Lobbies.Join(r.Context(), lobbyID(r), who)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) leaveLobby(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Lobbies.Leave(r.Context(), lobbyID(r), who.ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) closeLobby(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.Lobbies.Close(r.Context(), lobbyID(r), who.ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) quickMatch(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.Lobbies.CreateQuickMatch(r.Context(), who)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.IsWaiting {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

type sessionResponse struct {
	Live   *match.View   `json:"live,omitempty"`
	Result *match.Result `json:"result,omitempty"`
}

// getSession serves a live session's view plus its result once finished.
// Sessions already swept from the registry are answered from the store.
func (a *api) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.Sessions.Get(r.Context(), id)
	if err == nil {
		view, err := s.Snapshot(r.Context())
		if err != nil && !errors.Is(err, match.ErrSessionClosed) {
			a.writeError(w, r, err)
			return
		}
		resp := sessionResponse{}
		if err == nil {
			resp.Live = &view
		}
		if res, ok := s.Result(); ok {
			resp.Result = &res
		}
		if resp.Live != nil || resp.Result != nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	} else if apperr.CodeOf(err) != apperr.NotFound {
		a.writeError(w, r, err)
		return
	}

	if a.Results != nil {
		res, err := a.Results.LoadMatchResult(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, sessionResponse{Result: &res})
			return
		}
		if apperr.CodeOf(err) != apperr.NotFound {
			a.writeError(w, r, err)
			return
		}
	}
	a.writeError(w, r, hub.ErrSessionNotFound)
}
