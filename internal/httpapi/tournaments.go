package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
)

type createTournamentRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

type advanceRequest struct {
	WinnerID string `json:"winnerId"`
	Scores   [2]int `json:"scores"`
}

func (a *api) createTournament(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req createTournamentRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Tournaments.Create(r.Context(), who, req.Name, req.Capacity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (a *api) listTournaments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Tournaments.List())
}

func (a *api) getTournament(w http.ResponseWriter, r *http.Request) {
	t, err := a.Tournaments.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) joinTournament(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Tournaments.Join(r.Context(), chi.URLParam(r, "id"), who)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) leaveTournament(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Tournaments.Leave(r.Context(), chi.URLParam(r, "id"), who.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) startTournament(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Tournaments.Start(r.Context(), chi.URLParam(r, "id"), who.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *api) rebuildTournament(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	t, err := a.Tournaments.Get(id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if t.Organizer != who.ID {
		a.writeError(w, r, tournament.ErrNotOrganizer)
		return
	}
	t, err = a.Tournaments.Rebuild(r.Context(), t.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// advanceWinner accepts results from the organizer or either player of the
// match.
func (a *api) advanceWinner(w http.ResponseWriter, r *http.Request) {
	who, err := auth.Require(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	t, err := a.Tournaments.Get(chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	matchID := chi.URLParam(r, "matchId")
	if !mayReport(t, matchID, who.ID) {
		a.writeError(w, r, tournament.ErrNotAParticipant)
		return
	}
	m, err := a.Tournaments.AdvanceWinner(r.Context(), t.ID, matchID, req.WinnerID, req.Scores)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func mayReport(t tournament.Tournament, matchID, userID string) bool {
	if t.Organizer == userID {
		return true
	}
	for _, round := range t.Rounds {
		for _, m := range round.Matches {
			if m.ID == matchID {
				return m.Players[0].ID == userID || m.Players[1].ID == userID
			}
		}
	}
	// unknown matches fall through so the manager reports them
	return true
}
