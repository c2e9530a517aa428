package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/arcade-match-backend/internal/auth"
	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/fanout"
	"github.com/DoyleJ11/arcade-match-backend/internal/hub"
	"github.com/DoyleJ11/arcade-match-backend/internal/lobby"
	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/store"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
)

type fixture struct {
	t           *testing.T
	hub         *hub.Hub
	store       *store.Memory
	tournaments *tournament.Manager
	srv         *httptest.Server
}

func newFixture(t *testing.T, verifier *auth.Verifier) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	log := zaptest.NewLogger(t)
	h := hub.NewHub(context.Background(), match.Config{Clock: clock, Logger: log})
	t.Cleanup(h.Shutdown)
	st := store.NewMemory()
	f := &fixture{
		t:           t,
		hub:         h,
		store:       st,
		tournaments: tournament.NewManager(h, st, clock, log),
	}
	f.srv = httptest.NewServer(SetupRoutes(Deps{
		Sessions:    h,
		Results:     st,
		Lobbies:     lobby.NewManager(h, clock, log),
		Tournaments: f.tournaments,
		Auth:        verifier,
		Logger:      log,
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// do sends a request as user (dev-mode header) and decodes the JSON reply
// into out when out is non-nil.
func (f *fixture) do(method, path, user string, body any, out any) int {
	f.t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(f.t, err)
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(f.t, err)
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Name", "Player "+user)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errorReply struct {
	Error errorBody `json:"error"`
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestLobbyFlow(t *testing.T) {
	f := newFixture(t, nil)

	var e errorReply
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/lobbies", "", nil, &e))
	assert.Equal(t, "unauthenticated", e.Error.Code)

	var l lobby.Lobby
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/lobbies", "ann", nil, &l))
	assert.Equal(t, "ann", l.Host.ID)
	assert.Equal(t, lobby.StatusWaiting, l.Status)

	var got lobby.Lobby
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/lobbies/"+l.ID, "", nil, &got))
	assert.Equal(t, l.ID, got.ID)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodDelete, "/lobbies/"+l.ID, "ben", nil, nil))

	var res lobby.JoinResult
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/lobbies/"+l.ID+"/join", "ben", nil, &res))
	assert.False(t, res.IsWaiting)
	require.NotEmpty(t, res.SessionID)

	s, err := f.hub.Get(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "ann", s.Spec().Players[0].ID)
	assert.Equal(t, "ben", s.Spec().Players[1].ID)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/lobbies/"+l.ID+"/join", "cat", nil, &e))
	assert.Equal(t, "conflict", e.Error.Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/lobbies/NOPE", "", nil, nil))
}

func TestLobbyLeaveAndClose(t *testing.T) {
	f := newFixture(t, nil)

	var l lobby.Lobby
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/lobbies", "ann", nil, &l))
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/lobbies/"+l.ID+"/leave", "ben", nil, nil))
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/lobbies/"+l.ID, "ann", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/lobbies/"+l.ID, "", nil, nil))

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/lobbies", "ann", nil, &l))
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/lobbies/"+l.ID+"/leave", "ann", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/lobbies/"+l.ID, "", nil, nil))
}

func TestQuickMatch(t *testing.T) {
	f := newFixture(t, nil)

	var first, again, second lobby.JoinResult
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/quickmatch", "ann", nil, &first))
	assert.True(t, first.IsWaiting)
	require.Equal(t, http.StatusAccepted, f.do(http.MethodPost, "/quickmatch", "ann", nil, &again))
	assert.Equal(t, first.LobbyID, again.LobbyID)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/quickmatch", "ben", nil, &second))
	assert.Equal(t, first.LobbyID, second.LobbyID)
	assert.NotEmpty(t, second.SessionID)
}

func TestSessionLookup(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	s, err := f.hub.Create(ctx, match.Spec{Kind: match.KindCustomLobby, Players: [2]match.Identity{
		{ID: "ann", Name: "Ann"}, {ID: "ben", Name: "Ben"},
	}})
	require.NoError(t, err)

	var live sessionResponse
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/sessions/"+s.ID(), "", nil, &live))
	require.NotNil(t, live.Live)
	assert.Equal(t, s.ID(), live.Live.Spec.ID)
	assert.Nil(t, live.Result)

	archived := match.Result{
		SessionID:  "gone",
		Kind:       match.KindQuickMatch,
		Players:    [2]match.Identity{{ID: "ann"}, {ID: "ben"}},
		Winner:     match.Identity{ID: "ben"},
		Score:      [2]int{3, 11},
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, f.store.SaveMatchResult(ctx, archived))

	var old sessionResponse
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/sessions/gone", "", nil, &old))
	assert.Nil(t, old.Live)
	require.NotNil(t, old.Result)
	assert.Equal(t, "ben", old.Result.Winner.ID)
	assert.Equal(t, [2]int{3, 11}, old.Result.Score)

	var e errorReply
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/sessions/missing", "", nil, &e))
	assert.Equal(t, "not_found", e.Error.Code)
}

func TestTournamentFlow(t *testing.T) {
	f := newFixture(t, nil)

	var bad errorReply
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/tournaments", "org", map[string]any{"name": " "}, &bad))
	assert.Equal(t, "invalid_argument", bad.Error.Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/tournaments", "org", map[string]any{"nom": "x"}, nil))

	var tr tournament.Tournament
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/tournaments", "org",
		map[string]any{"name": "Office Cup", "capacity": 4}, &tr))
	assert.Equal(t, "org", tr.Organizer)

	for _, id := range []string{"a", "b"} {
		require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tournaments/"+tr.Slug+"/join", id, nil, nil))
	}
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/join", "a", nil, nil))
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/start", "a", nil, nil))

	var list []tournament.Tournament
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/tournaments", "", nil, &list))
	require.Len(t, list, 1)

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/start", "org", nil, &tr))
	assert.Equal(t, tournament.StatusInProgress, tr.Status)
	require.Len(t, tr.Rounds, 1)
	final := tr.Rounds[0].Matches[0]
	require.NotEmpty(t, final.SessionID)

	winPath := fmt.Sprintf("/tournaments/%s/matches/%s/winner", tr.ID, final.ID)
	body := map[string]any{"winnerId": "b", "scores": []int{0, 11}}

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, winPath, "stranger", body, nil))
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, winPath, "a", body, nil),
		"the match has not been played yet")

	forfeitAs(t, f.hub, final, "a")

	var m tournament.Match
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, winPath, "a", body, &m))
	assert.Equal(t, "b", m.Winner)
	assert.Equal(t, tournament.MatchFinished, m.Status)

	var repeat tournament.Match
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, winPath, "org", body, &repeat))
	assert.Equal(t, m, repeat)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, winPath, "org",
		map[string]any{"winnerId": "a", "scores": []int{11, 0}}, nil))

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/tournaments/"+tr.Slug, "", nil, &tr))
	assert.Equal(t, tournament.StatusCompleted, tr.Status)
	require.NotNil(t, tr.Champion)
	assert.Equal(t, "b", tr.Champion.ID)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/rebuild", "a", nil, nil))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/rebuild", "org", nil, &tr))
	assert.Equal(t, tournament.StatusCompleted, tr.Status)
}

func TestTournamentLeave(t *testing.T) {
	f := newFixture(t, nil)
	var tr tournament.Tournament
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/tournaments", "org",
		map[string]any{"name": "Cup"}, &tr))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/join", "a", nil, nil))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tournaments/"+tr.ID+"/leave", "a", nil, &tr))
	assert.Empty(t, tr.Participants)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/tournaments/nope", "", nil, nil))
}

func TestVerifiedRequests(t *testing.T) {
	v := auth.NewVerifier("s3cret", nil, nil)
	f := newFixture(t, v)

	// dev-mode headers are ignored once a secret is configured
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/lobbies", "ann", nil, nil))

	tok, err := v.Issue(match.Identity{ID: "ann", Name: "Ann"}, time.Hour)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/lobbies", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var l lobby.Lobby
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	assert.Equal(t, "Ann", l.Host.Name)

	req, err = http.NewRequest(http.MethodGet, f.srv.URL+"/tournaments", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer junk")
	resp, err = f.srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// forfeitAs seats both players of m and has loser forfeit.
func forfeitAs(t *testing.T, h *hub.Hub, m tournament.Match, loser string) {
	t.Helper()
	ctx := context.Background()
	s, err := h.Get(ctx, m.SessionID)
	require.NoError(t, err)
	for i, p := range m.Players {
		sub := fanout.NewChanSubscriber[types.ServerMessage](fmt.Sprintf("conn-%d", i), 256)
		_, err := s.Attach(ctx, sub, p.ID, p.Name, false)
		require.NoError(t, err)
	}
	require.NoError(t, s.Forfeit(ctx, loser))
	require.Equal(t, engine.StatusFinished, s.Status())
}
