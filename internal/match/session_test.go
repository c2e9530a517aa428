package match

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/arcade-match-backend/internal/engine"
	"github.com/DoyleJ11/arcade-match-backend/internal/fanout"
	"github.com/DoyleJ11/arcade-match-backend/internal/types"
	proto "github.com/DoyleJ11/arcade-match-backend/pkg/types"
)

const within = time.Second

var (
	alice = Identity{ID: "u-alice", Name: "Alice"}
	bob   = Identity{ID: "u-bob", Name: "Bob"}
)

type testSub = fanout.ChanSubscriber[types.ServerMessage]

type harness struct {
	t       *testing.T
	s       *Session
	clock   *clockwork.FakeClock
	cfg     Config
	results chan Result
	spawned atomic.Int32
}

func newHarness(t *testing.T, kind Kind, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{t: t, clock: clockwork.NewFakeClock(), results: make(chan Result, 4)}
	h.cfg = Config{
		TickRate:      30,
		GraceWindow:   5 * time.Second,
		RematchWindow: 10 * time.Second,
		Rules:         engine.Rules{WinningScore: 11},
		Clock:         h.clock,
		Logger:        zaptest.NewLogger(t),
		OnFinish:      func(r Result) { h.results <- r },
	}
	h.cfg.Spawn = func(ctx context.Context, spec Spec) (*Session, error) {
		h.spawned.Add(1)
		child := h.cfg
		child.Spawn = nil
		child.OnFinish = nil
		return NewSession(ctx, spec, child), nil
	}
	for _, m := range mutate {
		m(&h.cfg)
	}

	spec := Spec{ID: "s1", Kind: kind, Players: [2]Identity{alice, bob}}
	if kind == KindTournamentMatch {
		spec.TournamentID = "t1"
		spec.MatchID = "m1"
	}
	h.s = NewSession(context.Background(), spec, h.cfg)
	t.Cleanup(h.s.Stop)
	return h
}

func newSub(id string) *testSub {
	return fanout.NewChanSubscriber[types.ServerMessage](id, 1024)
}

// recvType skips frames until one of the wanted type arrives.
func recvType(t *testing.T, sub *testSub, want string) types.ServerMessage {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				t.Fatalf("%s: outbox closed while waiting for %s", sub.ID(), want)
			}
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("%s: timed out waiting for %s", sub.ID(), want)
			return types.ServerMessage{}
		}
	}
}

func recvNoType(t *testing.T, sub *testSub, unwanted string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if msg.Type == unwanted {
				t.Fatalf("%s: expected no %s, got %+v", sub.ID(), unwanted, msg.Data)
			}
		case <-deadline:
			return
		}
	}
}

func (h *harness) attach(sub *testSub, who Identity, spectator bool) string {
	h.t.Helper()
	role, err := h.s.Attach(context.Background(), sub, who.ID, who.Name, spectator)
	require.NoError(h.t, err)
	return role
}

// start attaches both players and waits for the match to begin.
func (h *harness) start() (*testSub, *testSub) {
	h.t.Helper()
	a, b := newSub("conn-a"), newSub("conn-b")
	h.attach(a, alice, false)
	h.attach(b, bob, false)
	for _, sub := range []*testSub{a, b} {
		recvType(h.t, sub, proto.EventGameStarted)
		initial := recvType(h.t, sub, proto.EventGameStateUpdate).Data.(engine.State)
		require.Equal(h.t, uint64(0), initial.Tick)
	}
	require.Equal(h.t, engine.StatusPlaying, h.s.Status())
	return a, b
}

func (h *harness) view() View {
	h.t.Helper()
	v, err := h.s.Snapshot(context.Background())
	require.NoError(h.t, err)
	return v
}

func (h *harness) tick(sub *testSub) engine.State {
	h.t.Helper()
	h.clock.Advance(h.cfg.TickInterval())
	msg := recvType(h.t, sub, proto.EventGameStateUpdate)
	st, ok := msg.Data.(engine.State)
	require.True(h.t, ok)
	return st
}

func (h *harness) result() Result {
	h.t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(within):
		h.t.Fatalf("timed out waiting for result")
		return Result{}
	}
}

func TestSession_StartsOnlyWhenBothPlayersConnect(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a := newSub("conn-a")

	assert.Equal(t, proto.RolePlayer, h.attach(a, alice, false))
	joined := recvType(t, a, proto.EventGameJoined).Data.(proto.GameJoined)
	assert.Equal(t, "s1", joined.SessionID)
	assert.Equal(t, engine.StatusWaiting, joined.GameState.Status)
	assert.Equal(t, engine.StatusWaiting, h.s.Status())
	update := recvType(t, a, proto.EventPlayersUpdate).Data.(proto.PlayersUpdate)
	require.Len(t, update.Players, 2)
	assert.True(t, update.Players[0].Connected)
	assert.False(t, update.Players[1].Connected)

	b := newSub("conn-b")
	h.attach(b, bob, false)
	recvType(t, a, proto.EventGameStarted)
	recvType(t, b, proto.EventGameStarted)
	assert.Equal(t, engine.StatusPlaying, h.s.Status())
}

func TestSession_TickAdvancesAndBroadcasts(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a, b := h.start()

	first := h.tick(a)
	assert.Equal(t, uint64(1), first.Tick)
	second := recvType(t, b, proto.EventGameStateUpdate).Data.(engine.State)
	assert.Equal(t, first, second)
}

func TestSession_MoveKeepsOnlyLatestDirectionPerTick(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a, _ := h.start()
	start := h.view().State.Paddles[engine.SideLeft]

	require.NoError(t, h.s.Move(alice.ID, engine.DirUp))
	require.NoError(t, h.s.Move(alice.ID, engine.DirDown))
	st := h.tick(a)
	assert.Equal(t, start+engine.PaddleSpeed, st.Paddles[engine.SideLeft])

	// consumed: the next tick without input leaves the paddle alone
	st2 := h.tick(a)
	assert.Equal(t, st.Paddles[engine.SideLeft], st2.Paddles[engine.SideLeft])
}

func TestSession_MoveRejections(t *testing.T) {
	h := newHarness(t, KindQuickMatch)

	assert.ErrorIs(t, h.s.Move(alice.ID, engine.DirUp), ErrNotPlaying)
	assert.ErrorIs(t, h.s.Move("stranger", engine.DirUp), ErrNotAPlayer)
	assert.ErrorIs(t, h.s.Move(alice.ID, engine.DirNone), ErrInvalidDirection)
}

func TestSession_ScoringToThresholdFinishes(t *testing.T) {
	h := newHarness(t, KindQuickMatch, func(c *Config) { c.Rules.WinningScore = 1 })
	a, _ := h.start()

	var st engine.State
	for i := 0; i < 500; i++ {
		st = h.tick(a)
		if st.Status == engine.StatusFinished {
			break
		}
	}
	require.Equal(t, engine.StatusFinished, st.Status)

	ended := recvType(t, a, proto.EventGameEnded).Data.(proto.GameEnded)
	assert.False(t, ended.EndedByForfeit)
	assert.Equal(t, 1, ended.FinalScore[0]+ended.FinalScore[1])

	res := h.result()
	assert.Equal(t, ended.Winner, res.Winner.ID)
	assert.Equal(t, engine.StatusFinished, h.s.Status())
	assert.False(t, h.s.FinishedAt().IsZero())
}

func TestSession_ForfeitEndsWithOtherPlayerWinning(t *testing.T) {
	h := newHarness(t, KindCustomLobby)
	a, b := h.start()

	require.NoError(t, h.s.Forfeit(context.Background(), alice.ID))

	ended := recvType(t, b, proto.EventGameEnded).Data.(proto.GameEnded)
	assert.Equal(t, bob.ID, ended.Winner)
	assert.True(t, ended.EndedByForfeit)
	recvType(t, a, proto.EventGameEnded)

	res := h.result()
	assert.True(t, res.EndedByForfeit)
	assert.Equal(t, bob, res.Winner)

	assert.ErrorIs(t, h.s.Forfeit(context.Background(), bob.ID), ErrNotPlaying)
}

func TestSession_ForfeitRequiresPlayer(t *testing.T) {
	h := newHarness(t, KindCustomLobby)
	h.start()
	assert.ErrorIs(t, h.s.Forfeit(context.Background(), "stranger"), ErrNotAPlayer)
}

func TestSession_DisconnectPausesUntilReconnect(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	_, b := h.start()
	h.tick(b)

	require.NoError(t, h.s.Detach(context.Background(), "conn-a", true))
	paused := recvType(t, b, proto.EventGamePaused)
	assert.Equal(t, proto.GamePaused{Reason: proto.EventPlayerDisconnected}, paused.Data)
	dc := recvType(t, b, proto.EventPlayerDisconnected).Data.(proto.PlayerEvent)
	assert.Equal(t, alice.ID, dc.PlayerID)
	assert.Equal(t, 5, dc.GraceSeconds)

	before := h.view().State
	assert.Equal(t, engine.StatusPaused, before.Status)

	h.clock.Advance(h.cfg.TickInterval())
	recvNoType(t, b, proto.EventGameStateUpdate, 50*time.Millisecond)

	a2 := newSub("conn-a2")
	h.attach(a2, alice, false)
	recvType(t, b, proto.EventPlayerReconnected)
	resumed := recvType(t, b, proto.EventGameResumed).Data.(engine.State)
	assert.Equal(t, engine.StatusPlaying, resumed.Status)

	resumed.Status = before.Status
	assert.Equal(t, before, resumed)

	next := h.tick(a2)
	assert.Equal(t, before.Tick+1, next.Tick)
}

func TestSession_GraceExpiryForfeits(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	_, b := h.start()

	require.NoError(t, h.s.Detach(context.Background(), "conn-a", true))
	recvType(t, b, proto.EventPlayerDisconnected)
	h.view()

	h.clock.Advance(h.cfg.GraceWindow)
	abandoned := recvType(t, b, proto.EventPlayerAbandoned).Data.(proto.PlayerEvent)
	assert.Equal(t, alice.ID, abandoned.PlayerID)
	ended := recvType(t, b, proto.EventGameEnded).Data.(proto.GameEnded)
	assert.Equal(t, bob.ID, ended.Winner)
	assert.True(t, ended.EndedByForfeit)
}

func TestSession_ReconnectCancelsGraceTimer(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	_, b := h.start()

	require.NoError(t, h.s.Detach(context.Background(), "conn-a", true))
	recvType(t, b, proto.EventPlayerDisconnected)
	h.attach(newSub("conn-a2"), alice, false)
	recvType(t, b, proto.EventGameResumed)

	h.clock.Advance(h.cfg.GraceWindow + time.Second)
	recvNoType(t, b, proto.EventGameEnded, 100*time.Millisecond)
	assert.Equal(t, engine.StatusPlaying, h.s.Status())
}

func TestSession_VoluntaryLeaveAbandons(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	_, b := h.start()

	require.NoError(t, h.s.Detach(context.Background(), "conn-a", false))
	recvType(t, b, proto.EventPlayerAbandoned)
	ended := recvType(t, b, proto.EventGameEnded).Data.(proto.GameEnded)
	assert.Equal(t, bob.ID, ended.Winner)
	assert.True(t, ended.EndedByForfeit)
}

func TestSession_SpectatorsWatchButCannotChat(t *testing.T) {
	h := newHarness(t, KindTournamentMatch)
	a, _ := h.start()

	spec := newSub("conn-spec")
	assert.Equal(t, proto.RoleSpectator, h.attach(spec, Identity{ID: "fan"}, true))
	joined := recvType(t, spec, proto.EventGameJoined).Data.(proto.GameJoined)
	assert.Equal(t, proto.RoleSpectator, joined.Role)

	update := recvType(t, a, proto.EventPlayersUpdate).Data.(proto.PlayersUpdate)
	for update.SpectatorCount == 0 {
		update = recvType(t, a, proto.EventPlayersUpdate).Data.(proto.PlayersUpdate)
	}
	assert.Equal(t, 1, update.SpectatorCount)

	h.tick(spec)
	assert.ErrorIs(t, h.s.Chat(context.Background(), "conn-spec", "hi"), ErrNotAPlayer)
	assert.ErrorIs(t, h.s.Move("fan", engine.DirUp), ErrNotAPlayer)

	// a non-player asking to play is seated as a spectator
	assert.Equal(t, proto.RoleSpectator, h.attach(newSub("conn-x"), Identity{ID: "x"}, false))
	assert.Equal(t, 2, h.view().SpectatorCount)
}

func TestSession_ChatRelaysToEveryoneButSender(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a, b := h.start()
	spec := newSub("conn-spec")
	h.attach(spec, Identity{ID: "fan"}, true)

	require.NoError(t, h.s.Chat(context.Background(), "conn-a", "  gl hf "))

	for _, sub := range []*testSub{b, spec} {
		msg := recvType(t, sub, proto.EventChatMessage).Data.(proto.ChatMessage)
		assert.Equal(t, "  gl hf ", msg.Message)
		assert.Equal(t, alice.ID, msg.SenderID)
		assert.Equal(t, "Alice", msg.Username)
	}
	recvNoType(t, a, proto.EventChatMessage, 50*time.Millisecond)

	assert.ErrorIs(t, h.s.Chat(context.Background(), "conn-a", "   "), ErrEmptyMessage)
}

func finishByForfeit(t *testing.T, h *harness, a, b *testSub) {
	t.Helper()
	require.NoError(t, h.s.Forfeit(context.Background(), bob.ID))
	recvType(t, a, proto.EventGameEnded)
	recvType(t, b, proto.EventGameEnded)
}

func TestSession_RematchAcceptIsIdempotent(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a, b := h.start()
	ctx := context.Background()

	assert.ErrorIs(t, h.s.RequestRematch(ctx, alice.ID), ErrNotFinished)
	finishByForfeit(t, h, a, b)

	require.NoError(t, h.s.RequestRematch(ctx, alice.ID))
	req := recvType(t, b, proto.EventRematchRequested).Data.(proto.RematchRequested)
	assert.Equal(t, alice.ID, req.FromPlayer)
	assert.Equal(t, h.clock.Now().Add(10*time.Second).UnixMilli(), req.Deadline)

	assert.ErrorIs(t, h.s.AcceptRematch(ctx, alice.ID), ErrNoRematchPending)
	require.NoError(t, h.s.AcceptRematch(ctx, bob.ID))
	require.NoError(t, h.s.AcceptRematch(ctx, bob.ID))
	assert.Equal(t, int32(1), h.spawned.Load())

	started := recvType(t, a, proto.EventRematchStarted).Data.(proto.RematchStarted)
	assert.NotEmpty(t, started.SessionID)
	assert.Equal(t, proto.GameURL(started.SessionID), started.GameURL)
	assert.Equal(t, engine.StatusWaiting, started.State.Status)
	assert.Equal(t, started.SessionID, h.view().RematchSession)

	assert.ErrorIs(t, h.s.RequestRematch(ctx, bob.ID), ErrRematchClosed)
}

func TestSession_MutualRequestsStartRematch(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a, b := h.start()
	finishByForfeit(t, h, a, b)
	ctx := context.Background()

	require.NoError(t, h.s.RequestRematch(ctx, alice.ID))
	require.NoError(t, h.s.RequestRematch(ctx, alice.ID))
	require.NoError(t, h.s.RequestRematch(ctx, bob.ID))
	recvType(t, a, proto.EventRematchStarted)
	assert.Equal(t, int32(1), h.spawned.Load())
}

func TestSession_RematchDeclineAndExpiry(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	a, b := h.start()
	finishByForfeit(t, h, a, b)
	ctx := context.Background()

	require.NoError(t, h.s.RequestRematch(ctx, alice.ID))
	require.NoError(t, h.s.DeclineRematch(ctx, bob.ID))
	declined := recvType(t, a, proto.EventRematchDeclined).Data.(proto.PlayerEvent)
	assert.Equal(t, bob.ID, declined.PlayerID)
	assert.ErrorIs(t, h.s.DeclineRematch(ctx, bob.ID), ErrNoRematchPending)

	require.NoError(t, h.s.RequestRematch(ctx, bob.ID))
	h.clock.Advance(h.cfg.RematchWindow)
	recvType(t, a, proto.EventRematchExpired)
	assert.ErrorIs(t, h.s.AcceptRematch(ctx, alice.ID), ErrNoRematchPending)
	assert.Equal(t, int32(0), h.spawned.Load())
}

func TestSession_TournamentMatchReportsAndRefusesRematch(t *testing.T) {
	h := newHarness(t, KindTournamentMatch)
	a, b := h.start()
	finishByForfeit(t, h, a, b)

	ended := recvType(t, a, proto.EventTournamentMatchEnded).Data.(proto.TournamentMatchEnded)
	assert.Equal(t, alice.ID, ended.Winner)
	assert.Equal(t, "t1", ended.TournamentID)
	assert.Equal(t, "m1", ended.MatchID)
	assert.Equal(t, proto.TournamentURL("t1"), ended.RedirectURL)

	res := h.result()
	assert.Equal(t, "m1", res.MatchID)
	assert.ErrorIs(t, h.s.RequestRematch(context.Background(), alice.ID), ErrRematchUnavailable)
}

func TestSession_StoppedSessionRejectsCommands(t *testing.T) {
	h := newHarness(t, KindQuickMatch)
	h.s.Stop()
	select {
	case <-h.s.Done():
	case <-time.After(within):
		t.Fatal("session did not stop")
	}

	_, err := h.s.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = h.s.Attach(context.Background(), newSub("late"), alice.ID, "", false)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
