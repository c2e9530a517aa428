package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func playing() State {
	s := NewState(Rules{WinningScore: 11})
	s.Status = StatusPlaying
	return s
}

func TestStep_NotPlayingIsNoop(t *testing.T) {
	for _, status := range []Status{StatusWaiting, StatusPaused, StatusFinished} {
		s := NewState(Rules{})
		s.Status = status
		events, next := Step(s, Input{DirUp, DirDown})
		assert.Nil(t, events)
		assert.Equal(t, s, next, "status %s", status)
	}
}

func TestStep_PaddlesStayInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dirs := []Direction{DirNone, DirUp, DirDown}
	s := playing()
	s.Rules.WinningScore = 1 << 30

	for i := 0; i < 5000; i++ {
		in := Input{dirs[rng.Intn(3)], dirs[rng.Intn(3)]}
		_, s = Step(s, in)
		require.True(t, InBounds(s), "tick %d out of bounds: %+v", i, s)
	}
}

func TestStep_PaddleClampsAtTopAndBottom(t *testing.T) {
	s := playing()
	for i := 0; i < 100; i++ {
		_, s = Step(s, Input{DirUp, DirDown})
	}
	assert.Equal(t, 0.0, s.Paddles[SideLeft])
	assert.Equal(t, FieldHeight-PaddleHeight, s.Paddles[SideRight])
}

func TestStep_PaddleEdgeCountsAsHit(t *testing.T) {
	cases := []struct {
		name   string
		side   Side
		ballX  float64
		velX   float64
		ballY  float64
		paddle float64
	}{
		{"left top edge", SideLeft, leftPaddleFace + BallRadius + 6, -6, 92, 100},
		{"left bottom edge", SideLeft, leftPaddleFace + BallRadius + 6, -6, 100 + PaddleHeight + BallRadius, 100},
		{"right top edge", SideRight, rightPaddleFace - BallRadius - 6, 6, 92, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := playing()
			s.Ball = Vec{X: tc.ballX, Y: tc.ballY}
			s.Velocity = Vec{X: tc.velX, Y: 0}
			s.Paddles[tc.side] = tc.paddle

			events, next := Step(s, Input{})
			require.True(t, ContainsEvent(events, EvtPaddleHit))
			assert.Equal(t, tc.side, events[0].Side)
			assert.Equal(t, -tc.velX, next.Velocity.X)
			assert.Equal(t, [2]int{0, 0}, next.Score)
		})
	}
}

func TestStep_MissScoresAndServesFromCenter(t *testing.T) {
	s := playing()
	s.Ball = Vec{X: 3, Y: 300}
	s.Velocity = Vec{X: -6, Y: 0}
	s.Paddles[SideLeft] = 0

	events, next := Step(s, Input{})
	require.True(t, ContainsEvent(events, EvtPointScored))
	assert.Equal(t, [2]int{0, 1}, next.Score)
	assert.Equal(t, Vec{X: FieldWidth / 2, Y: FieldHeight / 2}, next.Ball)
	assert.Equal(t, Vec{X: -ServeSpeedX, Y: ServeSpeedY}, next.Velocity, "serve goes toward the side that conceded")
	assert.Equal(t, StatusPlaying, next.Status)
}

func TestStep_ReachingThresholdFinishes(t *testing.T) {
	s := playing()
	s.Score = [2]int{10, 4}
	s.Ball = Vec{X: FieldWidth - 2, Y: 20}
	s.Velocity = Vec{X: 6, Y: 0}
	s.Paddles[SideRight] = paddleMaxY

	events, next := Step(s, Input{})
	require.True(t, ContainsEvent(events, EvtGameCompleted))
	assert.Equal(t, SideLeft, events[len(events)-1].Side)
	assert.Equal(t, StatusFinished, next.Status)
	assert.Equal(t, [2]int{11, 4}, next.Score)

	// finished games no longer move
	_, after := Step(next, Input{DirUp, DirUp})
	assert.Equal(t, next, after)
}

func TestStep_WallBounceKeepsBallInside(t *testing.T) {
	s := playing()
	s.Ball = Vec{X: 400, Y: BallRadius + 1}
	s.Velocity = Vec{X: 6, Y: -5}

	events, next := Step(s, Input{})
	assert.True(t, ContainsEvent(events, EvtWallBounce))
	assert.Equal(t, BallRadius, next.Ball.Y)
	assert.Positive(t, next.Velocity.Y)
}

func TestStep_ScoresMonotonicAndMatchMisses(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dirs := []Direction{DirNone, DirUp, DirDown}
	s := playing()
	s.Rules.WinningScore = 5

	misses := 0
	for i := 0; i < 200000 && s.Status == StatusPlaying; i++ {
		before := s.Score
		var events []Event
		events, s = Step(s, Input{dirs[rng.Intn(3)], dirs[rng.Intn(3)]})
		for _, e := range events {
			if e.Type == EvtPointScored {
				misses++
			}
		}
		require.GreaterOrEqual(t, s.Score[0], before[0])
		require.GreaterOrEqual(t, s.Score[1], before[1])
	}
	require.Equal(t, StatusFinished, s.Status)
	assert.Equal(t, misses, s.Score[0]+s.Score[1])
}

func TestParseDirection(t *testing.T) {
	d, ok := ParseDirection("up")
	assert.True(t, ok)
	assert.Equal(t, DirUp, d)
	_, ok = ParseDirection("sideways")
	assert.False(t, ok)
}
