package engine

import "math"

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// Side indexes the two player slots.
type Side int

const (
	SideLeft  Side = 0
	SideRight Side = 1
)

func (s Side) Opponent() Side { return 1 - s }

func (s Side) String() string {
	if s == SideRight {
		return "right"
	}
	return "left"
}

type Direction string

const (
	DirNone Direction = ""
	DirUp   Direction = "up"
	DirDown Direction = "down"
)

// ParseDirection accepts only the two wire values.
func ParseDirection(raw string) (Direction, bool) {
	switch Direction(raw) {
	case DirUp:
		return DirUp, true
	case DirDown:
		return DirDown, true
	default:
		return DirNone, false
	}
}

type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Rules struct {
	WinningScore int `json:"winningScore"`
}

// State is the authoritative game state of one session.
type State struct {
	Ball     Vec        `json:"ball"`
	Velocity Vec        `json:"velocity"`
	Paddles  [2]float64 `json:"paddles"`
	Score    [2]int     `json:"score"`
	Status   Status     `json:"status"`
	Tick     uint64     `json:"tick"`
	Rules    Rules      `json:"rules"`
}

// Input holds at most one direction per side for a single tick.
type Input [2]Direction

type EventType string

const (
	EvtPaddleHit     EventType = "PaddleHit"
	EvtWallBounce    EventType = "WallBounce"
	EvtPointScored   EventType = "PointScored"
	EvtGameCompleted EventType = "GameCompleted"
)

// Event describes something that happened during a Step. Side is the paddle
// hit, the scorer, or the winner depending on Type.
type Event struct {
	Type EventType
	Side Side
}

/*
	Step order:
	  paddles -> integrate ball -> walls -> paddles collide -> goal line -> clamp
	A ball whose edge lands exactly on a paddle's end counts as a hit.
*/

// Step advances s by one tick. States that are not playing are returned unchanged.
func Step(s State, in Input) ([]Event, State) {
	if s.Status != StatusPlaying {
		return nil, s
	}
	next := s
	next.Tick++
	var events []Event

	for side := range next.Paddles {
		next.Paddles[side] = movePaddle(next.Paddles[side], in[side])
	}

	prev := next.Ball
	next.Ball.X += next.Velocity.X
	next.Ball.Y += next.Velocity.Y

	if next.Ball.Y-BallRadius < 0 {
		next.Ball.Y = BallRadius
		next.Velocity.Y = math.Abs(next.Velocity.Y)
		events = append(events, Event{Type: EvtWallBounce})
	} else if next.Ball.Y+BallRadius > FieldHeight {
		next.Ball.Y = FieldHeight - BallRadius
		next.Velocity.Y = -math.Abs(next.Velocity.Y)
		events = append(events, Event{Type: EvtWallBounce})
	}

	switch {
	case next.Velocity.X < 0 && crossedLeftFace(prev, next.Ball) && onPaddle(next.Ball.Y, next.Paddles[SideLeft]):
		next.Ball.X = leftPaddleFace + BallRadius
		next.Velocity.X = math.Abs(next.Velocity.X)
		next.Velocity.Y = deflect(next.Velocity.Y, next.Ball.Y, next.Paddles[SideLeft])
		events = append(events, Event{Type: EvtPaddleHit, Side: SideLeft})
	case next.Velocity.X > 0 && crossedRightFace(prev, next.Ball) && onPaddle(next.Ball.Y, next.Paddles[SideRight]):
		next.Ball.X = rightPaddleFace - BallRadius
		next.Velocity.X = -math.Abs(next.Velocity.X)
		next.Velocity.Y = deflect(next.Velocity.Y, next.Ball.Y, next.Paddles[SideRight])
		events = append(events, Event{Type: EvtPaddleHit, Side: SideRight})
	}

	scorer, scored := goal(next.Ball)
	if scored {
		next.Score[scorer]++
		events = append(events, Event{Type: EvtPointScored, Side: scorer})
		next.Ball, next.Velocity = serve(scorer.Opponent())
		if next.Score[scorer] >= winningScore(next.Rules) {
			next.Status = StatusFinished
			events = append(events, Event{Type: EvtGameCompleted, Side: scorer})
		}
	}

	next.Ball = clampBall(next.Ball)
	return events, next
}

func movePaddle(y float64, dir Direction) float64 {
	switch dir {
	case DirUp:
		y -= PaddleSpeed
	case DirDown:
		y += PaddleSpeed
	}
	return clamp(y, 0, paddleMaxY)
}

func crossedLeftFace(prev, cur Vec) bool {
	return prev.X-BallRadius >= leftPaddleFace && cur.X-BallRadius <= leftPaddleFace
}

func crossedRightFace(prev, cur Vec) bool {
	return prev.X+BallRadius <= rightPaddleFace && cur.X+BallRadius >= rightPaddleFace
}

func onPaddle(ballY, paddleTop float64) bool {
	return ballY >= paddleTop-BallRadius && ballY <= paddleTop+PaddleHeight+BallRadius
}

func deflect(vy, ballY, paddleTop float64) float64 {
	half := PaddleHeight/2 + BallRadius
	offset := (ballY - (paddleTop + PaddleHeight/2)) / half
	return clamp(vy+offset*ServeSpeedY, -MaxSpeedY, MaxSpeedY)
}

// goal reports which side scored when the ball center crossed a goal line.
func goal(ball Vec) (Side, bool) {
	switch {
	case ball.X < 0:
		return SideRight, true
	case ball.X > FieldWidth:
		return SideLeft, true
	default:
		return 0, false
	}
}

// serve puts the ball at center travelling toward receiver.
func serve(receiver Side) (Vec, Vec) {
	vx := ServeSpeedX
	if receiver == SideLeft {
		vx = -ServeSpeedX
	}
	return Vec{X: FieldWidth / 2, Y: FieldHeight / 2}, Vec{X: vx, Y: ServeSpeedY}
}

func clampBall(b Vec) Vec {
	return Vec{
		X: clamp(b.X, 0, FieldWidth),
		Y: clamp(b.Y, BallRadius, FieldHeight-BallRadius),
	}
}
