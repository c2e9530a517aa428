package engine

// Playfield geometry in abstract units. Y grows downward; paddle positions are
// the Y offset of the paddle's top edge.
const (
	FieldWidth  = 800.0
	FieldHeight = 400.0

	PaddleWidth  = 10.0
	PaddleHeight = 80.0
	// PaddleInset is the gap between a goal line and the back of its paddle.
	PaddleInset = 20.0
	// PaddleSpeed is the distance a paddle travels per tick for one command.
	PaddleSpeed = 8.0

	BallRadius  = 8.0
	ServeSpeedX = 6.0
	ServeSpeedY = 3.0
	MaxSpeedY   = 9.0

	DefaultWinningScore = 11
)

// Paddle faces: the X coordinate the ball's edge must reach to touch a paddle.
const (
	leftPaddleFace  = PaddleInset + PaddleWidth
	rightPaddleFace = FieldWidth - PaddleInset - PaddleWidth
	paddleMaxY      = FieldHeight - PaddleHeight
)
