package engine

// NewState returns a waiting game with centered paddles and the opening serve
// heading right.
func NewState(rules Rules) State {
	if rules.WinningScore <= 0 {
		rules.WinningScore = DefaultWinningScore
	}
	ball, vel := serve(SideRight)
	return State{
		Ball:     ball,
		Velocity: vel,
		Paddles:  [2]float64{paddleMaxY / 2, paddleMaxY / 2},
		Status:   StatusWaiting,
		Rules:    rules,
	}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// InBounds reports whether the ball and both paddles are inside the playfield.
func InBounds(s State) bool {
	if s.Ball.X < 0 || s.Ball.X > FieldWidth || s.Ball.Y < BallRadius || s.Ball.Y > FieldHeight-BallRadius {
		return false
	}
	for _, y := range s.Paddles {
		if y < 0 || y > paddleMaxY {
			return false
		}
	}
	return true
}

func winningScore(r Rules) int {
	if r.WinningScore <= 0 {
		return DefaultWinningScore
	}
	return r.WinningScore
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
