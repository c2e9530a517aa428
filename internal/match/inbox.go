package match

import "github.com/DoyleJ11/arcade-match-backend/internal/engine"

type Msg interface{ isSessionMsg() }

// Attach binds a connection to the session as a player (when UserID owns a
// slot and Spectator is false) or as a spectator.
type Attach struct {
	Sub       Subscriber
	UserID    string
	Name      string
	Spectator bool
	Reply     chan AttachResult
}

type AttachResult struct {
	Role string
	Err  error
}

// Detach unbinds a connection. Abrupt marks a lost connection rather than a
// voluntary leave.
type Detach struct {
	ConnID string
	Abrupt bool
}

type Forfeit struct {
	UserID string
	Reply  chan error
}

type RequestRematch struct {
	UserID string
	Reply  chan error
}

type AcceptRematch struct {
	UserID string
	Reply  chan error
}

type DeclineRematch struct {
	UserID string
	Reply  chan error
}

type Chat struct {
	ConnID string
	Text   string
	Reply  chan error
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type graceExpired struct {
	side engine.Side
	gen  int
}

type rematchExpired struct{ gen int }

func (Attach) isSessionMsg()         {}
func (Detach) isSessionMsg()         {}
func (Forfeit) isSessionMsg()        {}
func (RequestRematch) isSessionMsg() {}
func (AcceptRematch) isSessionMsg()  {}
func (DeclineRematch) isSessionMsg() {}
func (Chat) isSessionMsg()           {}
func (GetState) isSessionMsg()       {}
func (Shutdown) isSessionMsg()       {}
func (graceExpired) isSessionMsg()   {}
func (rematchExpired) isSessionMsg() {}
