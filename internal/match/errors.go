package match

import "github.com/DoyleJ11/arcade-match-backend/internal/apperr"

var (
	ErrSessionClosed      = apperr.New(apperr.NotFound, "session closed")
	ErrNotPlaying         = apperr.New(apperr.InvalidState, "match is not in progress")
	ErrNotFinished        = apperr.New(apperr.InvalidState, "match has not finished")
	ErrNotAPlayer         = apperr.New(apperr.Forbidden, "only the two players may do that")
	ErrRematchUnavailable = apperr.New(apperr.Forbidden, "rematch is not offered for tournament matches")
	ErrNoRematchPending   = apperr.New(apperr.InvalidState, "no rematch request from the opponent is pending")
	ErrRematchClosed      = apperr.New(apperr.Conflict, "rematch already accepted")
	ErrInvalidDirection   = apperr.New(apperr.InvalidArgument, "direction must be up or down")
	ErrEmptyMessage       = apperr.New(apperr.InvalidArgument, "message is empty")
	ErrMessageTooLong     = apperr.New(apperr.InvalidArgument, "message is too long")
	ErrNoSubscriber       = apperr.New(apperr.InvalidArgument, "missing connection")
)
