package negotiation

import (
	"errors"
	"fmt"
)

var (
	ErrSessionClosed      = errors.New("session closed")
	ErrInvalidDescription = errors.New("invalid session description")
	ErrInvalidCandidate   = errors.New("invalid ICE candidate")
	ErrConnectTimeout     = errors.New("connect timeout")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrUnknownTrack       = errors.New("unknown track")
	ErrPeerLeft           = errors.New("peer left the room")
	ErrPeerChanged        = errors.New("another endpoint took the peer's place")
	ErrNoTransportFactory = errors.New("no transport factory")
)

// Error is a negotiation failure. It wraps one of the sentinels above or
// the transport's own error.
type Error struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Err)
	if e.Room != "" {
		msg = fmt.Sprintf("%s %s: %v", e.Op, e.Room, e.Err)
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
