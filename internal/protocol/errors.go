package protocol

import (
	"errors"
	"strings"
)

var (
	ErrEmptyFrame        = errors.New("protocol: empty frame")
	ErrUnknownControlTag = errors.New("protocol: unknown control tag")
	ErrUnexpectedControl = errors.New("protocol: unexpected control tag")
	ErrNotApplicationTag = errors.New("protocol: not an application tag")
	ErrDisconnected      = errors.New("protocol: disconnected")
	ErrSendFailed        = errors.New("protocol: transport rejected frame")
	ErrHandlerConflict   = errors.New("protocol: rpc handler already registered")
	ErrNoHandler         = errors.New("protocol: no handler for tag")
	ErrUnauthenticated   = errors.New("protocol: unauthenticated")
	ErrForbidden         = errors.New("protocol: role not permitted")
	ErrDuplicateRole     = errors.New("protocol: role already assigned")
	ErrInvalidRole       = errors.New("protocol: invalid role")
	ErrNoSuchPeer        = errors.New("protocol: no such peer")
)

// MatchRemote reports whether a reject message was produced from target.
// Only the message text crosses the wire, so the match is on the sentinel
// text, optionally followed by ": detail".
func MatchRemote(message string, target error) bool {
	if target == nil {
		return false
	}
	text := target.Error()
	if message == text {
		return true
	}
	return strings.HasPrefix(message, text+":")
}
