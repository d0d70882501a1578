package channel

import (
	"errors"
	"fmt"

	"github.com/danmuck/ledctl/internal/protocol"
)

// RemoteError is a rejected call. Only the peer's message text is known.
type RemoteError struct {
	Tag     protocol.Tag
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Tag, e.Message)
}

// Is matches protocol sentinels by their message text, so
// errors.Is(err, protocol.ErrUnauthenticated) works across the wire.
func (e *RemoteError) Is(target error) bool {
	return protocol.MatchRemote(e.Message, target)
}

type closeAfterReply struct {
	err error
}

func (e *closeAfterReply) Error() string { return e.err.Error() }
func (e *closeAfterReply) Unwrap() error { return e.err }

// CloseAfterReply marks an rpc handler error as terminal: the reject frame is
// queued and then the transport is closed.
func CloseAfterReply(err error) error {
	if err == nil {
		return nil
	}
	return &closeAfterReply{err: err}
}

func isCloseAfterReply(err error) bool {
	var target *closeAfterReply
	return errors.As(err, &target)
}
