package channel

import (
	"time"

	"github.com/danmuck/ledctl/internal/protocol"
)

// Transport is the raw duplex socket under a channel. SendBinary must not
// block; it reports whether the frame was queued.
type Transport interface {
	SendBinary(frame []byte) bool
	Close() error
}

// Outcome classifies how an rpc call finished.
type Outcome string

const (
	OutcomeResolved     Outcome = "resolved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeDisconnected Outcome = "disconnected"
	OutcomeAbandoned    Outcome = "abandoned"
)

// Observer receives traffic events, typically for metrics.
type Observer interface {
	FrameIn(tag protocol.Tag, size int)
	FrameOut(tag protocol.Tag, size int)
	CallDone(tag protocol.Tag, outcome Outcome, elapsed time.Duration)
	CallServed(tag protocol.Tag, outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) FrameIn(protocol.Tag, int) {}
func (nopObserver) FrameOut(protocol.Tag, int) {}
func (nopObserver) CallDone(protocol.Tag, Outcome, time.Duration) {}
func (nopObserver) CallServed(protocol.Tag, Outcome, time.Duration) {}
