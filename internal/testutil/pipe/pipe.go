// Package pipe connects channels in memory for tests.
package pipe

import (
	"sync"
	"sync/atomic"

	"github.com/danmuck/ledctl/internal/protocol/channel"
)

// End is one direction of an in-memory connection. Frames are delivered in
// order by Pump.
type End struct {
	mu     sync.Mutex
	closed bool
	stall  atomic.Bool
	out    chan []byte
}

func NewEnd(depth int) *End {
	if depth <= 0 {
		depth = 64
	}
	return &End{out: make(chan []byte, depth)}
}

func (e *End) SendBinary(b []byte) bool {
	if e.stall.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	select {
	case e.out <- append([]byte(nil), b...):
		return true
	default:
		return false
	}
}

func (e *End) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.out)
	}
	return nil
}

// Stall makes SendBinary refuse every frame, like a peer that stopped
// reading.
func (e *End) Stall(v bool) { e.stall.Store(v) }

// Pump feeds frames written to e into dst until e closes, then disconnects
// dst. A fatal frame closes dst.
func Pump(e *End, dst *channel.Channel) {
	for raw := range e.out {
		if err := dst.Receive(raw); err != nil {
			_ = dst.Close()
		}
	}
	dst.Disconnect()
}

// Attacher creates the server side of a connection.
type Attacher interface {
	Attach(t channel.Transport) *channel.Channel
}

// Conn is a connected client/server channel pair.
type Conn struct {
	Client   *channel.Channel
	Server   *channel.Channel
	ToClient *End
	ToServer *End
}

// Dial attaches a new connection to a and starts both pumps.
func Dial(a Attacher) Conn {
	toServer := NewEnd(0)
	toClient := NewEnd(0)
	server := a.Attach(toClient)
	client := channel.New(toServer, channel.Options{})
	go Pump(toServer, server)
	go Pump(toClient, client)
	return Conn{Client: client, Server: server, ToClient: toClient, ToServer: toServer}
}
