package protocol

import "github.com/danmuck/ledctl/internal/protocol/wire"

// Payload is implemented by pointers to every application message type.
type Payload interface {
	MarshalWire(b *wire.Buffer)
	UnmarshalWire(b *wire.Buffer) error
}

// Route binds a fire-and-forget tag to its single payload type M.
type Route[M any] struct {
	Tag Tag
}

// Method binds an RPC tag to its request and response payload types.
type Method[Req, Resp any] struct {
	Tag Tag
}

// Encode seals p into a fresh payload slice.
func Encode(p Payload) []byte {
	b := wire.NewWriter(0)
	p.MarshalWire(b)
	return b.Seal()
}

// Decode fills p from a payload slice. Trailing bytes are tolerated so older
// peers can read frames from newer ones.
func Decode(payload []byte, p Payload) error {
	return p.UnmarshalWire(wire.NewReader(payload))
}

// Empty is the payload of argument-less messages.
type Empty struct{}

func (*Empty) MarshalWire(*wire.Buffer) {}

func (*Empty) UnmarshalWire(*wire.Buffer) error { return nil }
