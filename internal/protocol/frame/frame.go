// Package frame builds and parses the one-frame-per-message envelope:
//
//	[tag][payload]                 application notify or unhandled tag
//	[Call][appTag][id u32][payload]
//	[ResolveCall][id u32][payload]
//	[RejectCall][id u32][len-prefixed utf-8 message]
package frame

import (
	"fmt"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/wire"
)

// Frame is one parsed wire message.
type Frame struct {
	Tag     protocol.Tag
	AppTag  protocol.Tag
	ID      uint32
	Payload []byte
	Message string
}

// IsReply reports whether f answers an earlier call.
func (f Frame) IsReply() bool {
	return f.Tag == protocol.TagResolveCall || f.Tag == protocol.TagRejectCall
}

func Notify(tag protocol.Tag, payload []byte) []byte {
	b := wire.NewWriter(1 + len(payload))
	b.PutUint8(uint8(tag))
	b.PutRaw(payload)
	return b.Seal()
}

func Call(appTag protocol.Tag, id uint32, payload []byte) []byte {
	b := wire.NewWriter(6 + len(payload))
	b.PutUint8(uint8(protocol.TagCall))
	b.PutUint8(uint8(appTag))
	b.PutUint32(id)
	b.PutRaw(payload)
	return b.Seal()
}

func Resolve(id uint32, payload []byte) []byte {
	b := wire.NewWriter(5 + len(payload))
	b.PutUint8(uint8(protocol.TagResolveCall))
	b.PutUint32(id)
	b.PutRaw(payload)
	return b.Seal()
}

func Reject(id uint32, message string) []byte {
	b := wire.NewWriter(6 + len(message))
	b.PutUint8(uint8(protocol.TagRejectCall))
	b.PutUint32(id)
	b.PutString(message)
	return b.Seal()
}

// Parse decodes the envelope of one frame. Any error is fatal to the
// connection that delivered it.
func Parse(raw []byte) (Frame, error) {
	if len(raw) == 0 {
		return Frame{}, protocol.ErrEmptyFrame
	}
	r := wire.NewReader(raw)
	lead, _ := r.Uint8()
	f := Frame{Tag: protocol.Tag(lead)}
	if f.Tag.IsApplication() {
		f.Payload = r.Rest()
		return f, nil
	}

	var err error
	switch f.Tag {
	case protocol.TagCall:
		var app uint8
		if app, err = r.Uint8(); err != nil {
			return Frame{}, fmt.Errorf("frame: call tag: %w", err)
		}
		f.AppTag = protocol.Tag(app)
		if !f.AppTag.IsApplication() {
			return Frame{}, fmt.Errorf("%w: call carries %s", protocol.ErrNotApplicationTag, f.AppTag)
		}
		if f.ID, err = r.Uint32(); err != nil {
			return Frame{}, fmt.Errorf("frame: call id: %w", err)
		}
		f.Payload = r.Rest()
	case protocol.TagResolveCall:
		if f.ID, err = r.Uint32(); err != nil {
			return Frame{}, fmt.Errorf("frame: resolve id: %w", err)
		}
		f.Payload = r.Rest()
	case protocol.TagRejectCall:
		if f.ID, err = r.Uint32(); err != nil {
			return Frame{}, fmt.Errorf("frame: reject id: %w", err)
		}
		if f.Message, err = r.String(); err != nil {
			return Frame{}, fmt.Errorf("frame: reject message: %w", err)
		}
	case protocol.TagConnect, protocol.TagDisconnect:
		return Frame{}, fmt.Errorf("%w: %s", protocol.ErrUnexpectedControl, f.Tag)
	default:
		return Frame{}, fmt.Errorf("%w: %s", protocol.ErrUnknownControlTag, f.Tag)
	}
	return f, nil
}
