package channel

import (
	"context"
	"fmt"

	"github.com/danmuck/ledctl/internal/protocol"
)

// Publish sends msg on the route's tag.
func Publish[M any, PM interface {
	*M
	protocol.Payload
}](c *Channel, r protocol.Route[M], msg M) bool {
	return c.Send(r.Tag, protocol.Encode(PM(&msg)))
}

// Subscribe registers fn for the route. The payload is decoded before fn
// runs; a decode failure is fatal to the channel.
func Subscribe[M any, PM interface {
	*M
	protocol.Payload
}](c *Channel, r protocol.Route[M], fn func(*Channel, M)) {
	c.On(r.Tag, NotifyHandler[M, PM](r, fn))
}

// Serve registers fn as the rpc handler for the method.
func Serve[Req, Resp any, PReq interface {
	*Req
	protocol.Payload
}, PResp interface {
	*Resp
	protocol.Payload
}](c *Channel, m protocol.Method[Req, Resp], fn func(context.Context, *Channel, Req) (Resp, error)) error {
	return c.Handle(m.Tag, MethodHandler[Req, Resp, PReq, PResp](m, fn))
}

// Invoke calls the method and decodes its response.
func Invoke[Req, Resp any, PReq interface {
	*Req
	protocol.Payload
}, PResp interface {
	*Resp
	protocol.Payload
}](ctx context.Context, c *Channel, m protocol.Method[Req, Resp], req Req) (Resp, error) {
	var resp Resp
	raw, err := c.Request(ctx, m.Tag, protocol.Encode(PReq(&req)))
	if err != nil {
		return resp, err
	}
	if err := protocol.Decode(raw, PResp(&resp)); err != nil {
		return resp, fmt.Errorf("channel: decode %s response: %w", m.Tag, err)
	}
	return resp, nil
}

// NotifyHandler adapts a typed callback to a Handler.
func NotifyHandler[M any, PM interface {
	*M
	protocol.Payload
}](r protocol.Route[M], fn func(*Channel, M)) Handler {
	return func(ch *Channel, payload []byte) error {
		var msg M
		if err := protocol.Decode(payload, PM(&msg)); err != nil {
			return fmt.Errorf("decode %s: %w", r.Tag, err)
		}
		fn(ch, msg)
		return nil
	}
}

// MethodHandler adapts a typed rpc callback to an RPCHandler. A request that
// fails to decode is rejected and the channel closed.
func MethodHandler[Req, Resp any, PReq interface {
	*Req
	protocol.Payload
}, PResp interface {
	*Resp
	protocol.Payload
}](m protocol.Method[Req, Resp], fn func(context.Context, *Channel, Req) (Resp, error)) RPCHandler {
	return func(ctx context.Context, ch *Channel, payload []byte) ([]byte, error) {
		var req Req
		if err := protocol.Decode(payload, PReq(&req)); err != nil {
			return nil, CloseAfterReply(fmt.Errorf("decode %s request: %w", m.Tag, err))
		}
		resp, err := fn(ctx, ch, req)
		if err != nil {
			return nil, err
		}
		return protocol.Encode(PResp(&resp)), nil
	}
}
