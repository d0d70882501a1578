package session

import (
	"context"
	"fmt"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
)

// Subscribe registers a typed notify handler on every channel.
func Subscribe[M any, PM interface {
	*M
	protocol.Payload
}](r *Registry, route protocol.Route[M], roles []protocol.Role, fn func(*channel.Channel, M)) {
	r.On(route.Tag, roles, channel.NotifyHandler[M, PM](route, fn))
}

// Serve registers a typed rpc handler on every channel.
func Serve[Req, Resp any, PReq interface {
	*Req
	protocol.Payload
}, PResp interface {
	*Resp
	protocol.Payload
}](r *Registry, m protocol.Method[Req, Resp], roles []protocol.Role, fn func(context.Context, *channel.Channel, Req) (Resp, error)) error {
	return r.Handle(m.Tag, roles, channel.MethodHandler[Req, Resp, PReq, PResp](m, fn))
}

// Broadcast encodes msg once and sends it to every live matching channel.
func Broadcast[M any, PM interface {
	*M
	protocol.Payload
}](r *Registry, route protocol.Route[M], msg M, roles ...protocol.Role) (int, error) {
	return r.Broadcast(route.Tag, protocol.Encode(PM(&msg)), roles...)
}

// Invoke calls the method on the longest-lived channel holding role.
func Invoke[Req, Resp any, PReq interface {
	*Req
	protocol.Payload
}, PResp interface {
	*Resp
	protocol.Payload
}](ctx context.Context, r *Registry, role protocol.Role, m protocol.Method[Req, Resp], req Req) (Resp, error) {
	var resp Resp
	raw, err := r.Call(ctx, role, m.Tag, protocol.Encode(PReq(&req)))
	if err != nil {
		return resp, err
	}
	if err := protocol.Decode(raw, PResp(&resp)); err != nil {
		return resp, fmt.Errorf("session: decode %s response: %w", m.Tag, err)
	}
	return resp, nil
}
