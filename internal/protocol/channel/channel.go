package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/frame"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler receives the payload of one notify frame. A returned error is fatal
// to the channel.
type Handler func(ch *Channel, payload []byte) error

// RPCHandler serves one call. Its error text becomes the reject message.
type RPCHandler func(ctx context.Context, ch *Channel, payload []byte) ([]byte, error)

// Options configures a channel.
type Options struct {
	ID       string
	Observer Observer
	Context  context.Context
}

// Stats is a snapshot of channel counters.
type Stats struct {
	FramesIn   uint64
	FramesOut  uint64
	Dispatched uint64
	Dropped    uint64
	Orphans    uint64
	Pending    int
}

// Channel is one logical duplex connection.
type Channel struct {
	id        string
	transport Transport
	observer  Observer
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	handlers        map[protocol.Tag][]Handler
	rpc             map[protocol.Tag]RPCHandler
	nextID          uint32
	role            protocol.Role
	opened          bool
	closed          bool
	connectHooks    []func(*Channel)
	disconnectHooks []func(*Channel)

	pending        *pendingCalls
	disconnectOnce sync.Once

	framesIn   atomic.Uint64
	framesOut  atomic.Uint64
	dispatched atomic.Uint64
	dropped    atomic.Uint64
	orphans    atomic.Uint64
}

// New binds a channel to an open transport.
func New(t Transport, opts Options) *Channel {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	parent := opts.Context
	if parent == nil {
		parent = context.Background()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	ctx, cancel := context.WithCancel(parent)
	return &Channel{
		id:        id,
		transport: t,
		observer:  observer,
		log:       log.With().Str("channel", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[protocol.Tag][]Handler),
		rpc:       make(map[protocol.Tag]RPCHandler),
		pending:   newPendingCalls(),
	}
}

func (c *Channel) ID() string { return c.id }

// Context is cancelled when the channel disconnects.
func (c *Channel) Context() context.Context { return c.ctx }

func (c *Channel) Role() protocol.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SetRole assigns the role exactly once.
func (c *Channel) SetRole(role protocol.Role) error {
	if !role.Assignable() {
		return fmt.Errorf("%w: %s", protocol.ErrInvalidRole, role)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != protocol.RoleNone {
		return fmt.Errorf("%w: channel already %s", protocol.ErrDuplicateRole, c.role)
	}
	c.role = role
	return nil
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) Stats() Stats {
	return Stats{
		FramesIn:   c.framesIn.Load(),
		FramesOut:  c.framesOut.Load(),
		Dispatched: c.dispatched.Load(),
		Dropped:    c.dropped.Load(),
		Orphans:    c.orphans.Load(),
		Pending:    c.pending.len(),
	}
}

// On appends a plain handler for tag.
func (c *Channel) On(tag protocol.Tag, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[tag] = append(c.handlers[tag], h)
}

// Handle registers the rpc handler for tag. A second registration fails
// immediately with protocol.ErrHandlerConflict.
func (c *Channel) Handle(tag protocol.Tag, h RPCHandler) error {
	if !tag.IsApplication() {
		return fmt.Errorf("%w: %s", protocol.ErrNotApplicationTag, tag)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rpc[tag]; ok {
		return fmt.Errorf("%w: %s", protocol.ErrHandlerConflict, tag)
	}
	c.rpc[tag] = h
	return nil
}

// OnConnect registers a hook fired by Open. Hooks added after Open run now.
func (c *Channel) OnConnect(fn func(*Channel)) {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		fn(c)
		return
	}
	c.connectHooks = append(c.connectHooks, fn)
	c.mu.Unlock()
}

// OnDisconnect registers a hook fired once on teardown. Hooks added after
// teardown run now.
func (c *Channel) OnDisconnect(fn func(*Channel)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn(c)
		return
	}
	c.disconnectHooks = append(c.disconnectHooks, fn)
	c.mu.Unlock()
}

// Open fires connect hooks once.
func (c *Channel) Open() {
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return
	}
	c.opened = true
	hooks := c.connectHooks
	c.connectHooks = nil
	c.mu.Unlock()
	for _, fn := range hooks {
		c.runHook(protocol.TagConnect, fn)
	}
}

// Send writes [tag][payload] and reports whether the transport accepted it.
func (c *Channel) Send(tag protocol.Tag, payload []byte) bool {
	if !tag.IsApplication() || c.Closed() {
		return false
	}
	return c.write(tag, frame.Notify(tag, payload))
}

// Call issues an rpc and returns a future for its reply.
func (c *Channel) Call(tag protocol.Tag, payload []byte) (*Future, error) {
	if !tag.IsApplication() {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNotApplicationTag, tag)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: channel %s", protocol.ErrDisconnected, c.id)
	}
	id := c.allocIDLocked()
	call := c.pending.add(id, tag, time.Now())
	c.mu.Unlock()

	if !c.write(protocol.TagCall, frame.Call(tag, id, payload)) {
		if _, ok := c.pending.take(id); ok {
			call.complete(result{err: fmt.Errorf("%w: call %s", protocol.ErrSendFailed, tag)})
		}
		return nil, fmt.Errorf("%w: call %s", protocol.ErrSendFailed, tag)
	}
	return &Future{ch: c, call: call}, nil
}

// Request issues a call and waits for its reply.
func (c *Channel) Request(ctx context.Context, tag protocol.Tag, payload []byte) ([]byte, error) {
	f, err := c.Call(tag, payload)
	if err != nil {
		return nil, err
	}
	return f.Await(ctx)
}

func (c *Channel) allocIDLocked() uint32 {
	for {
		c.nextID++
		if !c.pending.has(c.nextID) {
			return c.nextID
		}
	}
}

// forget drops a pending call the caller no longer waits for.
func (c *Channel) forget(id uint32, err error) {
	call, ok := c.pending.take(id)
	if !ok {
		return
	}
	call.complete(result{err: err})
	c.observer.CallDone(call.tag, OutcomeAbandoned, time.Since(call.createdAt))
}

func (c *Channel) write(tag protocol.Tag, raw []byte) bool {
	if !c.transport.SendBinary(raw) {
		c.log.Debug().Str("tag", tag.String()).Msg("transport rejected frame")
		return false
	}
	c.framesOut.Add(1)
	c.observer.FrameOut(tag, len(raw))
	return true
}

// Receive processes one inbound frame. A returned error is fatal: the caller
// must close the channel.
func (c *Channel) Receive(raw []byte) error {
	f, err := frame.Parse(raw)
	if err != nil {
		return err
	}
	if c.Closed() {
		return nil
	}
	c.framesIn.Add(1)
	c.observer.FrameIn(f.Tag, len(raw))

	switch f.Tag {
	case protocol.TagCall:
		c.serveCall(f)
		return nil
	case protocol.TagResolveCall, protocol.TagRejectCall:
		c.settle(f)
		return nil
	default:
		return c.dispatch(f.Tag, f.Payload)
	}
}

func (c *Channel) dispatch(tag protocol.Tag, payload []byte) error {
	c.mu.Lock()
	handlers := c.handlers[tag]
	c.mu.Unlock()
	if len(handlers) == 0 {
		c.dropped.Add(1)
		return nil
	}
	for _, h := range handlers {
		c.dispatched.Add(1)
		if err := c.invoke(tag, h, payload); err != nil {
			return fmt.Errorf("channel: %s handler: %w", tag, err)
		}
	}
	return nil
}

func (c *Channel) invoke(tag protocol.Tag, h Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("tag", tag.String()).Interface("panic", r).Msg("handler panic")
		}
	}()
	return h(c, payload)
}

func (c *Channel) serveCall(f frame.Frame) {
	c.mu.Lock()
	h := c.rpc[f.AppTag]
	c.mu.Unlock()
	if h == nil {
		c.dropped.Add(1)
		c.write(protocol.TagRejectCall, frame.Reject(f.ID, fmt.Errorf("%w: %s", protocol.ErrNoHandler, f.AppTag).Error()))
		c.observer.CallServed(f.AppTag, OutcomeRejected, 0)
		return
	}
	c.dispatched.Add(1)
	go func() {
		start := time.Now()
		payload, err := c.invokeRPC(f.AppTag, h, f.Payload)
		if err != nil {
			c.write(protocol.TagRejectCall, frame.Reject(f.ID, err.Error()))
			c.observer.CallServed(f.AppTag, OutcomeRejected, time.Since(start))
			if isCloseAfterReply(err) {
				c.log.Warn().Str("tag", f.AppTag.String()).Err(err).Msg("closing after reject")
				_ = c.Close()
			}
			return
		}
		c.write(protocol.TagResolveCall, frame.Resolve(f.ID, payload))
		c.observer.CallServed(f.AppTag, OutcomeResolved, time.Since(start))
	}()
}

func (c *Channel) invokeRPC(tag protocol.Tag, h RPCHandler, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("tag", tag.String()).Interface("panic", r).Msg("rpc handler panic")
			out, err = nil, fmt.Errorf("channel: %s handler panic", tag)
		}
	}()
	return h(c.ctx, c, payload)
}

func (c *Channel) settle(f frame.Frame) {
	call, ok := c.pending.take(f.ID)
	if !ok {
		c.orphans.Add(1)
		c.log.Debug().Uint32("id", f.ID).Str("tag", f.Tag.String()).Msg("reply for untracked call")
		return
	}
	elapsed := time.Since(call.createdAt)
	if f.Tag == protocol.TagRejectCall {
		call.complete(result{err: &RemoteError{Tag: call.tag, Message: f.Message}})
		c.observer.CallDone(call.tag, OutcomeRejected, elapsed)
		return
	}
	call.complete(result{payload: f.Payload})
	c.observer.CallDone(call.tag, OutcomeResolved, elapsed)
}

// Disconnect tears the channel down after the transport closed. It runs
// once: pending calls are rejected with protocol.ErrDisconnected and
// disconnect hooks fire.
func (c *Channel) Disconnect() {
	c.disconnectOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		hooks := c.disconnectHooks
		c.disconnectHooks = nil
		c.mu.Unlock()

		c.cancel()
		calls := c.pending.drain()
		for _, call := range calls {
			call.complete(result{err: fmt.Errorf("%w: channel %s", protocol.ErrDisconnected, c.id)})
			c.observer.CallDone(call.tag, OutcomeDisconnected, time.Since(call.createdAt))
		}
		c.log.Debug().Int("rejected", len(calls)).Msg("channel disconnected")
		for _, fn := range hooks {
			c.runHook(protocol.TagDisconnect, fn)
		}
	})
}

// Close closes the transport and tears the channel down.
func (c *Channel) Close() error {
	err := c.transport.Close()
	c.Disconnect()
	return err
}

func (c *Channel) runHook(tag protocol.Tag, fn func(*Channel)) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("hook", tag.String()).Interface("panic", r).Msg("lifecycle hook panic")
		}
	}()
	fn(c)
}

// Future is the pending result of Call.
type Future struct {
	ch   *Channel
	call *pendingCall
}

func (f *Future) ID() uint32 { return f.call.id }

func (f *Future) Tag() protocol.Tag { return f.call.tag }

// Done is closed once the call resolves, rejects or is dropped.
func (f *Future) Done() <-chan struct{} { return f.call.done }

// Await blocks until the reply or ctx expiry. On expiry the call is dropped
// locally; a later reply for it is ignored.
func (f *Future) Await(ctx context.Context) ([]byte, error) {
	select {
	case <-f.call.done:
	case <-ctx.Done():
		f.ch.forget(f.call.id, ctx.Err())
		<-f.call.done
	}
	return f.call.res.payload, f.call.res.err
}
