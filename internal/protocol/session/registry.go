package session

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/danmuck/ledctl/internal/auth"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// PeerObserver is notified as channels join and leave the live set. A
// channel.Observer passed to WithObserver may also implement it.
type PeerObserver interface {
	PeerJoined(role protocol.Role)
	PeerLeft(role protocol.Role)
}

type Option func(*Registry)

// WithObserver attaches o to every channel the registry creates.
func WithObserver(o channel.Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLogger replaces the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

type plainEntry struct {
	tag     protocol.Tag
	handler channel.Handler
}

type liveEntry struct {
	seq   uint64
	since time.Time
}

// Registry owns every attached channel and the handler table applied to
// them.
type Registry struct {
	cfg       Config
	validator auth.Validator
	observer  channel.Observer
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	attached    map[*channel.Channel]struct{}
	live        map[*channel.Channel]liveEntry
	seq         uint64
	plain       []plainEntry
	rpc         map[protocol.Tag]channel.RPCHandler
	interactive int
	idleHooks   []func()
	joinHooks   []func(*channel.Channel)
	closed      bool
}

// NewRegistry builds an empty registry. Channels authenticate against
// validator.
func NewRegistry(cfg Config, validator auth.Validator, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:       cfg.WithDefaults(),
		validator: validator,
		log:       log.With().Str("component", "session").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		attached:  make(map[*channel.Channel]struct{}),
		live:      make(map[*channel.Channel]liveEntry),
		rpc:       make(map[protocol.Tag]channel.RPCHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.validator == nil {
		r.validator = auth.SharedSecret{}
	}
	// Reserved: installed per channel by Attach.
	r.rpc[protocol.TagAuthenticate] = nil
	return r
}

func (r *Registry) Config() Config { return r.cfg }

// On registers a plain handler for tag on every current and future channel.
// Frames from channels outside roles (or not yet authenticated) are dropped.
func (r *Registry) On(tag protocol.Tag, roles []protocol.Role, h channel.Handler) {
	guarded := r.guardPlain(tag, roles, h)
	r.mu.Lock()
	r.plain = append(r.plain, plainEntry{tag: tag, handler: guarded})
	targets := r.attachedLocked()
	r.mu.Unlock()
	for _, ch := range targets {
		ch.On(tag, guarded)
	}
}

// Handle registers the rpc handler for tag on every current and future
// channel. Calls from channels outside roles are rejected.
func (r *Registry) Handle(tag protocol.Tag, roles []protocol.Role, h channel.RPCHandler) error {
	if !tag.IsApplication() {
		return fmt.Errorf("%w: %s", protocol.ErrNotApplicationTag, tag)
	}
	guarded := r.guardRPC(tag, roles, h)
	r.mu.Lock()
	if _, ok := r.rpc[tag]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", protocol.ErrHandlerConflict, tag)
	}
	r.rpc[tag] = guarded
	targets := r.attachedLocked()
	r.mu.Unlock()
	for _, ch := range targets {
		if err := ch.Handle(tag, guarded); err != nil {
			r.log.Warn().Str("channel", ch.ID()).Err(err).Msg("apply rpc handler")
		}
	}
	return nil
}

// OnAllInteractiveDisconnected registers fn to run each time the last
// interactive channel leaves.
func (r *Registry) OnAllInteractiveDisconnected(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idleHooks = append(r.idleHooks, fn)
}

// OnAuthenticated registers fn to run after each successful handshake,
// before the handshake reply is written.
func (r *Registry) OnAuthenticated(fn func(*channel.Channel)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinHooks = append(r.joinHooks, fn)
}

// Attach creates the channel for a newly opened transport and arms its
// handshake. The caller feeds inbound frames to the returned channel.
func (r *Registry) Attach(t channel.Transport) *channel.Channel {
	ch := channel.New(t, channel.Options{Observer: r.observer, Context: r.ctx})
	clog := r.log.With().Str("channel", ch.ID()).Logger()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		clog.Debug().Msg("registry closed; refusing channel")
		_ = ch.Close()
		return ch
	}
	r.attached[ch] = struct{}{}
	plain := slices.Clone(r.plain)
	rpc := make(map[protocol.Tag]channel.RPCHandler, len(r.rpc))
	for tag, h := range r.rpc {
		if h != nil {
			rpc[tag] = h
		}
	}
	r.mu.Unlock()

	for _, e := range plain {
		ch.On(e.tag, e.handler)
	}
	for tag, h := range rpc {
		if err := ch.Handle(tag, h); err != nil {
			clog.Warn().Err(err).Msg("apply rpc handler")
		}
	}
	if err := channel.Serve(ch, protocol.MethodAuthenticate, r.authenticate); err != nil {
		clog.Error().Err(err).Msg("install authenticate handler")
	}

	timer := time.AfterFunc(r.cfg.HandshakeTimeout, func() {
		if ch.Role() == protocol.RoleNone {
			clog.Warn().Dur("timeout", r.cfg.HandshakeTimeout).Msg("handshake timed out")
			_ = ch.Close()
		}
	})
	ch.OnDisconnect(func(ch *channel.Channel) {
		timer.Stop()
		r.detach(ch)
	})
	ch.Open()
	clog.Debug().Msg("channel attached")
	return ch
}

func (r *Registry) authenticate(_ context.Context, ch *channel.Channel, req protocol.AuthRequest) (protocol.AuthResponse, error) {
	if role := ch.Role(); role != protocol.RoleNone {
		return protocol.AuthResponse{}, channel.CloseAfterReply(fmt.Errorf("%w: channel already %s", protocol.ErrDuplicateRole, role))
	}
	if !req.Role.Assignable() {
		return protocol.AuthResponse{}, channel.CloseAfterReply(fmt.Errorf("%w: %s", protocol.ErrInvalidRole, req.Role))
	}
	if err := r.validator.Validate(req.Secret); err != nil {
		r.log.Warn().Str("channel", ch.ID()).Str("role", req.Role.String()).Msg("handshake rejected")
		return protocol.AuthResponse{}, channel.CloseAfterReply(err)
	}
	if err := ch.SetRole(req.Role); err != nil {
		return protocol.AuthResponse{}, channel.CloseAfterReply(err)
	}
	if err := r.admit(ch, req.Role); err != nil {
		return protocol.AuthResponse{}, channel.CloseAfterReply(err)
	}
	return protocol.AuthResponse{Role: req.Role, ChannelID: ch.ID()}, nil
}

func (r *Registry) admit(ch *channel.Channel, role protocol.Role) error {
	r.mu.Lock()
	if _, ok := r.attached[ch]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: channel %s", protocol.ErrDisconnected, ch.ID())
	}
	r.seq++
	r.live[ch] = liveEntry{seq: r.seq, since: time.Now()}
	if role.Interactive() {
		r.interactive++
	}
	joined := slices.Clone(r.joinHooks)
	r.mu.Unlock()

	if po, ok := r.observer.(PeerObserver); ok {
		po.PeerJoined(role)
	}
	r.log.Info().Str("channel", ch.ID()).Str("role", role.String()).Msg("peer authenticated")
	for _, fn := range joined {
		r.runHook(func() { fn(ch) })
	}
	return nil
}

func (r *Registry) detach(ch *channel.Channel) {
	r.mu.Lock()
	delete(r.attached, ch)
	_, wasLive := r.live[ch]
	delete(r.live, ch)
	role := ch.Role()
	var idle []func()
	if wasLive && role.Interactive() {
		r.interactive--
		if r.interactive == 0 {
			idle = slices.Clone(r.idleHooks)
		}
	}
	r.mu.Unlock()

	if !wasLive {
		r.log.Debug().Str("channel", ch.ID()).Msg("unauthenticated channel detached")
		return
	}
	if po, ok := r.observer.(PeerObserver); ok {
		po.PeerLeft(role)
	}
	r.log.Info().Str("channel", ch.ID()).Str("role", role.String()).Msg("peer disconnected")
	for _, fn := range idle {
		r.runHook(fn)
	}
}

func (r *Registry) runHook(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Msg("registry hook panic")
		}
	}()
	fn()
}

// Broadcast sends payload on tag to every live channel, optionally limited
// to roles, and returns how many transports accepted it. A role filter that
// matches no channel returns protocol.ErrNoSuchPeer.
func (r *Registry) Broadcast(tag protocol.Tag, payload []byte, roles ...protocol.Role) (int, error) {
	targets := r.liveMatching(roles)
	if len(roles) > 0 && len(targets) == 0 {
		return 0, fmt.Errorf("%w: roles %v", protocol.ErrNoSuchPeer, roles)
	}
	sent := 0
	for _, ch := range targets {
		if ch.Send(tag, payload) {
			sent++
		}
	}
	return sent, nil
}

// Call issues an rpc to the longest-lived channel holding role. CallTimeout
// applies when ctx carries no deadline.
func (r *Registry) Call(ctx context.Context, role protocol.Role, tag protocol.Tag, payload []byte) ([]byte, error) {
	ch, err := r.Peer(role)
	if err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}
	return ch.Request(ctx, tag, payload)
}

// Peer returns the longest-lived live channel holding role.
func (r *Registry) Peer(role protocol.Role) (*channel.Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best    *channel.Channel
		bestSeq uint64
	)
	for ch, e := range r.live {
		if ch.Role() != role {
			continue
		}
		if best == nil || e.seq < bestSeq {
			best, bestSeq = ch, e.seq
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", protocol.ErrNoSuchPeer, role)
	}
	return best, nil
}

// Peers counts live channels by role.
func (r *Registry) Peers() map[protocol.Role]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[protocol.Role]int, len(protocol.Roles()))
	for ch := range r.live {
		out[ch.Role()]++
	}
	return out
}

// PeerList renders Peers in role order for the wire.
func (r *Registry) PeerList() protocol.PeerList {
	counts := r.Peers()
	list := protocol.PeerList{Peers: make([]protocol.PeerCount, 0, len(counts))}
	for _, role := range protocol.Roles() {
		if n := counts[role]; n > 0 {
			list.Peers = append(list.Peers, protocol.PeerCount{Role: role, Count: uint16(min(n, 0xFFFF))})
		}
	}
	return list
}

// SessionInfo describes one live channel.
type SessionInfo struct {
	ID    string    `json:"id"`
	Role  string    `json:"role"`
	Since time.Time `json:"since"`
}

// Sessions lists live channels, longest-lived first.
func (r *Registry) Sessions() []SessionInfo {
	r.mu.RLock()
	type row struct {
		info SessionInfo
		seq  uint64
	}
	rows := make([]row, 0, len(r.live))
	for ch, e := range r.live {
		rows = append(rows, row{info: SessionInfo{ID: ch.ID(), Role: ch.Role().String(), Since: e.since}, seq: e.seq})
	}
	r.mu.RUnlock()
	slices.SortFunc(rows, func(a, b row) int { return cmp.Compare(a.seq, b.seq) })
	out := make([]SessionInfo, len(rows))
	for i, rw := range rows {
		out[i] = rw.info
	}
	return out
}

// Attached reports every channel, authenticated or not.
func (r *Registry) Attached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attached)
}

// Shutdown closes every channel and refuses new ones.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	targets := r.attachedLocked()
	r.mu.Unlock()

	for _, ch := range targets {
		if err := ch.Close(); err != nil {
			r.log.Debug().Str("channel", ch.ID()).Err(err).Msg("close on shutdown")
		}
	}
	r.cancel()
	r.log.Info().Int("closed", len(targets)).Msg("registry shut down")
}

func (r *Registry) attachedLocked() []*channel.Channel {
	out := make([]*channel.Channel, 0, len(r.attached))
	for ch := range r.attached {
		out = append(out, ch)
	}
	return out
}

func (r *Registry) liveMatching(roles []protocol.Role) []*channel.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*channel.Channel, 0, len(r.live))
	for ch := range r.live {
		if len(roles) == 0 || slices.Contains(roles, ch.Role()) {
			out = append(out, ch)
		}
	}
	return out
}

// permit checks a channel against a role set. An empty set admits any
// authenticated role.
func permit(ch *channel.Channel, roles []protocol.Role) error {
	role := ch.Role()
	if role == protocol.RoleNone {
		return protocol.ErrUnauthenticated
	}
	if len(roles) > 0 && !slices.Contains(roles, role) {
		return protocol.ErrForbidden
	}
	return nil
}

func (r *Registry) guardPlain(tag protocol.Tag, roles []protocol.Role, h channel.Handler) channel.Handler {
	roles = slices.Clone(roles)
	return func(ch *channel.Channel, payload []byte) error {
		if err := permit(ch, roles); err != nil {
			r.log.Debug().Str("channel", ch.ID()).Str("tag", tag.String()).Err(err).Msg("frame dropped")
			return nil
		}
		return h(ch, payload)
	}
}

func (r *Registry) guardRPC(tag protocol.Tag, roles []protocol.Role, h channel.RPCHandler) channel.RPCHandler {
	roles = slices.Clone(roles)
	return func(ctx context.Context, ch *channel.Channel, payload []byte) ([]byte, error) {
		if err := permit(ch, roles); err != nil {
			return nil, fmt.Errorf("%w: %s from %s", err, tag, ch.Role())
		}
		return h(ctx, ch, payload)
	}
}
