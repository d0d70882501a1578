package lights

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/ledctl/internal/config"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidMode       = errors.New("lights: invalid mode")
	ErrInvalidBrightness = errors.New("lights: brightness out of range")
)

// Persister stores settings after each user-visible change.
type Persister interface {
	Save(config.Settings) error
}

var (
	controllers = []protocol.Role{protocol.RoleClient, protocol.RoleBackgroundApp}
	audioOnly   = []protocol.Role{protocol.RoleAudioServer}
	clientsOnly = []protocol.Role{protocol.RoleClient}
)

// Controller wires lighting behaviour into a session registry.
type Controller struct {
	reg    *session.Registry
	state  *State
	driver Driver
	store  Persister
	log    zerolog.Logger
}

// NewController builds a controller. store may be nil.
func NewController(reg *session.Registry, state *State, driver Driver, store Persister) *Controller {
	return &Controller{
		reg:    reg,
		state:  state,
		driver: driver,
		store:  store,
		log:    log.With().Str("component", "lights").Logger(),
	}
}

func (c *Controller) State() *State { return c.state }

// Register installs every handler and hook on the registry.
func (c *Controller) Register() error {
	session.Subscribe(c.reg, protocol.RouteRGBSet, controllers, c.onRGBSet)
	session.Subscribe(c.reg, protocol.RouteAudioColor, audioOnly, c.onAudioColor)
	c.reg.On(protocol.TagPCMFrame, audioOnly, c.forwardPCM)

	if err := session.Serve(c.reg, protocol.MethodGetState, nil, c.getState); err != nil {
		return err
	}
	if err := session.Serve(c.reg, protocol.MethodSetMode, controllers, c.setMode); err != nil {
		return err
	}
	if err := session.Serve(c.reg, protocol.MethodSetBrightness, controllers, c.setBrightness); err != nil {
		return err
	}
	if err := session.Serve(c.reg, protocol.MethodPing, nil, ping); err != nil {
		return err
	}
	if err := session.Serve(c.reg, protocol.MethodListPeers, controllers, c.listPeers); err != nil {
		return err
	}

	c.reg.OnAuthenticated(c.onJoin)
	c.reg.OnAllInteractiveDisconnected(c.onIdle)
	return nil
}

// Restore pushes the current output to the driver.
func (c *Controller) Restore(ctx context.Context) {
	c.apply(ctx)
}

func (c *Controller) onRGBSet(ch *channel.Channel, msg protocol.RGB) {
	ctx := ch.Context()
	if c.state.Mode() != protocol.ModeManual {
		c.changeMode(ctx, protocol.ModeManual)
	}
	c.state.SetColor(msg)
	c.apply(ctx)
	c.toClients(protocol.TagColorUpdate, protocol.Encode(&protocol.ColorUpdate{Color: msg, Source: protocol.SourceManual}))
	c.persist()
}

func (c *Controller) onAudioColor(ch *channel.Channel, msg protocol.AudioColor) {
	if c.state.Mode() != protocol.ModeAudio {
		c.log.Debug().Str("channel", ch.ID()).Msg("audio colour outside audio mode")
		return
	}
	color := msg.Color.Scale(clamp01(msg.Intensity))
	c.state.SetAudioColor(color)
	c.apply(ch.Context())
	c.toClients(protocol.TagColorUpdate, protocol.Encode(&protocol.ColorUpdate{Color: color, Source: protocol.SourceAudio}))
}

// forwardPCM relays audio frames to browsers without re-encoding.
func (c *Controller) forwardPCM(_ *channel.Channel, payload []byte) error {
	var frame protocol.PCMFrame
	if err := protocol.Decode(payload, &frame); err != nil {
		return fmt.Errorf("decode %s: %w", protocol.TagPCMFrame, err)
	}
	c.toClients(protocol.TagPCMFrame, payload)
	return nil
}

func (c *Controller) getState(context.Context, *channel.Channel, protocol.Empty) (protocol.State, error) {
	return c.state.Snapshot(), nil
}

func (c *Controller) setMode(ctx context.Context, _ *channel.Channel, req protocol.SetModeRequest) (protocol.State, error) {
	if !req.Mode.Valid() {
		return protocol.State{}, fmt.Errorf("%w: %s", ErrInvalidMode, req.Mode)
	}
	st := c.changeMode(ctx, req.Mode)
	c.persist()
	return st, nil
}

func (c *Controller) setBrightness(ctx context.Context, _ *channel.Channel, req protocol.SetBrightnessRequest) (protocol.State, error) {
	v := req.Value
	if v != v || v < 0 || v > 1 {
		return protocol.State{}, fmt.Errorf("%w: %v", ErrInvalidBrightness, v)
	}
	st := c.state.SetBrightness(v)
	c.apply(ctx)
	c.persist()
	return st, nil
}

func ping(_ context.Context, _ *channel.Channel, req protocol.Ping) (protocol.Ping, error) {
	return req, nil
}

func (c *Controller) listPeers(context.Context, *channel.Channel, protocol.Empty) (protocol.PeerList, error) {
	return c.reg.PeerList(), nil
}

// changeMode switches mode, starts or stops the audio helper and tells
// browsers.
func (c *Controller) changeMode(ctx context.Context, m protocol.Mode) protocol.State {
	prev, st := c.state.SetMode(m)
	if prev == m {
		return st
	}
	if prev == protocol.ModeAudio {
		c.toAudio(protocol.TagAudioStop)
	}
	if m == protocol.ModeAudio {
		c.toAudio(protocol.TagAudioStart)
	}
	c.apply(ctx)
	c.toClients(protocol.TagModeChanged, protocol.Encode(&protocol.ModeChanged{Mode: m}))
	c.log.Info().Str("from", prev.String()).Str("to", m.String()).Msg("mode changed")
	return st
}

func (c *Controller) onJoin(ch *channel.Channel) {
	switch ch.Role() {
	case protocol.RoleAudioServer:
		if c.state.Mode() == protocol.ModeAudio {
			channel.Publish(ch, protocol.RouteAudioStart, protocol.Empty{})
		}
	case protocol.RolePiServer:
		channel.Publish(ch, protocol.RouteGPIOWrite, Duty(c.state.Output(), FullDuty))
	}
}

// onIdle stops audio analysis once nobody is watching.
func (c *Controller) onIdle() {
	if c.state.Mode() != protocol.ModeAudio {
		return
	}
	c.log.Info().Msg("last browser left; leaving audio mode")
	c.changeMode(context.Background(), protocol.ModeManual)
	c.persist()
}

func (c *Controller) apply(ctx context.Context) {
	out := c.state.Output()
	if err := c.driver.Apply(ctx, out); err != nil {
		if errors.Is(err, protocol.ErrNoSuchPeer) {
			c.log.Debug().Msg("no gpio helper connected")
			return
		}
		c.log.Warn().Err(err).Msg("driver apply failed")
	}
}

func (c *Controller) toClients(tag protocol.Tag, payload []byte) {
	if _, err := c.reg.Broadcast(tag, payload, clientsOnly...); err != nil && !errors.Is(err, protocol.ErrNoSuchPeer) {
		c.log.Warn().Str("tag", tag.String()).Err(err).Msg("broadcast failed")
	}
}

func (c *Controller) toAudio(tag protocol.Tag) {
	if _, err := c.reg.Broadcast(tag, nil, audioOnly...); err != nil {
		c.log.Warn().Str("tag", tag.String()).Err(err).Msg("audio helper unreachable")
	}
}

func (c *Controller) persist() {
	if c.store == nil {
		return
	}
	if err := c.store.Save(c.state.Settings()); err != nil {
		c.log.Error().Err(err).Msg("persist settings")
	}
}
