package protocol

import (
	"fmt"
	"strings"

	"github.com/danmuck/ledctl/internal/protocol/wire"
)

// Mode selects what drives the lights.
type Mode uint8

const (
	ModeOff Mode = iota
	ModeManual
	ModeAudio
	ModePattern
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeManual:
		return "manual"
	case ModeAudio:
		return "audio"
	case ModePattern:
		return "pattern"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m Mode) Valid() bool { return m <= ModePattern }

// ParseMode accepts the names produced by Mode.String.
func ParseMode(raw string) (Mode, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	for m := ModeOff; m <= ModePattern; m++ {
		if m.String() == v {
			return m, nil
		}
	}
	return ModeOff, fmt.Errorf("protocol: unknown mode %q", raw)
}

// ColorSource records which input produced a colour.
type ColorSource uint8

const (
	SourceManual ColorSource = iota
	SourceAudio
	SourcePattern
)

// Routes.
var (
	RouteRGBSet      = Route[RGB]{Tag: TagRGBSet}
	RouteColorUpdate = Route[ColorUpdate]{Tag: TagColorUpdate}
	RoutePCMFrame    = Route[PCMFrame]{Tag: TagPCMFrame}
	RouteAudioColor  = Route[AudioColor]{Tag: TagAudioColor}
	RouteModeChanged = Route[ModeChanged]{Tag: TagModeChanged}
	RouteAudioStart  = Route[Empty]{Tag: TagAudioStart}
	RouteAudioStop   = Route[Empty]{Tag: TagAudioStop}
	RouteGPIOWrite   = Route[GPIOWrite]{Tag: TagGPIOWrite}
)

// Methods.
var (
	MethodAuthenticate  = Method[AuthRequest, AuthResponse]{Tag: TagAuthenticate}
	MethodGetState      = Method[Empty, State]{Tag: TagGetState}
	MethodSetMode       = Method[SetModeRequest, State]{Tag: TagSetMode}
	MethodSetBrightness = Method[SetBrightnessRequest, State]{Tag: TagSetBrightness}
	MethodPing          = Method[Ping, Ping]{Tag: TagPing}
	MethodListPeers     = Method[Empty, PeerList]{Tag: TagListPeers}
)

// RGB is three unsigned bytes, in that order.
type RGB struct {
	R, G, B uint8
}

func (m *RGB) MarshalWire(b *wire.Buffer) {
	b.PutUint8(m.R)
	b.PutUint8(m.G)
	b.PutUint8(m.B)
}

func (m *RGB) UnmarshalWire(b *wire.Buffer) error {
	var err error
	if m.R, err = b.Uint8(); err != nil {
		return err
	}
	if m.G, err = b.Uint8(); err != nil {
		return err
	}
	m.B, err = b.Uint8()
	return err
}

// Scale multiplies each channel by f in [0, 1].
func (m RGB) Scale(f float32) RGB {
	if f >= 1 {
		return m
	}
	if f <= 0 {
		return RGB{}
	}
	return RGB{
		R: uint8(float32(m.R)*f + 0.5),
		G: uint8(float32(m.G)*f + 0.5),
		B: uint8(float32(m.B)*f + 0.5),
	}
}

type ColorUpdate struct {
	Color  RGB
	Source ColorSource
}

func (m *ColorUpdate) MarshalWire(b *wire.Buffer) {
	m.Color.MarshalWire(b)
	b.PutUint8(uint8(m.Source))
}

func (m *ColorUpdate) UnmarshalWire(b *wire.Buffer) error {
	if err := m.Color.UnmarshalWire(b); err != nil {
		return err
	}
	v, err := b.Uint8()
	m.Source = ColorSource(v)
	return err
}

// PCMFrame carries one chunk of audio samples for visualisers.
// Samples are opaque to this layer.
type PCMFrame struct {
	SampleRate uint32
	Channels   uint8
	Samples    []byte
}

func (m *PCMFrame) MarshalWire(b *wire.Buffer) {
	b.PutUint32(m.SampleRate)
	b.PutUint8(m.Channels)
	b.PutBytes(m.Samples)
}

func (m *PCMFrame) UnmarshalWire(b *wire.Buffer) error {
	var err error
	if m.SampleRate, err = b.Uint32(); err != nil {
		return err
	}
	if m.Channels, err = b.Uint8(); err != nil {
		return err
	}
	m.Samples, err = b.Bytes()
	return err
}

type AudioColor struct {
	Color     RGB
	Intensity float32
}

func (m *AudioColor) MarshalWire(b *wire.Buffer) {
	m.Color.MarshalWire(b)
	b.PutFloat32(m.Intensity)
}

func (m *AudioColor) UnmarshalWire(b *wire.Buffer) error {
	if err := m.Color.UnmarshalWire(b); err != nil {
		return err
	}
	var err error
	m.Intensity, err = b.Float32()
	return err
}

type ModeChanged struct {
	Mode Mode
}

func (m *ModeChanged) MarshalWire(b *wire.Buffer) {
	b.PutUint8(uint8(m.Mode))
}

func (m *ModeChanged) UnmarshalWire(b *wire.Buffer) error {
	v, err := b.Uint8()
	m.Mode = Mode(v)
	return err
}

// GPIOWrite carries PWM duty cycles per channel.
type GPIOWrite struct {
	R, G, B uint16
}

func (m *GPIOWrite) MarshalWire(b *wire.Buffer) {
	b.PutUint16(m.R)
	b.PutUint16(m.G)
	b.PutUint16(m.B)
}

func (m *GPIOWrite) UnmarshalWire(b *wire.Buffer) error {
	var err error
	if m.R, err = b.Uint16(); err != nil {
		return err
	}
	if m.G, err = b.Uint16(); err != nil {
		return err
	}
	m.B, err = b.Uint16()
	return err
}

type AuthRequest struct {
	Secret string
	Role   Role
}

func (m *AuthRequest) MarshalWire(b *wire.Buffer) {
	b.PutString(m.Secret)
	b.PutUint8(uint8(m.Role))
}

func (m *AuthRequest) UnmarshalWire(b *wire.Buffer) error {
	var err error
	if m.Secret, err = b.String(); err != nil {
		return err
	}
	v, err := b.Uint8()
	m.Role = Role(v)
	return err
}

type AuthResponse struct {
	Role      Role
	ChannelID string
}

func (m *AuthResponse) MarshalWire(b *wire.Buffer) {
	b.PutUint8(uint8(m.Role))
	b.PutString(m.ChannelID)
}

func (m *AuthResponse) UnmarshalWire(b *wire.Buffer) error {
	v, err := b.Uint8()
	if err != nil {
		return err
	}
	m.Role = Role(v)
	m.ChannelID, err = b.String()
	return err
}

// State is the lighting snapshot returned by state RPCs.
type State struct {
	Mode       Mode
	Color      RGB
	Brightness float32
	Label      *string
	UpdatedMS  float64
}

func (m *State) MarshalWire(b *wire.Buffer) {
	b.PutUint8(uint8(m.Mode))
	m.Color.MarshalWire(b)
	b.PutFloat32(m.Brightness)
	b.PutNullableString(m.Label)
	b.PutFloat64(m.UpdatedMS)
}

func (m *State) UnmarshalWire(b *wire.Buffer) error {
	v, err := b.Uint8()
	if err != nil {
		return err
	}
	m.Mode = Mode(v)
	if err := m.Color.UnmarshalWire(b); err != nil {
		return err
	}
	if m.Brightness, err = b.Float32(); err != nil {
		return err
	}
	if m.Label, err = b.NullableString(); err != nil {
		return err
	}
	m.UpdatedMS, err = b.Float64()
	return err
}

type SetModeRequest struct {
	Mode Mode
}

func (m *SetModeRequest) MarshalWire(b *wire.Buffer) {
	b.PutUint8(uint8(m.Mode))
}

func (m *SetModeRequest) UnmarshalWire(b *wire.Buffer) error {
	v, err := b.Uint8()
	m.Mode = Mode(v)
	return err
}

type SetBrightnessRequest struct {
	Value float32
}

func (m *SetBrightnessRequest) MarshalWire(b *wire.Buffer) {
	b.PutFloat32(m.Value)
}

func (m *SetBrightnessRequest) UnmarshalWire(b *wire.Buffer) error {
	var err error
	m.Value, err = b.Float32()
	return err
}

type Ping struct {
	Nonce uint32
}

func (m *Ping) MarshalWire(b *wire.Buffer) {
	b.PutUint32(m.Nonce)
}

func (m *Ping) UnmarshalWire(b *wire.Buffer) error {
	var err error
	m.Nonce, err = b.Uint32()
	return err
}

type PeerCount struct {
	Role  Role
	Count uint16
}

type PeerList struct {
	Peers []PeerCount
}

func (m *PeerList) MarshalWire(b *wire.Buffer) {
	b.PutLength(len(m.Peers))
	for _, p := range m.Peers {
		b.PutUint8(uint8(p.Role))
		b.PutUint16(p.Count)
	}
}

func (m *PeerList) UnmarshalWire(b *wire.Buffer) error {
	n, err := b.Length()
	if err != nil {
		return err
	}
	if n == wire.Absent {
		m.Peers = nil
		return nil
	}
	if n > b.Remaining()/3 {
		return fmt.Errorf("%w: %d peers in %d bytes", wire.ErrShortRead, n, b.Remaining())
	}
	m.Peers = make([]PeerCount, 0, n)
	for i := 0; i < n; i++ {
		role, err := b.Uint8()
		if err != nil {
			return err
		}
		count, err := b.Uint16()
		if err != nil {
			return err
		}
		m.Peers = append(m.Peers, PeerCount{Role: Role(role), Count: count})
	}
	return nil
}
