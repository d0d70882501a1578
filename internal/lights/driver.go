package lights

import (
	"context"
	"sync"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Driver pushes a colour to hardware.
type Driver interface {
	Apply(ctx context.Context, c protocol.RGB) error
}

// LogDriver records the last colour and logs it. Used when no hardware is
// attached.
type LogDriver struct {
	log  zerolog.Logger
	mu   sync.Mutex
	last protocol.RGB
	n    int
}

func NewLogDriver(l zerolog.Logger) *LogDriver {
	return &LogDriver{log: l}
}

func (d *LogDriver) Apply(_ context.Context, c protocol.RGB) error {
	d.mu.Lock()
	d.last = c
	d.n++
	d.mu.Unlock()
	d.log.Debug().Uint8("r", c.R).Uint8("g", c.G).Uint8("b", c.B).Msg("apply colour")
	return nil
}

// Last returns the last applied colour and how many times Apply ran.
func (d *LogDriver) Last() (protocol.RGB, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.n
}

// FullDuty is the duty range carried on the wire. Helpers rescale to their
// own PWM range with Rescale.
const FullDuty uint16 = 0xFFFF

// Duty converts a colour to duty cycles in [0, pwmRange].
func Duty(c protocol.RGB, pwmRange uint16) protocol.GPIOWrite {
	scale := func(v uint8) uint16 {
		return uint16((uint32(v)*uint32(pwmRange) + 127) / 255)
	}
	return protocol.GPIOWrite{R: scale(c.R), G: scale(c.G), B: scale(c.B)}
}

// Rescale maps a wire duty onto [0, pwmRange].
func Rescale(w protocol.GPIOWrite, pwmRange uint16) protocol.GPIOWrite {
	scale := func(v uint16) uint16 {
		return uint16((uint32(v)*uint32(pwmRange) + uint32(FullDuty)/2) / uint32(FullDuty))
	}
	return protocol.GPIOWrite{R: scale(w.R), G: scale(w.G), B: scale(w.B)}
}

// PeerDriver forwards colours to the GPIO helper as GPIOWrite frames.
type PeerDriver struct {
	Registry *session.Registry
}

// Apply returns protocol.ErrNoSuchPeer when no GPIO helper is connected.
func (d PeerDriver) Apply(_ context.Context, c protocol.RGB) error {
	_, err := session.Broadcast(d.Registry, protocol.RouteGPIOWrite, Duty(c, FullDuty), protocol.RolePiServer)
	return err
}
