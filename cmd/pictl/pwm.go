package main

import (
	"sync"

	"github.com/danmuck/ledctl/internal/lights"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/rs/zerolog"
)

// pwmOutput applies GPIOWrite frames to the three PWM channels. Pins are
// logged rather than driven.
type pwmOutput struct {
	rng uint16
	log zerolog.Logger

	mu     sync.Mutex
	duty   protocol.GPIOWrite
	writes int
}

func newPWMOutput(pwmRange uint16, l zerolog.Logger) *pwmOutput {
	return &pwmOutput{rng: pwmRange, log: l}
}

func (p *pwmOutput) install(ch *channel.Channel) {
	channel.Subscribe(ch, protocol.RouteGPIOWrite, p.onWrite)
}

func (p *pwmOutput) onWrite(_ *channel.Channel, w protocol.GPIOWrite) {
	duty := lights.Rescale(w, p.rng)
	p.mu.Lock()
	p.duty = duty
	p.writes++
	p.mu.Unlock()
	p.log.Debug().
		Uint16("r", duty.R).
		Uint16("g", duty.G).
		Uint16("b", duty.B).
		Uint16("range", p.rng).
		Msg("pwm write")
}

func (p *pwmOutput) current() (protocol.GPIOWrite, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty, p.writes
}
