// Package audio is the audioctl side of the system: while the server has
// audio mode on, it reads blocks from a Source and publishes a colour and
// the raw samples on every tick.
package audio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/danmuck/ledctl/internal/protocol/channel"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	FrameInterval time.Duration
	SampleRate    uint32
	Channels      uint8
}

func DefaultConfig() Config {
	return Config{
		FrameInterval: 50 * time.Millisecond,
		SampleRate:    44100,
		Channels:      1,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	if c.SampleRate == 0 {
		c.SampleRate = d.SampleRate
	}
	if c.Channels == 0 {
		c.Channels = d.Channels
	}
	return c
}

// BlockLen is the number of interleaved samples read per tick.
func (c Config) BlockLen() int {
	c = c.withDefaults()
	frames := int(float64(c.SampleRate) * c.FrameInterval.Seconds())
	return max(frames, 1) * int(c.Channels)
}

// Producer publishes analysis frames while active.
type Producer struct {
	cfg    Config
	src    Source
	active atomic.Bool
	sent   atomic.Uint64
	log    zerolog.Logger
}

func NewProducer(cfg Config, src Source) *Producer {
	cfg = cfg.withDefaults()
	if src == nil {
		src = NewSineSource(cfg.SampleRate, cfg.Channels)
	}
	return &Producer{
		cfg: cfg,
		src: src,
		log: log.With().Str("component", "audio").Logger(),
	}
}

// Install subscribes to the start and stop notifications on ch. It resets
// the producer to idle: the server restarts it if audio mode is on.
func (p *Producer) Install(ch *channel.Channel) {
	p.active.Store(false)
	channel.Subscribe(ch, protocol.RouteAudioStart, func(*channel.Channel, protocol.Empty) {
		if !p.active.Swap(true) {
			p.log.Info().Msg("audio analysis started")
		}
	})
	channel.Subscribe(ch, protocol.RouteAudioStop, func(*channel.Channel, protocol.Empty) {
		if p.active.Swap(false) {
			p.log.Info().Msg("audio analysis stopped")
		}
	})
}

func (p *Producer) Active() bool { return p.active.Load() }

// Sent counts ticks that published frames.
func (p *Producer) Sent() uint64 { return p.sent.Load() }

// Run ticks until ctx ends, publishing on ch while active.
func (p *Producer) Run(ctx context.Context, ch *channel.Channel) error {
	ticker := time.NewTicker(p.cfg.FrameInterval)
	defer ticker.Stop()
	block := make([]int16, p.cfg.BlockLen())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.active.Load() {
				continue
			}
			p.tick(ch, block)
		}
	}
}

func (p *Producer) tick(ch *channel.Channel, block []int16) {
	p.src.Read(block)
	color, intensity := Analyze(block)
	okColor := channel.Publish(ch, protocol.RouteAudioColor, protocol.AudioColor{Color: color, Intensity: intensity})
	okPCM := channel.Publish(ch, protocol.RoutePCMFrame, protocol.PCMFrame{
		SampleRate: p.cfg.SampleRate,
		Channels:   p.cfg.Channels,
		Samples:    EncodePCM(block),
	})
	if !okColor || !okPCM {
		p.log.Debug().Msg("frame dropped by transport")
		return
	}
	p.sent.Add(1)
}
