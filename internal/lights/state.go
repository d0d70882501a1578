// Package lights owns the lighting state and the handlers that change it.
package lights

import (
	"sync"
	"time"

	"github.com/danmuck/ledctl/internal/config"
	"github.com/danmuck/ledctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// State is the process-wide lighting state.
type State struct {
	mu         sync.RWMutex
	mode       protocol.Mode
	color      protocol.RGB
	audio      protocol.RGB
	brightness float32
	label      *string
	updated    time.Time
	now        func() time.Time
}

// NewState restores state from stored settings. Unknown modes fall back to
// manual.
func NewState(s config.Settings) *State {
	mode, err := protocol.ParseMode(s.Mode)
	if err != nil {
		log.Warn().Str("mode", s.Mode).Msg("stored mode unknown; using manual")
		mode = protocol.ModeManual
	}
	st := &State{
		mode:       mode,
		color:      protocol.RGB{R: s.Color.R, G: s.Color.G, B: s.Color.B},
		brightness: clamp01(s.Brightness),
		now:        time.Now,
	}
	if s.Label != "" {
		label := s.Label
		st.label = &label
	}
	st.updated = st.now()
	return st
}

func (s *State) Snapshot() protocol.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() protocol.State {
	out := protocol.State{
		Mode:       s.mode,
		Color:      s.color,
		Brightness: s.brightness,
		UpdatedMS:  float64(s.updated.UnixNano()) / float64(time.Millisecond),
	}
	if s.label != nil {
		label := *s.label
		out.Label = &label
	}
	return out
}

func (s *State) Mode() protocol.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Output is the colour the hardware should show. Audio mode shows the
// latest analysed colour instead of the stored one.
func (s *State) Output() protocol.RGB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.mode {
	case protocol.ModeOff:
		return protocol.RGB{}
	case protocol.ModeAudio:
		return s.audio.Scale(s.brightness)
	default:
		return s.color.Scale(s.brightness)
	}
}

// SetMode returns the previous mode and the new snapshot.
func (s *State) SetMode(m protocol.Mode) (protocol.Mode, protocol.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.mode
	if prev != m {
		s.mode = m
		s.audio = protocol.RGB{}
		s.updated = s.now()
	}
	return prev, s.snapshotLocked()
}

func (s *State) SetColor(c protocol.RGB) protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.color = c
	s.updated = s.now()
	return s.snapshotLocked()
}

// SetAudioColor records the analysed colour shown in audio mode. It never
// touches the stored colour.
func (s *State) SetAudioColor(c protocol.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = c
}

func (s *State) SetBrightness(v float32) protocol.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brightness = clamp01(v)
	s.updated = s.now()
	return s.snapshotLocked()
}

// Settings renders the persistent part of the state.
func (s *State) Settings() config.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := config.Settings{
		Mode:       s.mode.String(),
		Color:      config.Color{R: s.color.R, G: s.color.G, B: s.color.B},
		Brightness: s.brightness,
	}
	if s.label != nil {
		out.Label = *s.label
	}
	return out
}

func clamp01(v float32) float32 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
