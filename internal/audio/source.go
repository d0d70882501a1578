package audio

import (
	"math"
	"sync"
)

// Source yields interleaved 16-bit samples.
type Source interface {
	Read(dst []int16)
}

// SineSource is a synthetic source: a tone whose pitch sweeps between Low
// and High over Period samples, with a slow amplitude swell.
type SineSource struct {
	SampleRate uint32
	Channels   uint8
	Low, High  float64
	Period     int

	mu    sync.Mutex
	phase float64
	n     int
}

func NewSineSource(sampleRate uint32, channels uint8) *SineSource {
	return &SineSource{
		SampleRate: sampleRate,
		Channels:   channels,
		Low:        110,
		High:       1760,
		Period:     int(sampleRate) * 8,
	}
}

func (s *SineSource) Read(dst []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channels := max(int(s.Channels), 1)
	rate := float64(max(s.SampleRate, 1))
	period := max(s.Period, 1)
	for i := 0; i+channels <= len(dst); i += channels {
		pos := float64(s.n%period) / float64(period)
		sweep := 0.5 - 0.5*math.Cos(2*math.Pi*pos)
		freq := s.Low + (s.High-s.Low)*sweep
		amp := 0.2 + 0.7*sweep
		s.phase += 2 * math.Pi * freq / rate
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		v := int16(amp * math.Sin(s.phase) * math.MaxInt16)
		for c := 0; c < channels; c++ {
			dst[i+c] = v
		}
		s.n++
	}
}
