package audio

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/ledctl/internal/protocol"
)

// Analyze maps one block of interleaved samples to a colour and an
// intensity in [0, 1]. Loudness drives intensity; the zero-crossing rate
// picks the hue, so brighter sounds shift toward blue.
func Analyze(samples []int16) (protocol.RGB, float32) {
	if len(samples) == 0 {
		return protocol.RGB{}, 0
	}
	var sum float64
	crossings := 0
	for i, s := range samples {
		v := float64(s) / 32768
		sum += v * v
		if i > 0 && (samples[i-1] < 0) != (s < 0) {
			crossings++
		}
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	intensity := float32(math.Min(1, rms*math.Sqrt2))

	rate := float64(crossings) / float64(len(samples))
	hue := math.Min(1, rate*4) * 240
	return hsv(hue), intensity
}

// hsv converts a fully saturated hue in degrees to RGB.
func hsv(h float64) protocol.RGB {
	h = math.Mod(h, 360)
	x := 1 - math.Abs(math.Mod(h/60, 2)-1)
	var r, g, b float64
	switch {
	case h < 60:
		r, g = 1, x
	case h < 120:
		r, g = x, 1
	case h < 180:
		g, b = 1, x
	case h < 240:
		g, b = x, 1
	case h < 300:
		r, b = x, 1
	default:
		r, b = 1, x
	}
	return protocol.RGB{R: byteOf(r), G: byteOf(g), B: byteOf(b)}
}

func byteOf(v float64) uint8 {
	return uint8(math.Round(v * 255))
}

// EncodePCM packs samples as signed 16-bit little-endian.
func EncodePCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// DecodePCM is the inverse of EncodePCM. A trailing odd byte is ignored.
func DecodePCM(raw []byte) []int16 {
	out := make([]int16, len(raw)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return out
}
