package audio

import (
	"encoding/binary"
	"math"
)

const (
	SampleRate = 16000
	Channels   = 1
	Encoding   = "linear16"
)

// Frame is one capture callback's worth of mono 16-bit samples.
type Frame []int16

// Bytes encodes the frame as little-endian PCM.
func (f Frame) Bytes() []byte {
	buf := make([]byte, len(f)*2)
	for i, sample := range f {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

// Duration returns the frame length in milliseconds at SampleRate.
func (f Frame) Duration() float64 {
	return float64(len(f)) * 1000 / SampleRate
}

// Float32ToPCM16 converts samples in [-1, 1] to signed 16-bit values.
// Out-of-range samples are clamped and NaN becomes silence.
func Float32ToPCM16(in []float32) Frame {
	out := make(Frame, len(in))
	for i, x := range in {
		out[i] = floatToSample(float64(x))
	}
	return out
}

func floatToSample(x float64) int16 {
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	return int16(math.Round(x * math.MaxInt16))
}
