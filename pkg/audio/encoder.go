package audio

import (
	"encoding/binary"
	"math"
)

// Encoder converts captured float samples into the wire format: mono 16-bit
// little-endian PCM at a fixed target rate. One Encode call per capture
// callback produces one uniform frame for the transport.
type Encoder struct {
	targetRate int
}

// NewEncoder creates an encoder for the given target sample rate.
func NewEncoder(targetRate int) *Encoder {
	return &Encoder{targetRate: targetRate}
}

// TargetRate returns the output sample rate.
func (e *Encoder) TargetRate() int {
	return e.targetRate
}

// Encode resamples buf from nativeRate to the target rate and converts it to
// PCM16LE. The returned frame is freshly allocated; the caller owns it.
func (e *Encoder) Encode(buf []float32, nativeRate int) []byte {
	mono := buf
	if nativeRate != e.targetRate {
		mono = Downsample(buf, nativeRate, e.targetRate)
	}
	return FloatToPCM16(mono)
}

// Downsample reduces buf from sampleRate to outRate by block averaging: each
// output sample is the mean of all input samples that map into its slot.
// This is a deliberate low-cost anti-aliasing approximation, not a sinc
// filter; it matches what the backend tolerates for speech input.
func Downsample(buf []float32, sampleRate, outRate int) []float32 {
	if outRate == sampleRate || len(buf) == 0 {
		return buf
	}
	ratio := float64(sampleRate) / float64(outRate)
	outLen := int(math.Round(float64(len(buf)) / ratio))
	out := make([]float32, outLen)

	offset := 0
	for i := range out {
		next := int(math.Round(float64(i+1) * ratio))
		var accum float64
		count := 0
		for j := offset; j < next && j < len(buf); j++ {
			accum += float64(buf[j])
			count++
		}
		if count > 0 {
			out[i] = float32(accum / float64(count))
		}
		offset = next
	}
	return out
}

// FloatToPCM16 converts samples in [-1, 1] to signed 16-bit little-endian
// PCM, clamping out-of-range values at the boundary (+1.0 maps to 32767,
// -1.0 to -32768).
func FloatToPCM16(buf []float32) []byte {
	out := make([]byte, len(buf)*2)
	for i, f := range buf {
		s := float64(f)
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat is the inverse mapping of FloatToPCM16, used by tests and
// level metering.
func PCM16ToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}

// RMSEnergy computes the root-mean-square energy of PCM16LE audio,
// normalized to [0, 1].
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}
