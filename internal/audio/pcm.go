package audio

import (
	"encoding/binary"
	"math"
)

// DecodePCM16 converts little-endian 16-bit PCM bytes into float32 samples in
// [-1, 1], mixing interleaved channels down to mono. A trailing odd byte is
// dropped.
func DecodePCM16(data []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	n := len(data) / 2
	frames := n / channels
	if frames == 0 {
		return nil
	}

	samples := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float64
		for c := 0; c < channels; c++ {
			idx := (f*channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(data[idx : idx+2]))
			sum += float64(s) / 32768.0
		}
		samples[f] = float32(sum / float64(channels))
	}
	return samples
}

// EncodePCM16 converts float32 samples in [-1, 1] back to little-endian
// 16-bit PCM bytes, clipping out-of-range values.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

// Resample converts samples from one rate to another using linear
// interpolation. Returns the input unchanged when the rates match.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Floor(float64(len(samples)) / ratio))
	if outLen == 0 {
		return nil
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[idx]
		}
	}
	return out
}
