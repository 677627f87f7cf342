package audio

import "math"

// RemoveDCOffset subtracts the mean from the signal in place.
func RemoveDCOffset(samples []float32) {
	if len(samples) == 0 {
		return
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := float32(sum / float64(len(samples)))
	for i := range samples {
		samples[i] -= mean
	}
}

// HighPass applies a one-pole high-pass filter in place. cutoffHz values
// around 80 Hz remove rumble without touching the speech band.
func HighPass(samples []float32, sampleRate int, cutoffHz float64) {
	if len(samples) == 0 || sampleRate <= 0 || cutoffHz <= 0 {
		return
	}
	rc := 1.0 / (2 * math.Pi * cutoffHz)
	dt := 1.0 / float64(sampleRate)
	alpha := float32(rc / (rc + dt))

	prevIn := samples[0]
	prevOut := samples[0]
	for i := 1; i < len(samples); i++ {
		in := samples[i]
		out := alpha * (prevOut + in - prevIn)
		samples[i] = out
		prevIn = in
		prevOut = out
	}
}

// NoiseGate zeroes frames whose RMS falls below the threshold. The gate works
// on short frames so brief consonants inside speech survive.
func NoiseGate(samples []float32, sampleRate int, threshold float64) {
	frameLen := sampleRate / 100 // 10 ms frames
	if frameLen <= 0 {
		frameLen = 160
	}
	for start := 0; start < len(samples); start += frameLen {
		end := start + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		if rms(samples[start:end]) < threshold {
			for i := start; i < end; i++ {
				samples[i] = 0
			}
		}
	}
}

// AdaptiveGain scales the signal toward targetRMS, capped to avoid blowing up
// near-silence. Scaling is skipped when the signal is effectively silent.
func AdaptiveGain(samples []float32, targetRMS float64) {
	current := rms(samples)
	if current < 1e-6 {
		return
	}
	gain := targetRMS / current
	if gain > 10 {
		gain = 10
	}
	if gain < 0.1 {
		gain = 0.1
	}
	g := float32(gain)
	for i := range samples {
		v := samples[i] * g
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = v
	}
}

// ReduceNoise applies a simple two-stage reduction used on the file-upload
// path: a noise-floor estimate from the quietest frames is subtracted from the
// per-frame envelope, then a short moving average smooths residual hiss.
func ReduceNoise(samples []float32, sampleRate int) {
	if len(samples) == 0 || sampleRate <= 0 {
		return
	}
	frameLen := sampleRate / 100
	if frameLen <= 0 {
		frameLen = 160
	}

	// Noise floor: mean RMS of the quietest 10% of frames.
	var frameRMS []float64
	for start := 0; start+frameLen <= len(samples); start += frameLen {
		frameRMS = append(frameRMS, rms(samples[start:start+frameLen]))
	}
	if len(frameRMS) == 0 {
		return
	}
	floor := noiseFloor(frameRMS)
	if floor < 1e-6 {
		return
	}
	var loudest float64
	for _, f := range frameRMS {
		if f > loudest {
			loudest = f
		}
	}
	// Without at least ~12 dB between floor and peak there is no
	// distinguishable noise floor to subtract.
	if loudest/floor < 4 {
		return
	}

	// Attenuate frames near the noise floor instead of hard-gating them.
	idx := 0
	for start := 0; start+frameLen <= len(samples); start += frameLen {
		ratio := frameRMS[idx] / floor
		idx++
		if ratio < 2.0 {
			att := float32((ratio - 1.0))
			if att < 0 {
				att = 0
			}
			for i := start; i < start+frameLen; i++ {
				samples[i] *= att
			}
		}
	}

	// 3-point moving average.
	prev := samples[0]
	for i := 1; i < len(samples)-1; i++ {
		cur := samples[i]
		samples[i] = (prev + cur + samples[i+1]) / 3
		prev = cur
	}
}

func noiseFloor(frameRMS []float64) float64 {
	// Partial selection of the quietest decile without sorting everything:
	// for the sizes involved a copy and insertion into a small window is fine.
	n := len(frameRMS) / 10
	if n == 0 {
		n = 1
	}
	quietest := make([]float64, 0, n)
	for _, v := range frameRMS {
		if len(quietest) < n {
			quietest = append(quietest, v)
			continue
		}
		maxIdx := 0
		for i, q := range quietest {
			if q > quietest[maxIdx] {
				maxIdx = i
			}
		}
		if v < quietest[maxIdx] {
			quietest[maxIdx] = v
		}
	}
	var sum float64
	for _, v := range quietest {
		sum += v
	}
	return sum / float64(len(quietest))
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
