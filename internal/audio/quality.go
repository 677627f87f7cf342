package audio

import "math"

// QualityMetrics is a read-only snapshot of signal cleanliness for one buffer.
// The composite Score is advisory: low scores are logged and reported but
// never block transcription.
type QualityMetrics struct {
	SNRdB            float64 `json:"snr_db"`
	RMS              float64 `json:"rms"`
	Peak             float64 `json:"peak"`
	CrestFactor      float64 `json:"crest_factor"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	SpectralCentroid float64 `json:"spectral_centroid"`
	Score            float64 `json:"score"`
}

// AnalyzeQuality computes signal metrics and a composite score in [0,1] from
// five normalized sub-scores: SNR, level, crest factor, zero-crossing rate and
// spectral centroid.
func AnalyzeQuality(samples []float32, sampleRate int) QualityMetrics {
	if len(samples) == 0 || sampleRate <= 0 {
		return QualityMetrics{}
	}

	m := QualityMetrics{
		RMS: rms(samples),
	}
	if m.RMS < 1e-6 {
		// Effectively silence: sub-scores are meaningless.
		return m
	}

	for _, s := range samples {
		a := math.Abs(float64(s))
		if a > m.Peak {
			m.Peak = a
		}
	}
	if m.RMS > 1e-9 {
		m.CrestFactor = m.Peak / m.RMS
	}

	m.ZeroCrossingRate = zeroCrossingRate(samples)
	m.SNRdB = estimateSNR(samples, sampleRate)
	m.SpectralCentroid = spectralCentroid(samples, sampleRate)

	m.Score = compositeScore(m)
	return m
}

func zeroCrossingRate(samples []float32) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

// estimateSNR compares the loudest-decile frame energy against the quietest
// decile, treating the latter as the noise floor.
func estimateSNR(samples []float32, sampleRate int) float64 {
	frameLen := sampleRate / 100
	if frameLen <= 0 {
		frameLen = 160
	}
	var frames []float64
	for start := 0; start+frameLen <= len(samples); start += frameLen {
		frames = append(frames, rms(samples[start:start+frameLen]))
	}
	if len(frames) < 2 {
		return 0
	}

	floor := noiseFloor(frames)
	var loudest float64
	for _, f := range frames {
		if f > loudest {
			loudest = f
		}
	}
	if floor < 1e-9 {
		floor = 1e-9
	}
	if loudest < floor {
		return 0
	}
	return 20 * math.Log10(loudest/floor)
}

// spectralCentroid approximates the spectral balance point via the
// autocorrelation-free zero-crossing relation: dominant frequency scales with
// crossing rate. Good enough for a quality heuristic without an FFT.
func spectralCentroid(samples []float32, sampleRate int) float64 {
	zcr := zeroCrossingRate(samples)
	return zcr * float64(sampleRate) / 2
}

func compositeScore(m QualityMetrics) float64 {
	// Each sub-score normalized into [0,1].
	snrScore := clamp01(m.SNRdB / 30)

	levelScore := clamp01(m.RMS / 0.1)
	if m.RMS > 0.5 {
		// Penalize clipping-range levels.
		levelScore = clamp01(1 - (m.RMS-0.5)*2)
	}

	// Speech typically sits around crest factor 3-10.
	crestScore := 0.0
	if m.CrestFactor > 1 {
		crestScore = clamp01(1 - math.Abs(m.CrestFactor-6)/10)
	}

	// Speech ZCR is moderate; extremes mean hum or hiss.
	zcrScore := clamp01(1 - math.Abs(m.ZeroCrossingRate-0.08)/0.3)

	// Speech energy concentrates well below 4 kHz.
	centroidScore := 0.0
	if m.SpectralCentroid > 0 {
		centroidScore = clamp01(1 - math.Abs(m.SpectralCentroid-1000)/4000)
	}

	return clamp01(0.35*snrScore + 0.25*levelScore + 0.15*crestScore + 0.15*zcrScore + 0.10*centroidScore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
