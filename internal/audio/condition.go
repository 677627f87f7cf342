// Package audio implements the audio conditioning pipeline: format
// normalization, filtering, noise handling, voice-activity based silence
// trimming and quality scoring.
package audio

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds conditioning pipeline settings.
type Config struct {
	TargetSampleRate   int
	MinDuration        time.Duration
	NoiseGateThreshold float64
	TargetRMS          float64
	HighPassHz         float64
	VAD                VADConfig
}

// Conditioned is the output of one conditioning pass. Empty marks input that
// produced no usable audio (malformed, too short, or pure silence on the file
// path); callers skip transcription for empty results instead of failing.
type Conditioned struct {
	Samples    []float32
	SampleRate int
	Duration   time.Duration
	Quality    QualityMetrics
	Empty      bool
}

// Conditioner converts raw uploaded or streamed audio into normalized mono
// PCM. The file path applies the full treatment; the streaming path applies
// only lightweight filters to bound per-chunk latency.
type Conditioner struct {
	cfg Config
	log zerolog.Logger
}

// NewConditioner creates a conditioner with the given settings.
func NewConditioner(cfg Config, log zerolog.Logger) *Conditioner {
	if cfg.TargetSampleRate <= 0 {
		cfg.TargetSampleRate = 16000
	}
	return &Conditioner{cfg: cfg, log: log}
}

// ConditionChunk processes one streaming PCM chunk: mono mixdown, resample,
// DC-offset removal, gentle high-pass, noise gate and adaptive gain. Heavier
// algorithms are deliberately skipped on this path.
func (c *Conditioner) ConditionChunk(pcm []byte, sampleRate, channels int) *Conditioned {
	samples := DecodePCM16(pcm, channels)
	return c.conditionSamples(samples, sampleRate, false)
}

// ConditionFile processes a complete WAV upload with the full pipeline:
// normalization plus noise reduction and VAD silence trimming. Malformed
// input degrades to an empty result, never an error.
func (c *Conditioner) ConditionFile(data []byte) *Conditioned {
	samples, sampleRate, err := DecodeWAV(data)
	if err != nil {
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("Upload decode failed, treating as no audio")
		return &Conditioned{SampleRate: c.cfg.TargetSampleRate, Empty: true}
	}
	return c.conditionSamples(samples, sampleRate, true)
}

func (c *Conditioner) conditionSamples(samples []float32, sampleRate int, full bool) *Conditioned {
	target := c.cfg.TargetSampleRate

	if len(samples) == 0 || sampleRate <= 0 {
		return &Conditioned{SampleRate: target, Empty: true}
	}

	samples = Resample(samples, sampleRate, target)

	dur := sampleDuration(len(samples), target)
	if dur < c.cfg.MinDuration {
		return &Conditioned{SampleRate: target, Duration: dur, Empty: true}
	}

	RemoveDCOffset(samples)
	HighPass(samples, target, c.cfg.HighPassHz)

	if full {
		ReduceNoise(samples, target)
		trimmed := TrimSilence(samples, target, c.cfg.VAD)
		if trimmed == nil {
			quality := AnalyzeQuality(samples, target)
			return &Conditioned{SampleRate: target, Duration: dur, Quality: quality, Empty: true}
		}
		samples = trimmed
	} else {
		NoiseGate(samples, target, c.cfg.NoiseGateThreshold)
	}

	AdaptiveGain(samples, c.cfg.TargetRMS)

	quality := AnalyzeQuality(samples, target)
	if quality.Score < 0.2 {
		c.log.Debug().
			Float64("score", quality.Score).
			Float64("snrDb", quality.SNRdB).
			Msg("Low audio quality score")
	}

	return &Conditioned{
		Samples:    samples,
		SampleRate: target,
		Duration:   sampleDuration(len(samples), target),
		Quality:    quality,
	}
}

// VADConfigured exposes the pipeline's VAD settings so the session manager
// can run speech checks on buffered audio with the same thresholds.
func (c *Conditioner) VADConfigured() VADConfig {
	return c.cfg.VAD
}

// TargetSampleRate returns the pipeline's output sample rate.
func (c *Conditioner) TargetSampleRate() int {
	return c.cfg.TargetSampleRate
}

func sampleDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
