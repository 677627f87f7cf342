package audio

// Energy-based voice activity detection. A production deployment would swap
// in a model-based detector behind the same frame interface; the energy
// detector is sufficient for silence trimming and cadence decisions.

// VADConfig configures the energy detector.
type VADConfig struct {
	Threshold      float64 // frame RMS above this counts as voice
	HangoverFrames int     // frames of silence tolerated inside a segment
}

// SpeechSegment is a half-open sample range [Start, End) containing speech.
type SpeechSegment struct {
	Start int
	End   int
}

// DetectSpeech scans 20 ms frames and returns the speech segments found.
// Hangover frames bridge short intra-word pauses so segments do not shatter.
func DetectSpeech(samples []float32, sampleRate int, cfg VADConfig) []SpeechSegment {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	frameLen := sampleRate / 50
	if frameLen <= 0 {
		frameLen = 320
	}
	hangover := cfg.HangoverFrames
	if hangover <= 0 {
		hangover = 8
	}

	var segments []SpeechSegment
	inSpeech := false
	segStart := 0
	silentRun := 0

	for start := 0; start < len(samples); start += frameLen {
		end := start + frameLen
		if end > len(samples) {
			end = len(samples)
		}
		voiced := rms(samples[start:end]) >= cfg.Threshold

		switch {
		case voiced && !inSpeech:
			inSpeech = true
			segStart = start
			silentRun = 0
		case voiced && inSpeech:
			silentRun = 0
		case !voiced && inSpeech:
			silentRun++
			if silentRun > hangover {
				segEnd := end - silentRun*frameLen
				if segEnd > segStart {
					segments = append(segments, SpeechSegment{Start: segStart, End: segEnd})
				}
				inSpeech = false
			}
		}
	}

	if inSpeech {
		segments = append(segments, SpeechSegment{Start: segStart, End: len(samples)})
	}
	return segments
}

// TrimSilence keeps only the detected speech segments, concatenated, with a
// short padding around each so word onsets are not clipped. Returns nil when
// no speech is present.
func TrimSilence(samples []float32, sampleRate int, cfg VADConfig) []float32 {
	segments := DetectSpeech(samples, sampleRate, cfg)
	if len(segments) == 0 {
		return nil
	}

	pad := sampleRate / 20 // 50 ms
	out := make([]float32, 0, len(samples))
	for _, seg := range segments {
		start := seg.Start - pad
		if start < 0 {
			start = 0
		}
		end := seg.End + pad
		if end > len(samples) {
			end = len(samples)
		}
		out = append(out, samples[start:end]...)
	}
	return out
}

// HasSpeech reports whether any frame exceeds the voice threshold.
func HasSpeech(samples []float32, sampleRate int, cfg VADConfig) bool {
	return len(DetectSpeech(samples, sampleRate, cfg)) > 0
}

// TrailingSilence returns the duration-equivalent sample count of silence at
// the end of the buffer. The session manager uses it to decide whether an
// utterance has ended.
func TrailingSilence(samples []float32, sampleRate int, cfg VADConfig) int {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0
	}
	frameLen := sampleRate / 50
	if frameLen <= 0 {
		frameLen = 320
	}
	silent := 0
	for end := len(samples); end > 0; end -= frameLen {
		start := end - frameLen
		if start < 0 {
			start = 0
		}
		if rms(samples[start:end]) >= cfg.Threshold {
			break
		}
		silent += end - start
	}
	return silent
}
