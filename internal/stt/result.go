package stt

import (
	"strings"
	"time"
)

// Segment is one time-stamped span of transcribed text.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is a transcription produced by one backend. Confidence is always
// defined: backends without native scores fill it from EstimateConfidence so
// downstream consumers never branch on a missing value.
type Result struct {
	Text           string        `json:"text"`
	Language       string        `json:"language"`
	Confidence     float64       `json:"confidence"`
	Segments       []Segment     `json:"segments,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	Backend        string        `json:"backend"`
}

// Empty returns the well-formed zero result emitted when no backend could
// produce text.
func Empty(backend string) *Result {
	return &Result{Backend: backend}
}

// uncertaintyMarkers are tokens transcription models emit when unsure.
var uncertaintyMarkers = []string{
	"[inaudible]", "[unclear]", "[?]", "(inaudible)", "(unclear)", "...",
}

// medicalKeywords is a small domain vocabulary used for the keyword-density
// component of the heuristic confidence estimate. The full medical
// vocabulary lives in the text-enhancement collaborator; this list only
// signals that the output looks like dictation.
var medicalKeywords = []string{
	"patient", "diagnosis", "symptom", "treatment", "prescription", "dosage",
	"mg", "ml", "blood pressure", "heart rate", "history", "examination",
	"bilateral", "acute", "chronic", "hypertension", "diabetes", "lesion",
	"anterior", "posterior", "discharge", "follow-up", "referral", "biopsy",
}

// EstimateConfidence derives a heuristic confidence in [0.1, 0.95] for
// backends that do not report per-word probabilities. It combines output
// length, presence of uncertainty markers and domain-keyword density.
func EstimateConfidence(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	lower := strings.ToLower(trimmed)

	conf := 0.6

	// Longer outputs correlate with decoding certainty, up to a point.
	words := len(strings.Fields(trimmed))
	switch {
	case words >= 20:
		conf += 0.15
	case words >= 5:
		conf += 0.1
	case words == 1:
		conf -= 0.1
	}

	for _, marker := range uncertaintyMarkers {
		if strings.Contains(lower, marker) {
			conf -= 0.15
		}
	}

	matches := 0
	for _, kw := range medicalKeywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	if words > 0 {
		density := float64(matches) / float64(words)
		if density > 0.2 {
			density = 0.2
		}
		conf += density
	}

	if conf > 0.95 {
		conf = 0.95
	}
	if conf < 0.1 {
		conf = 0.1
	}
	return conf
}

// AggregateSegmentConfidence averages per-segment confidences, weighted by
// segment duration. Falls back to the heuristic when no segment carries one.
func AggregateSegmentConfidence(segments []Segment, text string) float64 {
	var weighted, total float64
	for _, s := range segments {
		if s.Confidence <= 0 {
			continue
		}
		w := s.End - s.Start
		if w <= 0 {
			w = 1
		}
		weighted += s.Confidence * w
		total += w
	}
	if total == 0 {
		return EstimateConfidence(text)
	}
	conf := weighted / total
	if conf > 1 {
		conf = 1
	}
	return conf
}

// languageMatches checks a hint like "en" or "en-US" against a supported set.
// Matching is by primary subtag.
func languageMatches(hint string, supported []string) bool {
	if len(supported) == 0 {
		return true
	}
	if hint == "" || hint == "auto" {
		return false
	}
	primary := strings.ToLower(strings.SplitN(hint, "-", 2)[0])
	for _, s := range supported {
		if strings.ToLower(strings.SplitN(s, "-", 2)[0]) == primary {
			return true
		}
	}
	return false
}
