package mock

import (
	"context"
	"errors"
	"testing"
)

func speechSamples(n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	return samples
}

func TestTranscribe_Deterministic(t *testing.T) {
	b := New("stub")
	samples := speechSamples(16000)

	first, err := b.Transcribe(context.Background(), samples, 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := b.Transcribe(context.Background(), samples, 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Text != second.Text {
		t.Errorf("expected identical text for identical audio: %q vs %q", first.Text, second.Text)
	}
	if first.Text == "" {
		t.Error("expected non-empty text for speech samples")
	}
	if first.Confidence <= 0.5 {
		t.Errorf("expected confidence > 0.5, got %f", first.Confidence)
	}
	if first.Backend != "stub" {
		t.Errorf("expected provenance 'stub', got %s", first.Backend)
	}
}

func TestTranscribe_SilenceIsEmpty(t *testing.T) {
	b := New("stub")

	res, err := b.Transcribe(context.Background(), make([]float32, 16000), 16000, "en")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected empty text for silence, got %q", res.Text)
	}
	if res.Confidence != 0 {
		t.Errorf("expected zero confidence for silence, got %f", res.Confidence)
	}
}

func TestAvailabilityToggle(t *testing.T) {
	b := New("stub")
	if !b.Available() {
		t.Fatal("expected available after New")
	}
	b.SetAvailable(false)
	if b.Available() {
		t.Fatal("expected unavailable after toggle")
	}
	if _, err := b.Transcribe(context.Background(), speechSamples(100), 16000, "en"); err == nil {
		t.Error("expected error from unavailable backend")
	}
}

func TestFailWith(t *testing.T) {
	b := New("stub")
	b.FailWith = errors.New("inference exploded")

	if _, err := b.Transcribe(context.Background(), speechSamples(100), 16000, "en"); err == nil {
		t.Error("expected forced error")
	}
	if b.Calls() != 1 {
		t.Errorf("expected 1 recorded call, got %d", b.Calls())
	}
}

func TestLanguageRestriction(t *testing.T) {
	b := NewWithLanguages("medical", "en")
	if !b.SupportsLanguage("en") {
		t.Error("expected en supported")
	}
	if b.SupportsLanguage("de") {
		t.Error("expected de unsupported")
	}
}
