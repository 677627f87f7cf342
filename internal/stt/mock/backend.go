// Package mock provides a deterministic transcription backend for testing
// without local models or cloud credentials. Output depends only on the
// input audio, so identical audio always yields identical text.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"medical-dictation-service/internal/stt"
)

// Phrases are the scripted dictation utterances the backend cycles through,
// selected by an audio fingerprint so the mapping is stable per input.
var Phrases = []string{
	"patient presents with acute chest pain radiating to the left arm",
	"blood pressure one forty over ninety heart rate eighty eight",
	"prescribed amoxicillin five hundred mg three times daily",
	"bilateral breath sounds clear no wheezing noted",
	"follow-up appointment scheduled in two weeks",
}

// Backend implements stt.Backend with deterministic responses. Test hooks:
// FailWith forces errors, Latency delays completion, and the in-flight
// counter exposes the maximum observed concurrency.
type Backend struct {
	name      string
	available atomic.Bool
	languages []string

	// FailWith, when non-nil, is returned by every Transcribe call.
	FailWith error
	// Latency delays each Transcribe before returning.
	Latency time.Duration

	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
}

// New creates an available mock backend.
func New(name string) *Backend {
	b := &Backend{name: name}
	b.available.Store(true)
	return b
}

// NewWithLanguages creates a mock backend restricted to the given languages.
func NewWithLanguages(name string, languages ...string) *Backend {
	b := New(name)
	b.languages = languages
	return b
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Available() bool { return b.available.Load() }

// SetAvailable toggles availability for fallback tests.
func (b *Backend) SetAvailable(v bool) { b.available.Store(v) }

func (b *Backend) SupportsLanguage(lang string) bool {
	if len(b.languages) == 0 {
		return true
	}
	for _, l := range b.languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Calls returns how many Transcribe invocations completed.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// MaxInFlight returns the highest number of concurrently executing
// Transcribe calls observed.
func (b *Backend) MaxInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}

func (b *Backend) enter() {
	b.mu.Lock()
	b.calls++
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	b.mu.Unlock()
}

func (b *Backend) exit() {
	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
}

// Transcribe returns a scripted phrase chosen by an input fingerprint.
// Near-silent input produces empty text with zero confidence, mirroring how
// real models behave on empty audio.
func (b *Backend) Transcribe(ctx context.Context, samples []float32, sampleRate int, lang string) (*stt.Result, error) {
	if !b.available.Load() {
		return nil, stt.ErrUnavailable
	}

	b.enter()
	defer b.exit()

	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.FailWith != nil {
		return nil, b.FailWith
	}

	var energy float64
	for _, s := range samples {
		if s < 0 {
			energy -= float64(s)
		} else {
			energy += float64(s)
		}
	}
	if len(samples) == 0 || energy/float64(len(samples)) < 0.001 {
		return stt.Empty(b.name), nil
	}

	text := Phrases[len(samples)%len(Phrases)]
	dur := float64(len(samples)) / float64(sampleRate)

	language := lang
	if language == "" || language == "auto" {
		language = "en"
	}

	return &stt.Result{
		Text:       text,
		Language:   language,
		Confidence: 0.92,
		Segments: []stt.Segment{
			{Start: 0, End: dur, Text: text, Confidence: 0.92},
		},
		Backend: b.name,
	}, nil
}

// String aids debugging in test failures.
func (b *Backend) String() string {
	return fmt.Sprintf("mock(%s available=%v)", b.name, b.available.Load())
}
