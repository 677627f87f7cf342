// Package stt defines the transcription backend abstraction and its
// implementations: local whisper.cpp subprocess models and remote APIs.
package stt

import (
	"context"
	"errors"
)

// Backend is an interchangeable speech-to-text engine. Implementations must
// be safe for concurrent use: any per-request state lives in the Transcribe
// invocation, not on the receiver.
type Backend interface {
	// Name returns the provenance tag recorded on results.
	Name() string

	// Available reports whether the backend can currently serve requests
	// (model loaded, binary present, credentials configured).
	Available() bool

	// SupportsLanguage reports whether the backend accepts the language
	// hint. An empty hint means auto-detect and is accepted by every
	// backend that supports detection.
	SupportsLanguage(lang string) bool

	// Transcribe converts conditioned mono PCM into a transcription result.
	// The returned result always carries a defined confidence.
	Transcribe(ctx context.Context, samples []float32, sampleRate int, lang string) (*Result, error)
}

// ErrUnavailable marks a backend that cannot serve requests right now.
var ErrUnavailable = errors.New("backend unavailable")
