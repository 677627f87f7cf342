// Package session implements the streaming session manager: one owning
// task per client connection that buffers inbound audio, drives the
// conditioning and dispatch pipeline on cadence, and emits partial and
// final transcription events.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"medical-dictation-service/internal/stt"
)

// Settings are the per-session knobs, seeded from server defaults and
// overridable by client config messages.
type Settings struct {
	Language         string
	DomainContext    bool
	QualityThreshold float64
	ChunkCadence     time.Duration
	SampleRate       int
	Channels         int
}

// Session holds the state of one streaming connection. All fields except
// lastActivity are owned by the session's run loop and must not be
// touched from other goroutines; lastActivity is atomic so the reaper
// can read it.
type Session struct {
	ID        string
	Source    string
	CreatedAt time.Time

	Lifecycle *Lifecycle
	Settings  Settings

	buffer       []float32
	lastEmit     time.Time
	lastPartial  string
	history      []*stt.Result
	transcripts  int
	lastActivity atomic.Int64

	// cancel aborts in-flight processing when the session terminates.
	cancel func()
}

func newSession(source string, settings Settings) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		Source:    source,
		CreatedAt: time.Now(),
		Lifecycle: NewLifecycle(),
		Settings:  settings,
		lastEmit:  time.Now(),
	}
	s.Touch()
	return s
}

// Touch records activity now. Last-activity never goes backwards.
func (s *Session) Touch() {
	now := time.Now().UnixNano()
	for {
		prev := s.lastActivity.Load()
		if now <= prev || s.lastActivity.CompareAndSwap(prev, now) {
			return
		}
	}
}

// LastActivity returns the time of the most recent inbound message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity())
}

// appendAudio adds conditioned samples to the session buffer.
func (s *Session) appendAudio(samples []float32) {
	s.buffer = append(s.buffer, samples...)
}

// bufferedDuration reports how much audio is waiting at the given rate.
func (s *Session) bufferedDuration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.buffer)) * time.Second / time.Duration(sampleRate)
}

// takeBuffer hands the accumulated audio to a processing cycle and
// resets the buffer. Exactly one active buffer exists per session.
func (s *Session) takeBuffer() []float32 {
	buf := s.buffer
	s.buffer = nil
	return buf
}

// recordFinal appends a finalized result to the running transcript.
func (s *Session) recordFinal(res *stt.Result) {
	s.history = append(s.history, res)
	s.transcripts++
	s.lastPartial = ""
	s.lastEmit = time.Now()
}

// recordPartial remembers the last emitted partial text for dedup.
func (s *Session) recordPartial(text string) {
	s.lastPartial = text
	s.lastEmit = time.Now()
}

// Transcriptions returns the number of finalized results so far.
func (s *Session) Transcriptions() int {
	return s.transcripts
}
