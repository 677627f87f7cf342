package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medical-dictation-service/internal/audio"
	"medical-dictation-service/internal/config"
	"medical-dictation-service/internal/dispatch"
	"medical-dictation-service/internal/enhance"
	"medical-dictation-service/internal/events"
	"medical-dictation-service/internal/store"
	"medical-dictation-service/internal/stt/mock"
)

// fakeConn is an in-memory Conn. The test plays the client: it feeds
// inbound frames through in and drains server writes from out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 32),
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("connection closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("connection closed")
	default:
		return errors.New("outbound buffer full")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, msg ClientMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal client message: %v", err)
	}
	c.in <- data
}

// drainUntil collects server messages until one of the given type
// arrives or the deadline passes.
func (c *fakeConn) drainUntil(t *testing.T, msgType string, deadline time.Duration) []ServerMessage {
	t.Helper()
	var got []ServerMessage
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case data := <-c.out:
			var msg ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal server message: %v", err)
			}
			got = append(got, msg)
			if msg.Type == msgType {
				return got
			}
		case <-timer.C:
			return got
		}
	}
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		ChunkCadence:      200 * time.Millisecond,
		SilenceTimeout:    2 * time.Second,
		MinBufferDuration: 100 * time.Millisecond,
		IdleTimeout:       time.Minute,
		ReapInterval:      time.Minute,
		HeartbeatInterval: time.Hour,
		MaxSessions:       10,
		MaxPerSource:      10,
		DefaultLanguage:   "en",
		ResultTTL:         time.Minute,
	}
}

func newTestHandler(cfg config.SessionConfig) (*Handler, *mock.Backend, *Manager) {
	backend := mock.New("medical")
	orch := dispatch.New(dispatch.Config{
		MaxConcurrent:  2,
		RequestTimeout: 5 * time.Second,
		BackoffBase:    time.Millisecond,
		BackoffCap:     10 * time.Millisecond,
	}, []dispatch.Entry{{Backend: backend}}, nil, zerolog.Nop())

	conditioner := audio.NewConditioner(audio.Config{
		TargetSampleRate:   16000,
		MinDuration:        50 * time.Millisecond,
		NoiseGateThreshold: 0.01,
		TargetRMS:          0.1,
		HighPassHz:         100,
		VAD:                audio.VADConfig{Threshold: 0.01, HangoverFrames: 3},
	}, zerolog.Nop())

	st := store.NewMemory()
	manager := NewManager(cfg, st, zerolog.Nop())
	h := NewHandler(cfg, conditioner, orch, manager, st,
		enhance.New("", time.Second, zerolog.Nop()),
		events.New(nil),
		zerolog.Nop())
	return h, backend, manager
}

// pcmB64 builds a base64 16-bit PCM payload. Amplitude 0 yields pure
// silence; otherwise a full-rate alternating waveform.
func pcmB64(amplitude float64, dur time.Duration, rate int) string {
	n := int(dur.Seconds() * float64(rate))
	raw := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(int16(v*32767)))
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func countByType(msgs []ServerMessage, msgType string) int {
	n := 0
	for _, m := range msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

func TestHandler_SilenceEmitsNothing(t *testing.T) {
	h, backend, _ := newTestHandler(testSessionConfig())
	conn := newFakeConn()

	done := make(chan error, 1)
	go func() { done <- h.HandleConn(context.Background(), conn, "ward-1") }()

	for i := 0; i < 3; i++ {
		conn.send(t, ClientMessage{Type: MsgAudio, Data: pcmB64(0, 300*time.Millisecond, 16000)})
	}
	// Let several cadence cycles run over the silent buffer.
	time.Sleep(600 * time.Millisecond)
	conn.send(t, ClientMessage{Type: MsgEndSession})

	msgs := conn.drainUntil(t, MsgSessionEnd, 2*time.Second)
	<-done

	if n := countByType(msgs, MsgPartial); n != 0 {
		t.Errorf("expected no partial events for silence, got %d", n)
	}
	if n := countByType(msgs, MsgFinal); n != 0 {
		t.Errorf("expected no final events for silence, got %d", n)
	}
	if backend.Calls() != 0 {
		t.Errorf("expected no backend calls for silence, got %d", backend.Calls())
	}

	last := msgs[len(msgs)-1]
	if last.Type != MsgSessionEnd {
		t.Fatalf("expected session_ended, got %s", last.Type)
	}
	if last.TotalTranscriptions != 0 {
		t.Errorf("expected 0 transcriptions, got %d", last.TotalTranscriptions)
	}
}

func TestHandler_SpeechChunkYieldsOneFinal(t *testing.T) {
	cfg := testSessionConfig()
	// Large cadence so the end-of-session flush is the only cycle.
	cfg.ChunkCadence = 10 * time.Second
	h, _, _ := newTestHandler(cfg)
	conn := newFakeConn()

	done := make(chan error, 1)
	go func() { done <- h.HandleConn(context.Background(), conn, "ward-1") }()

	conn.send(t, ClientMessage{Type: MsgAudio, Data: pcmB64(0.3, 2*time.Second, 16000)})
	time.Sleep(100 * time.Millisecond)
	conn.send(t, ClientMessage{Type: MsgEndSession})

	msgs := conn.drainUntil(t, MsgSessionEnd, 3*time.Second)
	<-done

	if n := countByType(msgs, MsgFinal); n != 1 {
		t.Fatalf("expected exactly 1 final event, got %d", n)
	}
	for _, m := range msgs {
		if m.Type != MsgFinal {
			continue
		}
		if m.Data == nil || m.Data.Text == "" {
			t.Error("expected non-empty final text")
			continue
		}
		if m.Data.Confidence <= 0.5 {
			t.Errorf("expected confidence > 0.5, got %f", m.Data.Confidence)
		}
		if m.Data.Backend != "medical" {
			t.Errorf("expected provenance 'medical', got %s", m.Data.Backend)
		}
	}

	last := msgs[len(msgs)-1]
	if last.TotalTranscriptions != 1 {
		t.Errorf("expected 1 transcription in summary, got %d", last.TotalTranscriptions)
	}
}

func TestHandler_RejectsWhenFull(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxSessions = 1
	h, _, manager := newTestHandler(cfg)

	// Occupy the only slot.
	if _, err := manager.Register("other", Settings{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	conn := newFakeConn()
	err := h.HandleConn(context.Background(), conn, "ward-1")
	if !errors.Is(err, ErrServerFull) {
		t.Fatalf("expected ErrServerFull, got %v", err)
	}

	select {
	case data := <-conn.out:
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal rejection: %v", err)
		}
		if msg.Type != MsgError {
			t.Errorf("expected error message, got %s", msg.Type)
		}
	default:
		t.Error("expected a rejection message before close")
	}
}

func TestHandler_PartialDeduplication(t *testing.T) {
	cfg := testSessionConfig()
	cfg.ChunkCadence = time.Minute
	h, backend, manager := newTestHandler(cfg)

	s, err := manager.Register("ward-1", Settings{
		Language:     "en",
		ChunkCadence: time.Minute,
		SampleRate:   16000,
		Channels:     1,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Lifecycle.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	conn := newFakeConn()
	w := &wsWriter{conn: conn}
	log := zerolog.Nop()

	speech := make([]float32, 16000)
	for i := range speech {
		if i%2 == 0 {
			speech[i] = 0.2
		} else {
			speech[i] = -0.2
		}
	}

	// Two cycles over identical audio produce identical hypotheses; the
	// second must be suppressed.
	s.appendAudio(speech)
	h.processBuffered(context.Background(), s, w, false, log)
	s.appendAudio(speech)
	h.processBuffered(context.Background(), s, w, false, log)

	partials := 0
	for {
		select {
		case data := <-conn.out:
			var msg ServerMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if msg.Type == MsgPartial {
				partials++
				if !msg.Data.IsPartial {
					t.Error("partial event must carry is_partial")
				}
			}
		default:
			if partials != 1 {
				t.Errorf("expected 1 partial after dedup, got %d", partials)
			}
			// The second identical buffer is served from the dispatch
			// result cache.
			if backend.Calls() != 1 {
				t.Errorf("expected 1 backend call, got %d", backend.Calls())
			}
			return
		}
	}
}

func TestHandler_ClientSampleRatePreserved(t *testing.T) {
	h, _, manager := newTestHandler(testSessionConfig())

	s, err := manager.Register("ward-1", Settings{
		Language:     "en",
		ChunkCadence: time.Minute,
		SampleRate:   8000,
		Channels:     1,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Lifecycle.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Two identical one second 8 kHz chunks must be decoded and
	// resampled identically.
	chunk := pcmB64(0.3, time.Second, 8000)
	if err := h.handleAudio(s, chunk); err != nil {
		t.Fatalf("first chunk failed: %v", err)
	}
	afterFirst := len(s.buffer)
	if err := h.handleAudio(s, chunk); err != nil {
		t.Fatalf("second chunk failed: %v", err)
	}

	if s.Settings.SampleRate != 8000 {
		t.Errorf("client sample rate overwritten: got %d, want 8000", s.Settings.SampleRate)
	}
	if got := len(s.buffer) - afterFirst; got != afterFirst {
		t.Errorf("second chunk conditioned differently: %d then %d samples", afterFirst, got)
	}
	// One second at 8 kHz resamples to one second at the target rate.
	if afterFirst < 15000 || afterFirst > 17000 {
		t.Errorf("expected roughly 16000 conditioned samples per chunk, got %d", afterFirst)
	}
}

func TestHandler_LowQualityChunkLogged(t *testing.T) {
	cfg := testSessionConfig()
	backend := mock.New("medical")
	orch := dispatch.New(dispatch.Config{
		MaxConcurrent:  2,
		RequestTimeout: 5 * time.Second,
	}, []dispatch.Entry{{Backend: backend}}, nil, zerolog.Nop())

	conditioner := audio.NewConditioner(audio.Config{
		TargetSampleRate:   16000,
		MinDuration:        50 * time.Millisecond,
		NoiseGateThreshold: 0.01,
		TargetRMS:          0.1,
		HighPassHz:         100,
		VAD:                audio.VADConfig{Threshold: 0.01, HangoverFrames: 3},
	}, zerolog.Nop())

	var logs bytes.Buffer
	st := store.NewMemory()
	manager := NewManager(cfg, st, zerolog.Nop())
	h := NewHandler(cfg, conditioner, orch, manager, st,
		enhance.New("", time.Second, zerolog.Nop()),
		events.New(nil),
		zerolog.New(&logs))

	s, err := manager.Register("ward-1", Settings{
		Language:         "en",
		QualityThreshold: 0.99,
		SampleRate:       16000,
		Channels:         1,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Lifecycle.Activate(); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := h.handleAudio(s, pcmB64(0.3, time.Second, 16000)); err != nil {
		t.Fatalf("handleAudio failed: %v", err)
	}

	if !strings.Contains(logs.String(), "quality below session threshold") {
		t.Error("expected an advisory log for a chunk below the quality threshold")
	}
	if len(s.buffer) == 0 {
		t.Error("low quality is advisory, the chunk must still be buffered")
	}
}

func TestHandler_MalformedMessageKeepsSessionOpen(t *testing.T) {
	h, _, manager := newTestHandler(testSessionConfig())
	conn := newFakeConn()

	done := make(chan error, 1)
	go func() { done <- h.HandleConn(context.Background(), conn, "ward-1") }()

	conn.in <- []byte("{not json")
	time.Sleep(50 * time.Millisecond)
	if manager.ActiveCount() != 1 {
		t.Errorf("expected session to survive a protocol error, got %d active", manager.ActiveCount())
	}

	conn.send(t, ClientMessage{Type: MsgEndSession})
	msgs := conn.drainUntil(t, MsgSessionEnd, 2*time.Second)
	<-done

	if countByType(msgs, MsgError) == 0 {
		t.Error("expected an error message for malformed input")
	}
	if countByType(msgs, MsgSessionEnd) != 1 {
		t.Error("expected a clean session end after the protocol error")
	}
}
