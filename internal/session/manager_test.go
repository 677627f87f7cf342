package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medical-dictation-service/internal/config"
	"medical-dictation-service/internal/store"
)

func testManagerConfig() config.SessionConfig {
	return config.SessionConfig{
		ChunkCadence:      time.Second,
		SilenceTimeout:    4 * time.Second,
		MinBufferDuration: 500 * time.Millisecond,
		IdleTimeout:       2 * time.Minute,
		ReapInterval:      30 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		MaxSessions:       3,
		MaxPerSource:      2,
		DefaultLanguage:   "en",
	}
}

func newTestManager(cfg config.SessionConfig) *Manager {
	return NewManager(cfg, store.NewMemory(), zerolog.Nop())
}

func TestManager_RegisterAndRemove(t *testing.T) {
	m := newTestManager(testManagerConfig())

	s, err := m.Register("ward-3", Settings{Language: "en"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if s.ID == "" {
		t.Error("expected a session id")
	}
	if m.ActiveCount() != 1 {
		t.Errorf("expected 1 active session, got %d", m.ActiveCount())
	}

	if got, ok := m.Get(s.ID); !ok || got != s {
		t.Error("Get should return the registered session")
	}

	m.Remove(s.ID)
	if m.ActiveCount() != 0 {
		t.Errorf("expected 0 active sessions after remove, got %d", m.ActiveCount())
	}
	if !s.Lifecycle.IsTerminated() {
		t.Error("removed session should be terminated")
	}

	// Removing again must be a no-op.
	m.Remove(s.ID)
	if m.ActiveCount() != 0 {
		t.Errorf("double remove changed count to %d", m.ActiveCount())
	}
}

func TestManager_ServerCap(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxSessions = 2
	cfg.MaxPerSource = 10
	m := newTestManager(cfg)

	if _, err := m.Register("a", Settings{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := m.Register("b", Settings{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := m.Register("c", Settings{}); !errors.Is(err, ErrServerFull) {
		t.Errorf("expected ErrServerFull, got %v", err)
	}
}

func TestManager_PerSourceCap(t *testing.T) {
	cfg := testManagerConfig()
	cfg.MaxPerSource = 1
	m := newTestManager(cfg)

	first, err := m.Register("icu", Settings{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := m.Register("icu", Settings{}); !errors.Is(err, ErrSourceLimit) {
		t.Errorf("expected ErrSourceLimit, got %v", err)
	}

	// A different source is unaffected.
	if _, err := m.Register("er", Settings{}); err != nil {
		t.Errorf("unexpected rejection for distinct source: %v", err)
	}

	// Removing frees the slot for the capped source.
	m.Remove(first.ID)
	if _, err := m.Register("icu", Settings{}); err != nil {
		t.Errorf("expected slot freed after remove, got %v", err)
	}
}

func TestManager_ReapIdleSessions(t *testing.T) {
	cfg := testManagerConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	m := newTestManager(cfg)

	idle, err := m.Register("ward-1", Settings{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	busy, err := m.Register("ward-2", Settings{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	busy.Touch()

	m.reap(time.Now())

	if _, ok := m.Get(idle.ID); ok {
		t.Error("idle session should be reaped")
	}
	if _, ok := m.Get(busy.ID); !ok {
		t.Error("active session should survive the sweep")
	}
	if !idle.Lifecycle.IsTerminated() {
		t.Error("reaped session should be terminated")
	}
}

func TestManager_SourceCounterPersisted(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()
	m := NewManager(testManagerConfig(), st, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if _, err := m.Register("icu", Settings{}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	// Two registrations leave the cumulative counter at 2; the next
	// increment observes it.
	n, err := st.Increment(context.Background(), "sessions:source:icu", time.Minute)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected cumulative counter 3 after two registrations, got %d", n)
	}
}

func TestSession_TouchMonotonic(t *testing.T) {
	s := newSession("src", Settings{})
	before := s.LastActivity()
	time.Sleep(time.Millisecond)
	s.Touch()
	after := s.LastActivity()
	if after.Before(before) {
		t.Errorf("last activity went backwards: %v -> %v", before, after)
	}
}
