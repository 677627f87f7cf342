package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medical-dictation-service/internal/config"
	"medical-dictation-service/internal/observability/metrics"
	"medical-dictation-service/internal/store"
)

// Rejection errors surfaced to the client before a session is admitted.
var (
	ErrServerFull  = errors.New("server session limit reached")
	ErrSourceLimit = errors.New("source connection limit reached")
)

// Manager is the arena of live sessions. Connection handlers register
// and remove sessions here; a background reaper sweeps idle ones.
type Manager struct {
	cfg   config.SessionConfig
	store store.Store
	log   zerolog.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	perSource map[string]int
}

// NewManager creates a session manager backed by the given store.
func NewManager(cfg config.SessionConfig, st store.Store, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		log:       log.With().Str("component", "session_manager").Logger(),
		sessions:  make(map[string]*Session),
		perSource: make(map[string]int),
	}
}

// sessionRecord is the store representation of a session.
type sessionRecord struct {
	ID             string    `json:"id"`
	Source         string    `json:"source"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	Transcriptions int       `json:"transcriptions"`
}

// Register admits a new session for the given source, enforcing the
// per-source and server-wide connection caps.
func (m *Manager) Register(source string, settings Settings) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		metrics.DefaultMetrics.SessionsRejected.WithLabelValues("server_full").Inc()
		return nil, ErrServerFull
	}
	if m.cfg.MaxPerSource > 0 && m.perSource[source] >= m.cfg.MaxPerSource {
		m.mu.Unlock()
		metrics.DefaultMetrics.SessionsRejected.WithLabelValues("source_limit").Inc()
		return nil, ErrSourceLimit
	}

	s := newSession(source, settings)
	m.sessions[s.ID] = s
	m.perSource[source]++
	m.mu.Unlock()

	metrics.DefaultMetrics.SessionsTotal.Inc()
	metrics.DefaultMetrics.SessionsActive.Inc()

	m.persist(s)
	m.countSource(source)
	m.log.Info().Str("sessionId", s.ID).Str("source", source).Msg("Session registered")
	return s, nil
}

// countSource bumps the cumulative per-source session counter in the
// store. The live caps use the in-process map; this counter survives
// restarts for rate accounting. Best effort.
func (m *Manager) countSource(source string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := m.store.Increment(ctx, "sessions:source:"+source, 24*time.Hour); err != nil {
		m.log.Warn().Err(err).Str("source", source).Msg("Failed to bump source session counter")
	}
}

// Remove releases a session's registry slot and counters. Safe to call
// more than once; resources are released exactly once.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, id)
	if m.perSource[s.Source] > 0 {
		m.perSource[s.Source]--
	}
	if m.perSource[s.Source] == 0 {
		delete(m.perSource, s.Source)
	}
	m.mu.Unlock()

	s.Lifecycle.Terminate()
	if s.cancel != nil {
		s.cancel()
	}

	metrics.DefaultMetrics.SessionsActive.Dec()
	metrics.DefaultMetrics.SessionDuration.Observe(time.Since(s.CreatedAt).Seconds())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.store.Delete(ctx, "session:"+id); err != nil {
		m.log.Warn().Err(err).Str("sessionId", id).Msg("Failed to delete session record")
	}

	m.log.Info().
		Str("sessionId", id).
		Int("transcriptions", s.Transcriptions()).
		Dur("lifetime", time.Since(s.CreatedAt)).
		Msg("Session removed")
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ActiveCount returns the number of registered sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// persist writes the session record to the store best effort. Losing a
// record degrades restart recovery, never a live session.
func (m *Manager) persist(s *Session) {
	rec := sessionRecord{
		ID:             s.ID,
		Source:         s.Source,
		State:          s.Lifecycle.State().String(),
		CreatedAt:      s.CreatedAt,
		LastActivity:   s.LastActivity(),
		Transcriptions: s.Transcriptions(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ttl := m.cfg.IdleTimeout * 2
	if err := m.store.Put(ctx, "session:"+s.ID, payload, ttl); err != nil {
		m.log.Warn().Err(err).Str("sessionId", s.ID).Msg("Failed to persist session record")
	}
}

// Run drives the idle-session reaper until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.reap(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// reap removes every session idle past the configured timeout.
func (m *Manager) reap(now time.Time) {
	m.mu.RLock()
	var expired []*Session
	for _, s := range m.sessions {
		if s.IdleFor(now) > m.cfg.IdleTimeout {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		m.log.Info().
			Str("sessionId", s.ID).
			Dur("idle", s.IdleFor(now)).
			Msg("Reaping idle session")
		metrics.DefaultMetrics.SessionsReaped.Inc()
		m.Remove(s.ID)
	}
}
