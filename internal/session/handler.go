package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medical-dictation-service/internal/audio"
	"medical-dictation-service/internal/config"
	"medical-dictation-service/internal/dispatch"
	"medical-dictation-service/internal/enhance"
	"medical-dictation-service/internal/events"
	"medical-dictation-service/internal/observability/metrics"
	"medical-dictation-service/internal/store"
	"medical-dictation-service/internal/stt"
)

// Conn is the subset of *websocket.Conn the handler needs. Tests swap in
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// wsWriter serializes outbound writes. The run loop and the reject path
// both write, and websocket connections allow only one concurrent writer.
type wsWriter struct {
	mu   sync.Mutex
	conn Conn
}

func (w *wsWriter) writeJSON(msg ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

// Handler drives one streaming connection end to end: protocol I/O,
// audio buffering, cadence-triggered processing and event emission.
type Handler struct {
	cfg         config.SessionConfig
	conditioner *audio.Conditioner
	orch        *dispatch.Orchestrator
	manager     *Manager
	store       store.Store
	enhancer    *enhance.Client
	publisher   *events.Publisher
	log         zerolog.Logger
}

// NewHandler wires the session pipeline.
func NewHandler(
	cfg config.SessionConfig,
	conditioner *audio.Conditioner,
	orch *dispatch.Orchestrator,
	manager *Manager,
	st store.Store,
	enhancer *enhance.Client,
	publisher *events.Publisher,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		cfg:         cfg,
		conditioner: conditioner,
		orch:        orch,
		manager:     manager,
		store:       st,
		enhancer:    enhancer,
		publisher:   publisher,
		log:         log,
	}
}

type inboundMsg struct {
	msg ClientMessage
	err error
}

// HandleConn owns one connection for its whole lifetime. It registers a
// session, pumps inbound messages into the owning run loop and tears
// everything down exactly once on exit.
func (h *Handler) HandleConn(ctx context.Context, conn Conn, source string) error {
	w := &wsWriter{conn: conn}

	settings := Settings{
		Language:         h.cfg.DefaultLanguage,
		QualityThreshold: h.cfg.QualityThreshold,
		ChunkCadence:     h.cfg.ChunkCadence,
		SampleRate:       h.conditioner.TargetSampleRate(),
		Channels:         1,
	}

	s, err := h.manager.Register(source, settings)
	if err != nil {
		w.writeJSON(errorMessage(err.Error()))
		conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer func() {
		cancel()
		conn.Close()
		h.manager.Remove(s.ID)
	}()

	if err := s.Lifecycle.Activate(); err != nil {
		return err
	}

	log := h.log.With().Str("sessionId", s.ID).Str("source", source).Logger()
	log.Info().Msg("Streaming session started")

	w.writeJSON(ServerMessage{Type: MsgSessionInfo, SessionID: s.ID})

	inbound := make(chan inboundMsg, 16)
	go readPump(ctx, conn, inbound)

	return h.run(ctx, s, w, inbound, log)
}

// readPump reads until the connection breaks, forwarding messages and
// parse failures to the run loop. Closing the channel signals EOF.
func readPump(ctx context.Context, conn Conn, inbound chan<- inboundMsg) {
	defer close(inbound)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in inboundMsg
		if err := json.Unmarshal(data, &in.msg); err != nil {
			in = inboundMsg{err: err}
		}
		select {
		case inbound <- in:
		case <-ctx.Done():
			return
		}
	}
}

// run is the owning task for one session. All session mutation happens
// here; tickers drive cadence processing, forced finalization and
// heartbeats.
func (h *Handler) run(ctx context.Context, s *Session, w *wsWriter, inbound <-chan inboundMsg, log zerolog.Logger) error {
	// The cadence tick runs finer than the chunk cadence so forced
	// finalization and cadence checks stay responsive when the client
	// lowers chunk_duration_seconds mid-session.
	tickEvery := h.cfg.ChunkCadence / 4
	if tickEvery < 50*time.Millisecond {
		tickEvery = 50 * time.Millisecond
	}
	cadence := time.NewTicker(tickEvery)
	defer cadence.Stop()

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Session context cancelled")
			return ctx.Err()

		case in, ok := <-inbound:
			if !ok {
				// Connection lost. Flush what we have so an abrupt
				// disconnect does not lose the last utterance.
				h.processBuffered(ctx, s, w, true, log)
				log.Info().Msg("Connection closed by peer")
				return nil
			}
			if in.err != nil {
				w.writeJSON(errorMessage("malformed message: " + in.err.Error()))
				continue
			}
			done, err := h.handleMessage(ctx, s, w, in.msg, log)
			if err != nil {
				w.writeJSON(errorMessage(err.Error()))
			}
			if done {
				return nil
			}

		case <-cadence.C:
			if !s.Lifecycle.AcceptsAudio() {
				continue
			}
			buffered := s.bufferedDuration(h.conditioner.TargetSampleRate())
			switch {
			case buffered >= s.Settings.ChunkCadence:
				h.processBuffered(ctx, s, w, false, log)
			case buffered >= h.cfg.MinBufferDuration && time.Since(s.lastEmit) > h.cfg.SilenceTimeout:
				// Forced finalization: treat the stale buffer as
				// end of utterance instead of waiting forever.
				log.Debug().Dur("buffered", buffered).Msg("Forcing finalization after silence timeout")
				h.processBuffered(ctx, s, w, true, log)
			}

		case <-heartbeat.C:
			if err := w.writeJSON(heartbeatMessage()); err != nil {
				log.Warn().Err(err).Msg("Heartbeat write failed")
				return err
			}
		}
	}
}

// handleMessage applies one client message. The bool result reports
// whether the session ended.
func (h *Handler) handleMessage(ctx context.Context, s *Session, w *wsWriter, msg ClientMessage, log zerolog.Logger) (bool, error) {
	switch msg.Type {
	case MsgConfig:
		h.applyConfig(s, msg.Config, log)
		return false, nil

	case MsgAudio:
		if !s.Lifecycle.AcceptsAudio() {
			return false, ErrNotActive
		}
		return false, h.handleAudio(s, msg.Data)

	case MsgEndSession:
		if err := s.Lifecycle.End(); err != nil {
			return false, err
		}
		h.processBuffered(ctx, s, w, true, log)
		w.writeJSON(ServerMessage{
			Type:                MsgSessionEnd,
			SessionID:           s.ID,
			TotalTranscriptions: s.Transcriptions(),
			SessionDuration:     time.Since(s.CreatedAt).Seconds(),
		})
		log.Info().Int("transcriptions", s.Transcriptions()).Msg("Session ended by client")
		return true, nil

	default:
		return false, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// applyConfig overlays non-zero client settings onto the session.
func (h *Handler) applyConfig(s *Session, cfg *ClientConfig, log zerolog.Logger) {
	if cfg == nil {
		return
	}
	s.Touch()
	if cfg.Language != "" {
		s.Settings.Language = cfg.Language
	}
	if cfg.QualityThreshold > 0 {
		s.Settings.QualityThreshold = cfg.QualityThreshold
	}
	if cfg.ChunkDurationSeconds > 0 {
		s.Settings.ChunkCadence = time.Duration(cfg.ChunkDurationSeconds * float64(time.Second))
	}
	if cfg.SampleRate > 0 {
		s.Settings.SampleRate = cfg.SampleRate
	}
	if cfg.Channels > 0 {
		s.Settings.Channels = cfg.Channels
	}
	s.Settings.DomainContext = cfg.DomainContext
	log.Debug().
		Str("language", s.Settings.Language).
		Dur("cadence", s.Settings.ChunkCadence).
		Msg("Session config applied")
}

// handleAudio decodes one base64 PCM payload, runs the lightweight
// conditioning path and appends the result to the session buffer.
func (h *Handler) handleAudio(s *Session, data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("invalid audio payload: %w", err)
	}
	s.Touch()
	metrics.DefaultMetrics.AudioBytesReceived.Add(float64(len(raw)))

	cond := h.conditioner.ConditionChunk(raw, s.Settings.SampleRate, s.Settings.Channels)
	metrics.DefaultMetrics.ChunksProcessed.Inc()
	metrics.DefaultMetrics.AudioQualityScore.Observe(cond.Quality.Score)
	if cond.Empty {
		return nil
	}

	if cond.Quality.Score < s.Settings.QualityThreshold {
		h.log.Warn().
			Str("sessionId", s.ID).
			Float64("score", cond.Quality.Score).
			Float64("threshold", s.Settings.QualityThreshold).
			Msg("Chunk quality below session threshold")
	}

	// The buffer holds conditioned samples at the pipeline's target
	// rate. Settings.SampleRate stays the client's input rate so every
	// later chunk is decoded and resampled the same way.
	s.appendAudio(cond.Samples)
	return nil
}

// processBuffered runs one processing cycle over the accumulated buffer
// and emits at most one event. forceFinal marks the buffer as a complete
// utterance regardless of trailing audio.
func (h *Handler) processBuffered(ctx context.Context, s *Session, w *wsWriter, forceFinal bool, log zerolog.Logger) {
	// Buffered audio is already conditioned to the pipeline's rate,
	// whatever rate the client streams at.
	rate := h.conditioner.TargetSampleRate()
	buf := s.takeBuffer()
	if len(buf) == 0 {
		return
	}

	vad := h.conditioner.VADConfigured()
	if !audio.HasSpeech(buf, rate, vad) {
		// Pure silence between utterances. No event, session stays
		// active, and the emit clock resets so forced finalization
		// does not spin on empty buffers.
		s.lastEmit = time.Now()
		return
	}

	// Trailing silence long enough to cover half the cadence marks the
	// utterance as complete even without an explicit end.
	final := forceFinal
	if !final {
		trailing := audio.TrailingSilence(buf, rate, vad)
		trailingDur := time.Duration(trailing) * time.Second / time.Duration(rate)
		final = trailingDur >= s.Settings.ChunkCadence/2
	}

	quality := audio.AnalyzeQuality(buf, rate)
	start := time.Now()
	res := h.orch.Dispatch(ctx, buf, rate, s.Settings.Language)
	if res.Text == "" {
		s.lastEmit = time.Now()
		return
	}

	if !final {
		if res.Text == s.lastPartial {
			return
		}
		s.recordPartial(res.Text)
		metrics.DefaultMetrics.TranscriptionsPartial.Inc()
		w.writeJSON(ServerMessage{
			Type: MsgPartial,
			Data: &TranscriptionData{
				Text:      res.Text,
				Language:  res.Language,
				IsPartial: true,
			},
		})
		return
	}

	h.finalize(ctx, s, w, res, quality.Score, time.Since(start), log)
}

// finalize enhances, emits, persists and publishes one final result.
func (h *Handler) finalize(ctx context.Context, s *Session, w *wsWriter, res *stt.Result, qualityScore float64, elapsed time.Duration, log zerolog.Logger) {
	if s.Settings.DomainContext {
		res.Text = h.enhancer.Enhance(ctx, res.Text, res.Language, res.Confidence)
	}

	s.recordFinal(res)
	metrics.DefaultMetrics.TranscriptionsFinal.Inc()

	w.writeJSON(ServerMessage{
		Type: MsgFinal,
		Data: &TranscriptionData{
			Text:           res.Text,
			Language:       res.Language,
			Confidence:     res.Confidence,
			ProcessingTime: elapsed.Seconds(),
			QualityScore:   qualityScore,
			Backend:        res.Backend,
			Segments:       res.Segments,
		},
	})

	h.persistResult(s, res)

	if h.publisher != nil {
		event := events.FinalTranscript{
			SessionID:   s.ID,
			Source:      s.Source,
			Text:        res.Text,
			Confidence:  res.Confidence,
			Language:    res.Language,
			Backend:     res.Backend,
			DurationSec: elapsed.Seconds(),
			EmittedAt:   time.Now().UTC(),
		}
		if err := h.publisher.PublishFinal(ctx, event); err != nil {
			log.Warn().Err(err).Msg("Final transcript publish failed")
		}
	}
}

// persistResult caches the finalized result under the session's key so
// clients can re-fetch after a reconnect.
func (h *Handler) persistResult(s *Session, res *stt.Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	key := fmt.Sprintf("result:%s:%d", s.ID, s.Transcriptions())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.store.Put(ctx, key, payload, h.cfg.ResultTTL); err != nil {
		h.log.Warn().Err(err).Str("sessionId", s.ID).Msg("Failed to persist result")
	}
}
