// Package app wires configuration, storage, backends and the session
// pipeline into one runnable application.
package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"medical-dictation-service/internal/audio"
	"medical-dictation-service/internal/config"
	"medical-dictation-service/internal/dispatch"
	"medical-dictation-service/internal/enhance"
	"medical-dictation-service/internal/events"
	"medical-dictation-service/internal/observability/logging"
	"medical-dictation-service/internal/session"
	"medical-dictation-service/internal/store"
	"medical-dictation-service/internal/stt"
	"medical-dictation-service/internal/stt/mock"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Store        store.Store
	Conditioner  *audio.Conditioner
	Orchestrator *dispatch.Orchestrator
	Manager      *session.Manager
	Handler      *session.Handler
	Publisher    *events.Publisher
	Enhancer     *enhance.Client

	google *stt.GoogleBackend

	ready    atomic.Bool
	degraded atomic.Bool
}

// New constructs the application. Backend probing and store selection
// happen here; the process refuses readiness when no backend loads.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Observability.LogLevel
	logCfg.Format = cfg.Observability.LogFormat
	logging.Init(logCfg)
	log := logging.Logger()

	a := &Application{
		Cfg:    cfg,
		Logger: log,
	}

	a.Store = a.selectStore(ctx)
	a.Conditioner = audio.NewConditioner(audio.Config{
		TargetSampleRate:   cfg.Audio.TargetSampleRate,
		MinDuration:        cfg.Audio.MinDuration,
		NoiseGateThreshold: cfg.Audio.NoiseGateThreshold,
		TargetRMS:          cfg.Audio.TargetRMS,
		HighPassHz:         cfg.Audio.HighPassHz,
		VAD: audio.VADConfig{
			Threshold:      cfg.Audio.VADThreshold,
			HangoverFrames: cfg.Audio.VADHangoverFrames,
		},
	}, log)

	entries := a.buildBackends(ctx)
	a.Orchestrator = dispatch.New(dispatch.Config{
		MaxConcurrent:  cfg.Dispatch.MaxConcurrent,
		RequestTimeout: cfg.Dispatch.RequestTimeout,
		MaxRetries:     cfg.Dispatch.MaxRetries,
		BackoffBase:    cfg.Dispatch.BackoffBase,
		BackoffCap:     cfg.Dispatch.BackoffCap,
	}, entries, dispatch.NewResultCache(cfg.Dispatch.CacheSize), log)

	a.Enhancer = enhance.New(cfg.Enhance.Endpoint, cfg.Enhance.Timeout, log)
	a.Publisher = events.New(&events.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.TopicFinal,
		Principal: cfg.Kafka.Principal,
		Enabled:   cfg.Kafka.Enabled,
	})

	a.Manager = session.NewManager(cfg.Session, a.Store, log)
	a.Handler = session.NewHandler(cfg.Session, a.Conditioner, a.Orchestrator,
		a.Manager, a.Store, a.Enhancer, a.Publisher, log)

	log.Info().Msg("Medical dictation service application created")
	return a, nil
}

// selectStore connects Redis when configured and reachable, otherwise
// falls back to the in-memory store and marks the process degraded.
func (a *Application) selectStore(ctx context.Context) store.Store {
	cfg := a.Cfg.Store
	if cfg.RedisAddr == "" {
		a.Logger.Info().Msg("No Redis configured, using in-memory store")
		a.degraded.Store(true)
		return store.NewMemory()
	}

	rs := store.NewRedis(store.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, a.Logger)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.RedisAddr).
			Msg("Redis unreachable, falling back to in-memory store")
		rs.Close()
		a.degraded.Store(true)
		return store.NewMemory()
	}

	a.Logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis store connected")
	return rs
}

// buildBackends assembles the priority-ordered backend list: the
// domain-tuned local model first, then the general local model, then
// the remote APIs.
func (a *Application) buildBackends(ctx context.Context) []dispatch.Entry {
	cfg := a.Cfg.Backends
	var entries []dispatch.Entry

	if cfg.Stub {
		a.Logger.Warn().Msg("Stub backend enabled, transcripts are scripted")
		return []dispatch.Entry{{Backend: mock.New("stub")}}
	}

	if cfg.Medical.Enabled {
		entries = append(entries, dispatch.Entry{Backend: stt.NewWhisper(stt.WhisperConfig{
			Name:      "medical",
			BinPath:   cfg.Medical.BinPath,
			ModelPath: cfg.Medical.ModelPath,
			Languages: cfg.Medical.Languages,
			Prompt:    "Clinical dictation with medical terminology, drug names and dosages.",
		}, a.Logger)})
	}
	if cfg.Whisper.Enabled {
		entries = append(entries, dispatch.Entry{Backend: stt.NewWhisper(stt.WhisperConfig{
			Name:      "whisper",
			BinPath:   cfg.Whisper.BinPath,
			ModelPath: cfg.Whisper.ModelPath,
			Languages: cfg.Whisper.Languages,
		}, a.Logger)})
	}
	if cfg.OpenAI.Enabled {
		entries = append(entries, dispatch.Entry{
			Backend: stt.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.Model),
			Remote:  true,
		})
	}
	if cfg.Google.Enabled {
		a.google = stt.NewGoogle(ctx)
		if !a.google.Available() {
			a.Logger.Warn().Msg("Google Speech client unavailable")
		}
		entries = append(entries, dispatch.Entry{Backend: a.google, Remote: true})
	}

	return entries
}

// Start marks the service ready to take traffic. With zero loadable
// backends the process stays unready and reports it on the health
// endpoint instead of crash looping.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()

	available := a.Orchestrator.AvailableBackends()
	if a.Orchestrator.BackendCount() == 0 {
		a.Logger.Error().Msg("No transcription backend configured, refusing readiness")
		return nil
	}
	if available == 0 {
		a.Logger.Warn().Msg("No transcription backend currently available")
	}

	go a.Manager.Run(ctx)

	a.ready.Store(true)
	a.Logger.Info().
		Int("backends", a.Orchestrator.BackendCount()).
		Int("available", available).
		Bool("degraded", a.degraded.Load()).
		Msg("Medical dictation service started")
	return nil
}

// Ready reports whether the service passed startup checks.
func (a *Application) Ready() bool { return a.ready.Load() }

// Degraded reports whether the service runs without its durable store.
func (a *Application) Degraded() bool { return a.degraded.Load() }

// Shutdown releases external resources best effort.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.google != nil {
		a.google.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	a.Logger.Info().Msg("Medical dictation service shut down")
}
