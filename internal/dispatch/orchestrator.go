// Package dispatch selects a transcription backend per request, bounds
// global concurrency, retries transient remote failures and degrades
// gracefully across the backend priority chain.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medical-dictation-service/internal/observability/metrics"
	"medical-dictation-service/internal/stt"
)

// Entry pairs a backend with its retry policy. Remote backends get bounded
// retry with backoff for transient failures; local-model failures indicate a
// load or resource fault and fall through immediately.
type Entry struct {
	Backend stt.Backend
	Remote  bool
}

// Config holds orchestrator settings.
type Config struct {
	MaxConcurrent  int
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

// Orchestrator runs the per-request dispatch state machine:
// PENDING -> ATTEMPT(backend) -> {SUCCESS | RETRY | NEXT_BACKEND} -> ... ->
// SUCCESS | EXHAUSTED. It never returns an error to callers: exhaustion
// yields a well-formed empty result.
type Orchestrator struct {
	entries []Entry
	sem     chan struct{}
	cfg     Config
	cache   *ResultCache
	window  *outcomeWindow
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// New creates an orchestrator over the given priority-ordered backends.
func New(cfg Config, entries []Entry, cache *ResultCache, log zerolog.Logger) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 8 * time.Second
	}
	if cache == nil {
		cache = NewResultCache(64)
	}
	return &Orchestrator{
		entries: entries,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		cfg:     cfg,
		cache:   cache,
		window:  newOutcomeWindow(100),
		log:     log,
		metrics: metrics.DefaultMetrics,
	}
}

// Dispatch transcribes the conditioned buffer via the first backend in
// priority order that is available and supports the language hint. The
// call blocks while the global concurrency bound is saturated; callers
// beyond the bound queue rather than spawn additional backend work.
func (o *Orchestrator) Dispatch(ctx context.Context, samples []float32, sampleRate int, lang string) *stt.Result {
	key := Fingerprint(samples, sampleRate, lang)
	if res, ok := o.cache.Get(key); ok {
		o.metrics.CacheHits.Inc()
		return res
	}

	waitStart := time.Now()
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-ctx.Done():
		o.log.Warn().Msg("Dispatch cancelled while waiting for permit")
		return stt.Empty("none")
	}
	o.metrics.DispatchQueueWait.Observe(time.Since(waitStart).Seconds())
	o.metrics.DispatchInFlight.Inc()
	defer o.metrics.DispatchInFlight.Dec()

	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	for i, entry := range o.entries {
		b := entry.Backend
		if !b.Available() || !b.SupportsLanguage(lang) {
			continue
		}
		if reqCtx.Err() != nil {
			break
		}

		res, err := o.attempt(reqCtx, entry, samples, sampleRate, lang)
		if err == nil {
			o.window.record(true)
			if res.Text != "" {
				o.cache.Put(key, res)
			}
			return res
		}

		o.log.Warn().
			Err(err).
			Str("backend", b.Name()).
			Msg("Backend failed, falling through")
		if i < len(o.entries)-1 {
			o.metrics.BackendFallbacks.WithLabelValues(b.Name()).Inc()
		}
	}

	o.window.record(false)
	o.metrics.DispatchExhausted.Inc()
	o.log.Error().Str("language", lang).Msg("All transcription backends exhausted")
	return stt.Empty("none")
}

// attempt runs one backend, with bounded retry and exponential backoff for
// remote entries.
func (o *Orchestrator) attempt(ctx context.Context, entry Entry, samples []float32, sampleRate int, lang string) (*stt.Result, error) {
	b := entry.Backend

	attempts := 1
	if entry.Remote {
		attempts = o.cfg.MaxRetries + 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := o.cfg.BackoffBase << (i - 1)
			if backoff > o.cfg.BackoffCap {
				backoff = o.cfg.BackoffCap
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		res, err := b.Transcribe(ctx, samples, sampleRate, lang)
		o.metrics.RecordTranscription(b.Name(), time.Since(start), err)
		if err == nil {
			return res, nil
		}
		lastErr = err

		// Unavailability and context errors are not transient.
		if errors.Is(err, stt.ErrUnavailable) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// AvailableBackends returns how many backends currently report available.
func (o *Orchestrator) AvailableBackends() int {
	n := 0
	for _, e := range o.entries {
		if e.Backend.Available() {
			n++
		}
	}
	return n
}

// BackendCount returns the configured backend count.
func (o *Orchestrator) BackendCount() int {
	return len(o.entries)
}

// ErrorRate returns the fraction of recent dispatches that exhausted all
// backends, for the health endpoint.
func (o *Orchestrator) ErrorRate() float64 {
	return o.window.errorRate()
}

// outcomeWindow is a fixed-size ring of recent dispatch outcomes.
type outcomeWindow struct {
	mu       sync.Mutex
	outcomes []bool
	pos      int
	filled   int
}

func newOutcomeWindow(size int) *outcomeWindow {
	return &outcomeWindow{outcomes: make([]bool, size)}
}

func (w *outcomeWindow) record(ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[w.pos] = ok
	w.pos = (w.pos + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

func (w *outcomeWindow) errorRate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < w.filled; i++ {
		if !w.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(w.filled)
}
