package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medical-dictation-service/internal/app"
	"medical-dictation-service/internal/stt"
)

type handlers struct {
	app      *app.Application
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func newHandlers(a *app.Application) *handlers {
	return &handlers{
		app: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
			// Clinician clients connect from desktop apps and browsers
			// across hospital networks; origin policy is enforced
			// upstream at the gateway.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: a.Logger.With().Str("component", "http").Logger(),
	}
}

// healthResponse is the health endpoint payload.
type healthResponse struct {
	Status            string  `json:"status"`
	Ready             bool    `json:"ready"`
	Degraded          bool    `json:"degraded"`
	BackendsTotal     int     `json:"backends_total"`
	BackendsAvailable int     `json:"backends_available"`
	ActiveSessions    int     `json:"active_sessions"`
	ErrorRate         float64 `json:"error_rate"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Ready:             h.app.Ready(),
		Degraded:          h.app.Degraded(),
		BackendsTotal:     h.app.Orchestrator.BackendCount(),
		BackendsAvailable: h.app.Orchestrator.AvailableBackends(),
		ActiveSessions:    h.app.Manager.ActiveCount(),
		ErrorRate:         h.app.Orchestrator.ErrorRate(),
		UptimeSeconds:     time.Since(h.app.StartupTime).Seconds(),
	}

	status := http.StatusOK
	switch {
	case !resp.Ready:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case resp.Degraded || resp.BackendsAvailable == 0:
		resp.Status = "degraded"
	default:
		resp.Status = "ok"
	}

	writeJSON(w, status, resp)
}

func (h *handlers) readiness(w http.ResponseWriter, _ *http.Request) {
	if !h.app.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// transcribeResponse wraps one upload's result with its quality score.
type transcribeResponse struct {
	*stt.Result
	QualityScore float64 `json:"quality_score"`
}

// transcribe handles the non-streaming file upload path: full
// conditioning, one dispatch, one result.
func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	if !h.app.Ready() {
		http.Error(w, "service not ready", http.StatusServiceUnavailable)
		return
	}

	maxBytes := h.app.Cfg.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		http.Error(w, "invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "missing audio file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = h.app.Cfg.Session.DefaultLanguage
	}
	domainContext, _ := strconv.ParseBool(r.FormValue("domain_context"))

	cond := h.app.Conditioner.ConditionFile(data)
	if cond.Empty {
		// Malformed or silent upload degrades to an empty result.
		writeJSON(w, http.StatusOK, transcribeResponse{
			Result:       stt.Empty("none"),
			QualityScore: cond.Quality.Score,
		})
		return
	}

	res := h.app.Orchestrator.Dispatch(r.Context(), cond.Samples, cond.SampleRate, language)
	if domainContext && res.Text != "" {
		res.Text = h.app.Enhancer.Enhance(r.Context(), res.Text, res.Language, res.Confidence)
	}

	h.log.Info().
		Str("backend", res.Backend).
		Int("bytes", len(data)).
		Float64("quality", cond.Quality.Score).
		Float64("confidence", res.Confidence).
		Msg("Upload transcribed")

	writeJSON(w, http.StatusOK, transcribeResponse{
		Result:       res,
		QualityScore: cond.Quality.Score,
	})
}

// stream upgrades to websocket and hands the connection to the session
// handler for its whole lifetime.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	if !h.app.Ready() {
		http.Error(w, "service not ready", http.StatusServiceUnavailable)
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = r.RemoteAddr
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	if err := h.app.Handler.HandleConn(r.Context(), conn, source); err != nil {
		h.log.Debug().Err(err).Str("source", source).Msg("Streaming session closed with error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
