package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medical-dictation-service/internal/app"
	"medical-dictation-service/internal/audio"
	"medical-dictation-service/internal/config"
)

func newTestApp(t *testing.T) *app.Application {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	cfg.Store.RedisAddr = ""
	cfg.Backends.Stub = true
	cfg.Kafka.Enabled = false
	cfg.Audio.MinDuration = 50 * time.Millisecond

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("app new: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("app start: %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

// speechWAV builds a one second upload with audible content.
func speechWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]float32, 16000)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 0.3
		} else {
			samples[i] = -0.3
		}
	}
	data, err := audio.EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	return data
}

func uploadRequest(t *testing.T, target string, wav []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", "dictation.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write(wav)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready after Start")
	}
	if !resp.Degraded {
		t.Error("expected degraded without Redis")
	}
	if resp.Status != "degraded" {
		t.Errorf("expected degraded status, got %s", resp.Status)
	}
	if resp.BackendsAvailable != 1 {
		t.Errorf("expected 1 available backend, got %d", resp.BackendsAvailable)
	}
	if resp.ActiveSessions != 0 {
		t.Errorf("expected 0 active sessions, got %d", resp.ActiveSessions)
	}
}

func TestLivenessAndReadiness(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/liveness", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness: expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/readiness", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("readiness: expected 200, got %d", rec.Code)
	}
}

func TestTranscribeUpload(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)
	wav := speechWAV(t)

	transcribe := func() transcribeResponse {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, uploadRequest(t, "/v1/transcribe", wav, map[string]string{"language": "en"}))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var resp transcribeResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal result: %v", err)
		}
		return resp
	}

	first := transcribe()
	if first.Text == "" {
		t.Fatal("expected non-empty transcription for speech upload")
	}
	if first.Confidence <= 0 {
		t.Errorf("expected positive confidence, got %f", first.Confidence)
	}
	if first.QualityScore <= 0 {
		t.Errorf("expected positive quality score, got %f", first.QualityScore)
	}

	// Same upload, same configuration, same text.
	second := transcribe()
	if second.Text != first.Text {
		t.Errorf("expected deterministic result, got %q then %q", first.Text, second.Text)
	}
	if second.Confidence < first.Confidence {
		t.Errorf("confidence regressed: %f -> %f", first.Confidence, second.Confidence)
	}
}

func TestTranscribeMalformedUpload(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "/v1/transcribe", []byte("definitely not audio"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for malformed audio, got %d", rec.Code)
	}

	var resp transcribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if resp.Text != "" || resp.Confidence != 0 {
		t.Errorf("expected empty result for garbage upload, got %q", resp.Text)
	}
}

func TestTranscribeMissingFile(t *testing.T) {
	a := newTestApp(t)
	router := NewRouter(a)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("language", "en")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/transcribe", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing file, got %d", rec.Code)
	}
}
