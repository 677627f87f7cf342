package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CONFIG_FILE", "HTTP_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"SESSION_CHUNK_CADENCE", "SESSION_SILENCE_TIMEOUT", "SESSION_MIN_BUFFER_DURATION",
		"SESSION_IDLE_TIMEOUT", "SESSION_MAX_SESSIONS", "SESSION_MAX_PER_SOURCE",
		"DISPATCH_MAX_CONCURRENT", "DISPATCH_REQUEST_TIMEOUT", "DISPATCH_MAX_RETRIES",
		"BACKEND_MEDICAL_ENABLED", "BACKEND_WHISPER_ENABLED", "BACKEND_STUB_ENABLED",
		"OPENAI_API_KEY", "BACKEND_GOOGLE_ENABLED",
		"REDIS_ADDR", "KAFKA_ENABLED", "KAFKA_BROKERS", "ENHANCE_ENDPOINT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port '8080', got %s", cfg.Server.Port)
	}
	if cfg.Audio.TargetSampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Audio.TargetSampleRate)
	}
	if cfg.Session.ChunkCadence != time.Second {
		t.Errorf("expected default cadence 1s, got %v", cfg.Session.ChunkCadence)
	}
	if cfg.Session.SilenceTimeout != 4*time.Second {
		t.Errorf("expected default silence timeout 4s, got %v", cfg.Session.SilenceTimeout)
	}
	if cfg.Dispatch.MaxConcurrent != 4 {
		t.Errorf("expected default max concurrent 4, got %d", cfg.Dispatch.MaxConcurrent)
	}
	if !cfg.Backends.Medical.Enabled {
		t.Error("expected medical backend enabled by default")
	}
	if cfg.Backends.OpenAI.Enabled {
		t.Error("expected openai backend disabled without API key")
	}
	if cfg.Kafka.Enabled {
		t.Error("expected kafka disabled by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("HTTP_PORT", "9090")
	os.Setenv("SESSION_CHUNK_CADENCE", "2s")
	os.Setenv("SESSION_SILENCE_TIMEOUT", "10s")
	os.Setenv("DISPATCH_MAX_CONCURRENT", "8")
	os.Setenv("BACKEND_MEDICAL_ENABLED", "false")
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port '9090', got %s", cfg.Server.Port)
	}
	if cfg.Session.ChunkCadence != 2*time.Second {
		t.Errorf("expected cadence 2s, got %v", cfg.Session.ChunkCadence)
	}
	if cfg.Dispatch.MaxConcurrent != 8 {
		t.Errorf("expected max concurrent 8, got %d", cfg.Dispatch.MaxConcurrent)
	}
	if cfg.Backends.Medical.Enabled {
		t.Error("expected medical backend disabled via env")
	}
}

func TestValidate_CadenceInteraction(t *testing.T) {
	clearEnv(t)

	cfg := defaults()
	cfg.Session.SilenceTimeout = 500 * time.Millisecond
	cfg.Session.ChunkCadence = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when silence timeout < chunk cadence")
	}

	cfg = defaults()
	cfg.Session.MinBufferDuration = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when min buffer duration exceeds silence timeout")
	}

	cfg = defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidate_Bounds(t *testing.T) {
	cfg := defaults()
	cfg.Dispatch.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max concurrent")
	}

	cfg = defaults()
	cfg.Session.QualityThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for quality threshold > 1")
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	clearEnv(t)

	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("temp file: %v", err)
	}
	content := "server:\n  port: \"7070\"\nsession:\n  max_sessions: 50\n"
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	os.Setenv("CONFIG_FILE", f.Name())
	defer clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from file '7070', got %s", cfg.Server.Port)
	}
	if cfg.Session.MaxSessions != 50 {
		t.Errorf("expected max sessions 50, got %d", cfg.Session.MaxSessions)
	}
	// Values not in the file keep their defaults.
	if cfg.Session.ChunkCadence != time.Second {
		t.Errorf("expected default cadence, got %v", cfg.Session.ChunkCadence)
	}
}
