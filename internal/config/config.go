// Package config loads service configuration from the environment with an
// optional YAML file overlay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	Session       SessionConfig       `yaml:"session"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Backends      BackendsConfig      `yaml:"backends"`
	Store         StoreConfig         `yaml:"store"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Enhance       EnhanceConfig       `yaml:"enhance"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// AudioConfig holds conditioning pipeline settings.
type AudioConfig struct {
	TargetSampleRate   int           `yaml:"target_sample_rate"`
	MinDuration        time.Duration `yaml:"min_duration"`
	NoiseGateThreshold float64       `yaml:"noise_gate_threshold"`
	TargetRMS          float64       `yaml:"target_rms"`
	HighPassHz         float64       `yaml:"high_pass_hz"`
	VADThreshold       float64       `yaml:"vad_threshold"`
	VADHangoverFrames  int           `yaml:"vad_hangover_frames"`
}

// SessionConfig holds streaming session manager settings.
type SessionConfig struct {
	ChunkCadence       time.Duration `yaml:"chunk_cadence"`
	SilenceTimeout     time.Duration `yaml:"silence_timeout"`
	MinBufferDuration  time.Duration `yaml:"min_buffer_duration"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`
	ReapInterval       time.Duration `yaml:"reap_interval"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	MaxSessions        int           `yaml:"max_sessions"`
	MaxPerSource       int           `yaml:"max_per_source"`
	QualityThreshold   float64       `yaml:"quality_threshold"`
	DefaultLanguage    string        `yaml:"default_language"`
	ResultTTL          time.Duration `yaml:"result_ttl"`
}

// DispatchConfig holds orchestrator settings.
type DispatchConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffCap     time.Duration `yaml:"backoff_cap"`
	CacheSize      int           `yaml:"cache_size"`
}

// BackendsConfig selects and configures the transcription backends.
type BackendsConfig struct {
	Medical WhisperBackendConfig `yaml:"medical"`
	Whisper WhisperBackendConfig `yaml:"whisper"`
	OpenAI  OpenAIBackendConfig  `yaml:"openai"`
	Google  GoogleBackendConfig  `yaml:"google"`
	Stub    bool                 `yaml:"stub"`
}

// WhisperBackendConfig configures a local whisper.cpp subprocess backend.
type WhisperBackendConfig struct {
	Enabled   bool     `yaml:"enabled"`
	BinPath   string   `yaml:"bin_path"`
	ModelPath string   `yaml:"model_path"`
	Languages []string `yaml:"languages"`
}

// OpenAIBackendConfig configures the OpenAI transcription backend.
type OpenAIBackendConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// GoogleBackendConfig configures the Google Cloud Speech backend.
type GoogleBackendConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StoreConfig holds session/result store settings.
type StoreConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
}

// KafkaConfig holds final-transcript event publishing settings.
type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	TopicFinal string   `yaml:"topic_final"`
	Principal  string   `yaml:"principal"`
}

// EnhanceConfig holds the text-enhancement collaborator settings.
type EnhanceConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and environment variable overrides, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  50 * 1024 * 1024,
		},
		Audio: AudioConfig{
			TargetSampleRate:   16000,
			MinDuration:        200 * time.Millisecond,
			NoiseGateThreshold: 0.005,
			TargetRMS:          0.08,
			HighPassHz:         80,
			VADThreshold:       0.012,
			VADHangoverFrames:  8,
		},
		Session: SessionConfig{
			ChunkCadence:      time.Second,
			SilenceTimeout:    4 * time.Second,
			MinBufferDuration: 500 * time.Millisecond,
			IdleTimeout:       2 * time.Minute,
			ReapInterval:      30 * time.Second,
			HeartbeatInterval: 15 * time.Second,
			MaxSessions:       200,
			MaxPerSource:      5,
			QualityThreshold:  0.3,
			DefaultLanguage:   "en",
			ResultTTL:         time.Hour,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent:  4,
			RequestTimeout: 20 * time.Second,
			MaxRetries:     2,
			BackoffBase:    500 * time.Millisecond,
			BackoffCap:     8 * time.Second,
			CacheSize:      256,
		},
		Backends: BackendsConfig{
			Medical: WhisperBackendConfig{
				Enabled:   true,
				BinPath:   "whisper-cli",
				ModelPath: "models/ggml-medical.bin",
				Languages: []string{"en"},
			},
			Whisper: WhisperBackendConfig{
				Enabled:   true,
				BinPath:   "whisper-cli",
				ModelPath: "models/ggml-base.bin",
			},
			OpenAI: OpenAIBackendConfig{
				Model: "whisper-1",
			},
			Google: GoogleBackendConfig{},
		},
		Store: StoreConfig{
			RedisAddr:   "localhost:6379",
			DialTimeout: 5 * time.Second,
		},
		Kafka: KafkaConfig{
			TopicFinal: "dictation.transcript.final",
			Principal:  "svc-medical-dictation",
		},
		Enhance: EnhanceConfig{
			Timeout: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envOrDefault("HTTP_PORT", cfg.Server.Port)
	cfg.Session.ChunkCadence = envDuration("SESSION_CHUNK_CADENCE", cfg.Session.ChunkCadence)
	cfg.Session.SilenceTimeout = envDuration("SESSION_SILENCE_TIMEOUT", cfg.Session.SilenceTimeout)
	cfg.Session.MinBufferDuration = envDuration("SESSION_MIN_BUFFER_DURATION", cfg.Session.MinBufferDuration)
	cfg.Session.IdleTimeout = envDuration("SESSION_IDLE_TIMEOUT", cfg.Session.IdleTimeout)
	cfg.Session.ReapInterval = envDuration("SESSION_REAP_INTERVAL", cfg.Session.ReapInterval)
	cfg.Session.HeartbeatInterval = envDuration("SESSION_HEARTBEAT_INTERVAL", cfg.Session.HeartbeatInterval)
	cfg.Session.MaxSessions = envInt("SESSION_MAX_SESSIONS", cfg.Session.MaxSessions)
	cfg.Session.MaxPerSource = envInt("SESSION_MAX_PER_SOURCE", cfg.Session.MaxPerSource)
	cfg.Session.DefaultLanguage = envOrDefault("SESSION_DEFAULT_LANGUAGE", cfg.Session.DefaultLanguage)

	cfg.Audio.TargetSampleRate = envInt("AUDIO_TARGET_SAMPLE_RATE", cfg.Audio.TargetSampleRate)
	cfg.Audio.MinDuration = envDuration("AUDIO_MIN_DURATION", cfg.Audio.MinDuration)

	cfg.Dispatch.MaxConcurrent = envInt("DISPATCH_MAX_CONCURRENT", cfg.Dispatch.MaxConcurrent)
	cfg.Dispatch.RequestTimeout = envDuration("DISPATCH_REQUEST_TIMEOUT", cfg.Dispatch.RequestTimeout)
	cfg.Dispatch.MaxRetries = envInt("DISPATCH_MAX_RETRIES", cfg.Dispatch.MaxRetries)

	cfg.Backends.Medical.Enabled = envBool("BACKEND_MEDICAL_ENABLED", cfg.Backends.Medical.Enabled)
	cfg.Backends.Medical.BinPath = envOrDefault("BACKEND_MEDICAL_BIN", cfg.Backends.Medical.BinPath)
	cfg.Backends.Medical.ModelPath = envOrDefault("BACKEND_MEDICAL_MODEL", cfg.Backends.Medical.ModelPath)
	cfg.Backends.Whisper.Enabled = envBool("BACKEND_WHISPER_ENABLED", cfg.Backends.Whisper.Enabled)
	cfg.Backends.Whisper.BinPath = envOrDefault("BACKEND_WHISPER_BIN", cfg.Backends.Whisper.BinPath)
	cfg.Backends.Whisper.ModelPath = envOrDefault("BACKEND_WHISPER_MODEL", cfg.Backends.Whisper.ModelPath)
	cfg.Backends.OpenAI.APIKey = envOrDefault("OPENAI_API_KEY", cfg.Backends.OpenAI.APIKey)
	cfg.Backends.OpenAI.Enabled = cfg.Backends.OpenAI.APIKey != "" || envBool("BACKEND_OPENAI_ENABLED", cfg.Backends.OpenAI.Enabled)
	cfg.Backends.Google.Enabled = envBool("BACKEND_GOOGLE_ENABLED", cfg.Backends.Google.Enabled)
	cfg.Backends.Stub = envBool("BACKEND_STUB_ENABLED", cfg.Backends.Stub)

	cfg.Store.RedisAddr = envOrDefault("REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisPassword = envOrDefault("REDIS_PASSWORD", cfg.Store.RedisPassword)
	cfg.Store.RedisDB = envInt("REDIS_DB", cfg.Store.RedisDB)

	cfg.Kafka.Enabled = envBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", cfg.Kafka.TopicFinal)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)

	cfg.Enhance.Endpoint = envOrDefault("ENHANCE_ENDPOINT", cfg.Enhance.Endpoint)
	cfg.Enhance.Enabled = cfg.Enhance.Endpoint != ""

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

// Validate checks numeric bounds and the interaction between cadence, silence
// timeout and minimum buffered duration. A minimum buffered duration larger
// than the silence timeout would starve forced finalization: the buffer could
// never qualify before the timeout fires and resets nothing.
func (c *Config) Validate() error {
	if c.Audio.TargetSampleRate <= 0 {
		return fmt.Errorf("audio target sample rate must be positive, got %d", c.Audio.TargetSampleRate)
	}
	if c.Session.ChunkCadence <= 0 {
		return fmt.Errorf("chunk cadence must be positive, got %v", c.Session.ChunkCadence)
	}
	if c.Session.SilenceTimeout < c.Session.ChunkCadence {
		return fmt.Errorf("silence timeout %v must be >= chunk cadence %v",
			c.Session.SilenceTimeout, c.Session.ChunkCadence)
	}
	if c.Session.MinBufferDuration > c.Session.SilenceTimeout {
		return fmt.Errorf("min buffer duration %v must not exceed silence timeout %v",
			c.Session.MinBufferDuration, c.Session.SilenceTimeout)
	}
	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %v", c.Session.IdleTimeout)
	}
	if c.Session.MaxSessions <= 0 || c.Session.MaxPerSource <= 0 {
		return fmt.Errorf("session caps must be positive, got max=%d per_source=%d",
			c.Session.MaxSessions, c.Session.MaxPerSource)
	}
	if c.Dispatch.MaxConcurrent <= 0 {
		return fmt.Errorf("dispatch max concurrent must be positive, got %d", c.Dispatch.MaxConcurrent)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch max retries must not be negative, got %d", c.Dispatch.MaxRetries)
	}
	if c.Session.QualityThreshold < 0 || c.Session.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold must be in [0,1], got %f", c.Session.QualityThreshold)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
