package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medical-dictation-service/internal/audio"
)

// WhisperConfig configures a local whisper.cpp subprocess backend.
type WhisperConfig struct {
	Name      string
	BinPath   string
	ModelPath string
	Languages []string // empty = any language
	Prompt    string   // optional decoding context, e.g. medical phrasing
}

// WhisperBackend runs a whisper.cpp model as a subprocess per request. The
// binary and model availability is probed once per process lifetime; a
// missing model is a permanent condition, not a transient failure.
type WhisperBackend struct {
	cfg WhisperConfig
	log zerolog.Logger

	probeOnce sync.Once
	available bool
}

// NewWhisper creates a local whisper backend.
func NewWhisper(cfg WhisperConfig, log zerolog.Logger) *WhisperBackend {
	return &WhisperBackend{cfg: cfg, log: log}
}

func (b *WhisperBackend) Name() string { return b.cfg.Name }

// Available checks the binary and model on first call and caches the result.
func (b *WhisperBackend) Available() bool {
	b.probeOnce.Do(func() {
		if _, err := exec.LookPath(b.cfg.BinPath); err != nil {
			b.log.Warn().Str("bin", b.cfg.BinPath).Msg("Whisper binary not found")
			return
		}
		if _, err := os.Stat(b.cfg.ModelPath); err != nil {
			b.log.Warn().Str("model", b.cfg.ModelPath).Msg("Whisper model not found")
			return
		}
		b.available = true
	})
	return b.available
}

func (b *WhisperBackend) SupportsLanguage(lang string) bool {
	if len(b.cfg.Languages) == 0 {
		return true
	}
	return languageMatches(lang, b.cfg.Languages)
}

// whisperOutput is the shape of whisper.cpp's JSON output file.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe writes the samples to a temp WAV file, runs the whisper binary
// and parses its JSON output. Each invocation uses its own temp directory so
// concurrent calls never collide.
func (b *WhisperBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int, lang string) (*Result, error) {
	if !b.Available() {
		return nil, ErrUnavailable
	}

	start := time.Now()

	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	dir, err := os.MkdirTemp("", "whisper-")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	wavPath := filepath.Join(dir, "input.wav")
	if err := os.WriteFile(wavPath, wavData, 0o600); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}

	outPrefix := filepath.Join(dir, "out")
	args := []string{
		"-m", b.cfg.ModelPath,
		"-f", wavPath,
		"-oj",
		"-of", outPrefix,
	}
	if lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	if b.cfg.Prompt != "" {
		args = append(args, "--prompt", b.cfg.Prompt)
	}

	cmd := exec.CommandContext(ctx, b.cfg.BinPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper execution failed: %w: %s", err, truncate(string(out), 300))
	}

	data, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	var parsed whisperOutput
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	var sb strings.Builder
	segments := make([]Segment, 0, len(parsed.Transcription))
	for _, t := range parsed.Transcription {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
		segments = append(segments, Segment{
			Start: float64(t.Offsets.From) / 1000,
			End:   float64(t.Offsets.To) / 1000,
			Text:  text,
		})
	}

	text := sb.String()
	conf := EstimateConfidence(text)
	for i := range segments {
		segments[i].Confidence = conf
	}

	language := parsed.Result.Language
	if language == "" {
		language = lang
	}

	return &Result{
		Text:           text,
		Language:       language,
		Confidence:     conf,
		Segments:       segments,
		ProcessingTime: time.Since(start),
		Backend:        b.cfg.Name,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
