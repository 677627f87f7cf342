package stt

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"medical-dictation-service/internal/audio"
)

// OpenAIBackend transcribes audio through the OpenAI transcription API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates the remote OpenAI backend. An empty API key yields an
// unavailable backend rather than an error, so the priority chain can simply
// skip it.
func NewOpenAI(apiKey, model string) *OpenAIBackend {
	b := &OpenAIBackend{model: model}
	if b.model == "" {
		b.model = openai.Whisper1
	}
	if apiKey != "" {
		b.client = openai.NewClient(apiKey)
	}
	return b
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Available() bool { return b.client != nil }

// SupportsLanguage always reports true: the API auto-detects.
func (b *OpenAIBackend) SupportsLanguage(string) bool { return true }

// Transcribe uploads a WAV-encoded payload and maps the verbose JSON response
// into a Result. Segment confidence comes from exp(avg_logprob), discounted
// by the no-speech probability.
func (b *OpenAIBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int, lang string) (*Result, error) {
	if b.client == nil {
		return nil, ErrUnavailable
	}

	start := time.Now()

	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	req := openai.AudioRequest{
		Model:    b.model,
		Reader:   bytes.NewReader(wavData),
		FilePath: "audio.wav",
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if lang != "" && lang != "auto" {
		req.Language = lang
	}

	resp, err := b.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		conf := logprobConfidence(s.AvgLogprob, s.NoSpeechProb)
		segments = append(segments, Segment{
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
			Confidence: conf,
		})
	}

	language := resp.Language
	if language == "" {
		language = lang
	}

	return &Result{
		Text:           resp.Text,
		Language:       language,
		Confidence:     AggregateSegmentConfidence(segments, resp.Text),
		Segments:       segments,
		ProcessingTime: time.Since(start),
		Backend:        b.Name(),
	}, nil
}

// logprobConfidence maps an average token logprob and no-speech probability
// into [0,1].
func logprobConfidence(avgLogprob, noSpeechProb float64) float64 {
	// exp(avgLogprob) is the geometric-mean token probability.
	p := avgLogprob
	if p > 0 {
		p = 0
	}
	conf := math.Exp(p) * (1 - noSpeechProb)
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}
