package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"

	"medical-dictation-service/internal/audio"
)

// GoogleBackend transcribes audio through Google Cloud Speech-to-Text.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
type GoogleBackend struct {
	client *speech.Client
}

// NewGoogle creates the Google Cloud Speech backend. A client construction
// failure (missing credentials) yields an unavailable backend.
func NewGoogle(ctx context.Context) *GoogleBackend {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return &GoogleBackend{}
	}
	return &GoogleBackend{client: c}
}

func (b *GoogleBackend) Name() string { return "google" }

func (b *GoogleBackend) Available() bool { return b.client != nil }

func (b *GoogleBackend) SupportsLanguage(string) bool { return true }

// Transcribe sends a synchronous recognition request for the conditioned
// buffer. Google reports per-alternative confidence natively.
func (b *GoogleBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int, lang string) (*Result, error) {
	if b.client == nil {
		return nil, ErrUnavailable
	}

	start := time.Now()

	languageCode := lang
	if languageCode == "" || languageCode == "auto" {
		languageCode = "en-US"
	} else if !strings.Contains(languageCode, "-") {
		languageCode = languageCode + "-" + strings.ToUpper(languageCode)
		if lang == "en" {
			languageCode = "en-US"
		}
	}

	resp, err := b.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:        speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz: int32(sampleRate),
			LanguageCode:    languageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: audio.EncodePCM16(samples),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("google recognize: %w", err)
	}

	type alt struct {
		text string
		conf float64
	}
	var alts []alt
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		a := r.Alternatives[0]
		text := strings.TrimSpace(a.Transcript)
		if text == "" {
			continue
		}
		alts = append(alts, alt{text: text, conf: float64(a.Confidence)})
	}

	// The batch API reports per-result confidence but no timing; spread
	// segment bounds evenly across the buffer duration.
	var sb strings.Builder
	var segments []Segment
	dur := float64(len(samples)) / float64(sampleRate)
	for i, a := range alts {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(a.text)
		per := dur / float64(len(alts))
		segments = append(segments, Segment{
			Start:      float64(i) * per,
			End:        float64(i+1) * per,
			Text:       a.text,
			Confidence: a.conf,
		})
	}

	text := sb.String()
	return &Result{
		Text:           text,
		Language:       languageCode,
		Confidence:     AggregateSegmentConfidence(segments, text),
		Segments:       segments,
		ProcessingTime: time.Since(start),
		Backend:        b.Name(),
	}, nil
}

// Close releases the underlying client connection.
func (b *GoogleBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
