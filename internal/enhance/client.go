// Package enhance calls an optional downstream text-enhancement service
// that normalizes medical terminology in finished transcripts. The
// collaborator is best effort: any failure leaves the raw transcript
// untouched.
package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Client struct {
	endpoint string
	http     *http.Client
	log      zerolog.Logger
}

type request struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Context  float64 `json:"confidence"`
}

type response struct {
	Text            string   `json:"text"`
	RecognizedTerms []string `json:"recognized_terms,omitempty"`
}

func New(endpoint string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "enhance").Logger(),
	}
}

// Enhance sends the transcript for terminology normalization and returns
// the improved text. On any error the original text is returned so a
// flaky enhancer can never lose a dictation.
func (c *Client) Enhance(ctx context.Context, text, language string, confidence float64) string {
	if c == nil || c.endpoint == "" || text == "" {
		return text
	}

	body, err := json.Marshal(request{Text: text, Language: language, Context: confidence})
	if err != nil {
		return text
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return text
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("Enhancement request failed, keeping raw transcript")
		return text
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Err(fmt.Errorf("status %d", resp.StatusCode)).Msg("Enhancement request rejected, keeping raw transcript")
		return text
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Text == "" {
		return text
	}
	if len(out.RecognizedTerms) > 0 {
		c.log.Debug().Strs("terms", out.RecognizedTerms).Msg("Terminology recognized")
	}
	return out.Text
}
