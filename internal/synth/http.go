package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type httpSynth struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

type httpRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// NewHTTPSynth creates a Synthesizer backed by a speech synthesis HTTP
// service: one POST per sentence, the response body is the audio payload.
func NewHTTPSynth(endpoint string, timeout time.Duration) Synthesizer {
	return &httpSynth{
		endpoint: endpoint,
		client:   http.DefaultClient,
		timeout:  timeout,
	}
}

func (s *httpSynth) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	payload, err := json.Marshal(httpRequest{Text: req.Text, Voice: req.Voice, Format: req.Format})
	if err != nil {
		return nil, fmt.Errorf("encode synthesis request: %w", err)
	}

	reqCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Status: resp.StatusCode}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Err: err}
	}
	if len(audio) == 0 {
		return nil, &Error{Err: fmt.Errorf("empty audio payload")}
	}
	return audio, nil
}
