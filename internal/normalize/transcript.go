package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTranscriptEmpty means the provider answered but had no captions.
var ErrTranscriptEmpty = errors.New("transcript is empty")

// TranscriptClient talks to a Supadata-compatible transcript API:
// GET {base}/youtube/transcript?videoId=ID with an x-api-key header, answering
// {"content":[{"text":"..."}]}.
type TranscriptClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewTranscriptClient(baseURL, apiKey string, timeout time.Duration) *TranscriptClient {
	if baseURL == "" {
		baseURL = "https://api.supadata.ai/v1"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TranscriptClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type transcriptResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Lang string `json:"lang"`
}

func (c *TranscriptClient) Transcript(ctx context.Context, videoID string) (string, error) {
	endpoint := c.baseURL + "/youtube/transcript?" + url.Values{"videoId": {videoID}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch transcript: HTTP %d", resp.StatusCode)
	}

	var payload transcriptResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	parts := make([]string, 0, len(payload.Content))
	for _, seg := range payload.Content {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", ErrTranscriptEmpty
	}
	return strings.Join(parts, " "), nil
}
