package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/improv/internal/remote"
)

// HTTPClient asks the local engine server's POST /tts for a WAV rendering.
type HTTPClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

type speakRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPClient) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if c.BaseURL == "" {
		return fmt.Errorf("tts server url missing")
	}
	reqBody, err := json.Marshal(speakRequest{Text: text, Voice: voice})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/tts", bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := remote.CheckStatus("tts server", resp); err != nil {
		return err
	}
	return saveArtifact(outPath, resp.Body)
}
