// Package stt holds the speech-to-text engines used to transcribe recorded
// utterances.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/remote"
)

// HTTPClient uploads an artifact to the local engine server's POST /stt.
type HTTPClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *HTTPClient) Transcribe(ctx context.Context, audioPath string) (domain.Transcription, error) {
	if c.BaseURL == "" {
		return domain.Transcription{}, fmt.Errorf("stt server url missing")
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return domain.Transcription{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return domain.Transcription{}, fmt.Errorf("read audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.Transcription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/stt", &body)
	if err != nil {
		return domain.Transcription{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return domain.Transcription{}, err
	}
	defer resp.Body.Close()
	if err := remote.CheckStatus("stt server", resp); err != nil {
		return domain.Transcription{}, err
	}

	var out domain.Transcription
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Transcription{}, fmt.Errorf("decode stt response: %w", err)
	}
	out.Text = strings.TrimSpace(out.Text)
	return out, nil
}
