// Package llm holds the language model engines the pipeline can generate
// character replies with.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/improv/internal/domain"
	"github.com/chadiek/improv/internal/remote"
)

// HTTPClient talks to the local engine server's POST /llm endpoint, which
// answers with the reply object itself.
type HTTPClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

type historyTurn struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

type generateRequest struct {
	Prompt       string        `json:"prompt"`
	SystemPrompt string        `json:"system_prompt"`
	History      []historyTurn `json:"history,omitempty"`
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Generate returns the raw JSON reply body.
func (c *HTTPClient) Generate(ctx context.Context, p domain.Prompt) (string, error) {
	if c.BaseURL == "" {
		return "", fmt.Errorf("llm server url missing")
	}
	body := generateRequest{Prompt: p.User, SystemPrompt: p.System}
	for _, ex := range p.History {
		body.History = append(body.History, historyTurn(ex))
	}
	reqBody, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/llm", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := remote.CheckStatus("llm server", resp); err != nil {
		return "", err
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if !json.Valid(raw) {
		return "", fmt.Errorf("llm server: response is not json")
	}
	return strings.TrimSpace(string(raw)), nil
}
