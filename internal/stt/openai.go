package stt

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chadiek/improv/internal/domain"
)

// OpenAIClient transcribes through an OpenAI compatible audio API and keeps
// the timed segments of the verbose response.
type OpenAIClient struct {
	client   *openai.Client
	model    string
	language string
}

func NewOpenAIClient(apiKey, baseURL, model, language string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model, language: language}
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string) (domain.Transcription, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: audioPath,
		Language: c.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return domain.Transcription{}, fmt.Errorf("openai transcription: %w", err)
	}

	out := domain.Transcription{Text: strings.TrimSpace(resp.Text)}
	for _, s := range resp.Segments {
		out.Segments = append(out.Segments, domain.Segment{
			Text:      strings.TrimSpace(s.Text),
			Start:     s.Start,
			End:       s.End,
			Completed: true,
		})
	}
	return out, nil
}
