package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperClient transcribes utterances with OpenAI's transcription API.
type WhisperClient struct {
	client *openai.Client
	model  string
}

// WhisperConfig holds configuration for the Whisper client.
type WhisperConfig struct {
	APIKey  string
	Model   string // e.g., "whisper-1"
	BaseURL string // overrides the API endpoint, for tests
}

func NewWhisperClient(cfg WhisperConfig) *WhisperClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperClient{client: openai.NewClientWithConfig(oc), model: model}
}

// Transcribe uploads the WAV utterance. Whisper takes an ISO-639-1 code, so
// the region part of locale is dropped.
func (c *WhisperClient) Transcribe(ctx context.Context, wav []byte, locale string) (Transcript, error) {
	lang, _, _ := strings.Cut(locale, "-")
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: lang,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to transcribe with whisper: %w", err)
	}
	return Transcript{Text: resp.Text, Language: resp.Language}, nil
}
