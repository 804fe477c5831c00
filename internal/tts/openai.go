package tts

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient synthesises speech with OpenAI's speech endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  openai.SpeechModel
	voice  openai.SpeechVoice
}

// OpenAIConfig holds configuration for the OpenAI speech client.
type OpenAIConfig struct {
	APIKey  string
	Model   string // e.g., "tts-1"
	Voice   string // e.g., "alloy"
	BaseURL string // overrides the API endpoint, for tests
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := openai.SpeechModel(cfg.Model)
	if model == "" {
		model = openai.TTSModel1
	}
	voice := openai.SpeechVoice(cfg.Voice)
	if voice == "" {
		voice = openai.VoiceAlloy
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), model: model, voice: voice}
}

// Synthesize converts text to MP3 speech. The voice handles the language
// of the input text on its own.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, language string) (Audio, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to synthesize with openai: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio: %w", err)
	}
	return Audio{Data: data, Format: "mp3"}, nil
}
