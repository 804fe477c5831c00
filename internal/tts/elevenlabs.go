package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabsClient synthesises speech with ElevenLabs' multilingual models.
type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	modelID    string
	baseURL    string
	format     string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey       string
	VoiceID      string  // ElevenLabs voice ID
	ModelID      string  // e.g., "eleven_multilingual_v2"
	OutputFormat string  // e.g., "mp3_44100_128"
	Stability    float64 // 0.0-1.0, negative for default
	Similarity   float64 // 0.0-1.0, negative for default
	BaseURL      string  // overrides the API endpoint, for tests
	HTTPClient   *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	format := cfg.OutputFormat
	if format == "" {
		format = "mp3_44100_128"
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		voiceID:    voiceID,
		modelID:    modelID,
		baseURL:    baseURL,
		format:     format,
		stability:  stability,
		similarity: similarity,
		httpClient: httpClient,
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	LanguageCode  string        `json:"language_code,omitempty"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize converts text to speech in the requested language.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, language string) (Audio, error) {
	url := fmt.Sprintf("%s/%s?output_format=%s", c.baseURL, c.voiceID, c.format)

	body, err := sonic.Marshal(ttsRequest{
		Text:         text,
		ModelID:      c.modelID,
		LanguageCode: language,
		VoiceSettings: voiceSettings{
			Stability:       c.stability,
			SimilarityBoost: c.similarity,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return Audio{}, fmt.Errorf("ElevenLabs API error: %s - %s", resp.Status, string(respBody))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("ElevenLabs returned no audio")
	}
	return Audio{Data: data, Format: "mp3"}, nil
}
