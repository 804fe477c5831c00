package stt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen"

// DeepgramClient transcribes complete utterances with Deepgram's
// pre-recorded audio endpoint.
type DeepgramClient struct {
	apiKey     string
	model      string
	baseURL    string
	punctuate  bool
	httpClient *http.Client
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey     string
	Model      string // e.g., "nova-2"
	BaseURL    string // overrides the API endpoint, for tests
	Punctuate  bool
	HTTPClient *http.Client
}

// NewDeepgramClient creates a new Deepgram client.
func NewDeepgramClient(cfg DeepgramConfig) *DeepgramClient {
	model := cfg.Model
	if model == "" {
		model = "nova-2"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = deepgramListenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &DeepgramClient{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		punctuate:  cfg.Punctuate,
		httpClient: httpClient,
	}
}

// deepgramResponse is the subset of the pre-recorded response we read.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe sends a WAV utterance and returns the best alternative.
func (c *DeepgramClient) Transcribe(ctx context.Context, wav []byte, locale string) (Transcript, error) {
	q := url.Values{}
	q.Set("model", c.model)
	q.Set("punctuate", strconv.FormatBool(c.punctuate))
	q.Set("smart_format", "true")
	if locale != "" {
		q.Set("language", locale)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"?"+q.Encode(), bytes.NewReader(wav))
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "audio/wav")
	httpReq.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("Deepgram API error: %s - %s", resp.Status, string(body))
	}

	var dr deepgramResponse
	if err := sonic.Unmarshal(body, &dr); err != nil {
		return Transcript{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return Transcript{}, nil
	}
	ch := dr.Results.Channels[0]
	return Transcript{
		Text:       ch.Alternatives[0].Transcript,
		Confidence: ch.Alternatives[0].Confidence,
		Language:   ch.DetectedLanguage,
	}, nil
}
