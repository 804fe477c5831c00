package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient generates replies with Google's Gemini models.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey string
	Model  string // e.g., "gemini-1.5-flash"
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete returns the next assistant message.
func (c *GeminiClient) Complete(ctx context.Context, system string, messages []Message) (string, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}
