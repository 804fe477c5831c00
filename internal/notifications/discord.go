package notifications

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *zap.Logger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *zap.Logger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to the webhook in the background.
// Errors are logged but don't affect caller.
func (d *Discord) send(msg discordMessage) {
	if !d.Enabled() {
		return
	}

	go func() {
		body, err := sonic.Marshal(msg)
		if err != nil {
			d.logger.Error("discord: failed to marshal message", zap.Error(err))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Error("discord: failed to create request", zap.Error(err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Warn("discord: failed to send webhook", zap.Error(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Warn("discord: webhook rejected", zap.Int("status", resp.StatusCode))
		}
	}()
}

// NotifyEmergency posts an emergency escalation.
func (d *Discord) NotifyEmergency(_ context.Context, em Emergency) {
	d.send(discordMessage{
		Content: "@here",
		Embeds: []discordEmbed{{
			Title:       "Emergency triage",
			Description: em.summary(),
			Color:       0xFF0000,
			Fields: []embedField{
				{Name: "Session", Value: fmt.Sprintf("`%s`", em.SessionID), Inline: true},
				{Name: "Language", Value: em.Language, Inline: true},
				{Name: "Level", Value: em.Level, Inline: true},
				{Name: "Patient said", Value: truncate(em.Transcript, 900)},
				{Name: "Assistant replied", Value: truncate(em.Reply, 900)},
			},
			Timestamp: em.At.UTC().Format(time.RFC3339),
		}},
	})
}

// NotifyStartup posts a deploy marker with the active providers.
func (d *Discord) NotifyStartup(version string, providers map[string]string) {
	fields := make([]embedField, 0, len(providers))
	for k, v := range providers {
		fields = append(fields, embedField{Name: k, Value: v, Inline: true})
	}
	d.send(discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Voice service started",
			Description: fmt.Sprintf("Version `%s`", version),
			Color:       0x00FF00,
			Fields:      fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	})
}
