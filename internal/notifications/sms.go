package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// SMSConfig holds configuration for SMS alerts via Twilio
type SMSConfig struct {
	AccountSID   string
	AuthToken    string
	SenderNumber string // E.164
	BaseURL      string // overrides the API endpoint, for tests
}

// SMSClient sends SMS alerts via Twilio Programmable Messaging
type SMSClient struct {
	accountSID   string
	authToken    string
	senderNumber string
	baseURL      string
	client       *http.Client
	logger       *zap.Logger
}

// NewSMSClient returns nil when Twilio is not configured.
func NewSMSClient(cfg SMSConfig, logger *zap.Logger) *SMSClient {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.SenderNumber == "" {
		logger.Info("sms: missing Twilio configuration, SMS alerts disabled")
		return nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}
	return &SMSClient{
		accountSID:   cfg.AccountSID,
		authToken:    cfg.AuthToken,
		senderNumber: cfg.SenderNumber,
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger,
	}
}

type twilioMessageResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    int    `json:"code,omitempty"`
	ErrorMessage string `json:"message,omitempty"`
}

// SendSMS sends one text message.
func (c *SMSClient) SendSMS(ctx context.Context, to, body string) error {
	if c == nil {
		return nil
	}

	apiURL := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.senderNumber)
	data.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var msgResp twilioMessageResponse
	if err := sonic.Unmarshal(raw, &msgResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("Twilio API error: %d - %s", msgResp.ErrorCode, msgResp.ErrorMessage)
	}

	c.logger.Info("sms: sent", zap.String("sid", msgResp.SID), zap.String("status", msgResp.Status))
	return nil
}
