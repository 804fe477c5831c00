package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"
)

// APNsConfig identifies the care team app and its .p8 signing key.
type APNsConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

// APNsClient pushes emergency alerts to care team iOS devices.
type APNsClient struct {
	client   *apns2.Client
	bundleID string
	ttl      time.Duration
	logger   *zap.Logger
}

// NewAPNsClient returns nil without error when push is not configured.
func NewAPNsClient(cfg APNsConfig, logger *zap.Logger) (*APNsClient, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		logger.Info("apns: not configured, care team push disabled")
		return nil, nil
	}

	key, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading APNs key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("apns: ready", zap.Bool("production", cfg.Production), zap.String("topic", cfg.BundleID))
	return &APNsClient{
		client:   client,
		bundleID: cfg.BundleID,
		ttl:      time.Hour,
		logger:   logger,
	}, nil
}

// notification groups alerts of one session on the device and lets a newer
// alert replace an older undelivered one.
func (c *APNsClient) notification(deviceToken string, em Emergency) *apns2.Notification {
	p := payload.NewPayload().
		AlertTitle("Patient emergency: " + em.Level).
		AlertBody(em.summary()).
		Sound("default").
		ThreadID(em.SessionID).
		Custom("session_id", em.SessionID).
		Custom("level", em.Level)
	if em.Condition != "" {
		p.Custom("condition", em.Condition)
	}
	at := em.At
	if at.IsZero() {
		at = time.Now()
	}

	return &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		CollapseID:  em.SessionID,
		Payload:     p,
		Priority:    apns2.PriorityHigh,
		PushType:    apns2.PushTypeAlert,
		Expiration:  at.Add(c.ttl),
	}
}

// SendEmergencyAlert pushes one alert. The apns2 client is safe for
// concurrent use.
func (c *APNsClient) SendEmergencyAlert(ctx context.Context, deviceToken string, em Emergency) error {
	if c == nil {
		return nil
	}
	res, err := c.client.PushWithContext(ctx, c.notification(deviceToken, em))
	if err != nil {
		return fmt.Errorf("apns push: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("apns rejected %s: %d %s", truncate(deviceToken, 8), res.StatusCode, res.Reason)
	}
	return nil
}
