package notifications

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Emergency describes a turn that needs a human to look at it.
type Emergency struct {
	SessionID  string
	Language   string
	Level      string
	Condition  string // symptom named by the user, may be empty
	Transcript string
	Reply      string
	At         time.Time
}

func (e Emergency) summary() string {
	if e.Condition != "" {
		return fmt.Sprintf("Patient reported %s", e.Condition)
	}
	return fmt.Sprintf("Assistant triaged the conversation as %s", e.Level)
}

// DeviceSource lists care team devices for push alerts.
type DeviceSource interface {
	DeviceTokens(ctx context.Context) ([]string, error)
}

// Escalator fans an emergency out to every configured channel. Channels that
// are not configured are skipped.
type Escalator struct {
	discord  *Discord
	apns     *APNsClient
	sms      *SMSClient
	devices  DeviceSource
	phones   []string
	cooldown time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// EscalatorConfig wires the channels.
type EscalatorConfig struct {
	Discord  *Discord
	APNs     *APNsClient
	SMS      *SMSClient
	Devices  DeviceSource
	OnCall   []string      // phone numbers that receive SMS alerts
	Cooldown time.Duration // minimum gap between alerts for one session
}

func NewEscalator(cfg EscalatorConfig, logger *zap.Logger) *Escalator {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Escalator{
		discord:  cfg.Discord,
		apns:     cfg.APNs,
		sms:      cfg.SMS,
		devices:  cfg.Devices,
		phones:   cfg.OnCall,
		cooldown: cooldown,
		logger:   logger,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Escalate alerts the care team unless the session was escalated within the
// cooldown. It reports whether an alert went out.
func (e *Escalator) Escalate(ctx context.Context, em Emergency) bool {
	if e == nil {
		return false
	}
	if em.At.IsZero() {
		em.At = e.now()
	}

	e.mu.Lock()
	if prev, ok := e.last[em.SessionID]; ok && em.At.Sub(prev) < e.cooldown {
		e.mu.Unlock()
		return false
	}
	e.last[em.SessionID] = em.At
	e.mu.Unlock()

	e.logger.Warn("escalation: emergency detected",
		zap.String("session_id", em.SessionID),
		zap.String("level", em.Level),
		zap.String("condition", em.Condition),
	)

	if e.discord != nil {
		e.discord.NotifyEmergency(ctx, em)
	}
	if e.apns != nil && e.devices != nil {
		tokens, err := e.devices.DeviceTokens(ctx)
		if err != nil {
			e.logger.Error("escalation: failed to load device tokens", zap.Error(err))
		}
		for _, tok := range tokens {
			if err := e.apns.SendEmergencyAlert(ctx, tok, em); err != nil {
				e.logger.Warn("escalation: push failed", zap.Error(err))
			}
		}
	}
	if e.sms != nil {
		body := fmt.Sprintf("MediVoice alert: %s (session %s). Last message: %q",
			em.summary(), em.SessionID, truncate(em.Transcript, 80))
		for _, to := range e.phones {
			if err := e.sms.SendSMS(ctx, to, body); err != nil {
				e.logger.Warn("escalation: sms failed", zap.String("to", to), zap.Error(err))
			}
		}
	}
	return true
}

// Forget drops the cooldown entry of a finished session.
func (e *Escalator) Forget(sessionID string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.last, sessionID)
	e.mu.Unlock()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
