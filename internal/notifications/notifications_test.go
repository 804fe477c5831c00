package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"go.uber.org/zap"
)

func TestDiscordNotifyEmergency(t *testing.T) {
	got := make(chan discordMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg discordMessage
		if err := sonic.Unmarshal(body, &msg); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
		got <- msg
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, zap.NewNop())
	d.NotifyEmergency(context.Background(), Emergency{
		SessionID:  "s1",
		Language:   "hi",
		Level:      "emergency",
		Condition:  "chest pain",
		Transcript: "I have chest pain",
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	select {
	case msg := <-got:
		if len(msg.Embeds) != 1 {
			t.Fatalf("embeds = %d, want 1", len(msg.Embeds))
		}
		if !strings.Contains(msg.Embeds[0].Description, "chest pain") {
			t.Errorf("description = %q, want mention of chest pain", msg.Embeds[0].Description)
		}
		if msg.Embeds[0].Timestamp != "2026-01-02T03:04:05Z" {
			t.Errorf("timestamp = %q", msg.Embeds[0].Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not called")
	}
}

func TestDiscordDisabled(t *testing.T) {
	d := NewDiscord("", zap.NewNop())
	if d.Enabled() {
		t.Error("Enabled() = true for empty webhook")
	}
	// must not panic
	d.NotifyEmergency(context.Background(), Emergency{SessionID: "s1"})

	var nilDiscord *Discord
	if nilDiscord.Enabled() {
		t.Error("nil Discord reports enabled")
	}
}

func TestSendSMS(t *testing.T) {
	var form url.Values
	var path, user string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		user, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	c := NewSMSClient(SMSConfig{AccountSID: "AC1", AuthToken: "tok", SenderNumber: "+15550000", BaseURL: srv.URL}, zap.NewNop())
	if err := c.SendSMS(context.Background(), "+15551111", "hello"); err != nil {
		t.Fatalf("SendSMS() error = %v", err)
	}
	if path != "/Accounts/AC1/Messages.json" {
		t.Errorf("path = %q", path)
	}
	if user != "AC1" {
		t.Errorf("basic auth user = %q, want AC1", user)
	}
	if form.Get("To") != "+15551111" || form.Get("From") != "+15550000" || form.Get("Body") != "hello" {
		t.Errorf("form = %v", form)
	}
}

func TestSendSMSError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"invalid To"}`))
	}))
	defer srv.Close()

	c := NewSMSClient(SMSConfig{AccountSID: "AC1", AuthToken: "tok", SenderNumber: "+1", BaseURL: srv.URL}, zap.NewNop())
	err := c.SendSMS(context.Background(), "bad", "x")
	if err == nil || !strings.Contains(err.Error(), "21211") {
		t.Errorf("SendSMS() error = %v, want Twilio code", err)
	}
}

func TestNewSMSClientUnconfigured(t *testing.T) {
	if c := NewSMSClient(SMSConfig{}, zap.NewNop()); c != nil {
		t.Error("expected nil client without credentials")
	}
	var c *SMSClient
	if err := c.SendSMS(context.Background(), "x", "y"); err != nil {
		t.Errorf("nil client SendSMS() = %v, want nil", err)
	}
}

type fakeDevices struct {
	tokens []string
	err    error
	calls  int
}

func (f *fakeDevices) DeviceTokens(context.Context) ([]string, error) {
	f.calls++
	return f.tokens, f.err
}

func TestEscalatorCooldown(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		sent = append(sent, r.PostForm.Get("To"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1"}`))
	}))
	defer srv.Close()

	sms := NewSMSClient(SMSConfig{AccountSID: "AC", AuthToken: "t", SenderNumber: "+1", BaseURL: srv.URL}, zap.NewNop())
	e := NewEscalator(EscalatorConfig{
		SMS:      sms,
		OnCall:   []string{"+100", "+200"},
		Cooldown: time.Minute,
	}, zap.NewNop())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		session string
		at      time.Time
		want    bool
	}{
		{"first alert", "s1", base, true},
		{"within cooldown", "s1", base.Add(30 * time.Second), false},
		{"other session", "s2", base.Add(30 * time.Second), true},
		{"after cooldown", "s1", base.Add(2 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Escalate(context.Background(), Emergency{SessionID: tt.session, Level: "emergency", At: tt.at})
			if got != tt.want {
				t.Errorf("Escalate() = %v, want %v", got, tt.want)
			}
		})
	}
	if len(sent) != 6 {
		t.Errorf("sms sent = %d, want 6", len(sent))
	}

	e.Forget("s1")
	if !e.Escalate(context.Background(), Emergency{SessionID: "s1", At: base.Add(2*time.Minute + time.Second)}) {
		t.Error("Escalate() after Forget should alert")
	}
}

func TestEscalatorSkipsPushWithoutClient(t *testing.T) {
	devices := &fakeDevices{err: errors.New("db down")}
	e := NewEscalator(EscalatorConfig{Devices: devices}, zap.NewNop())
	if !e.Escalate(context.Background(), Emergency{SessionID: "s1"}) {
		t.Fatal("Escalate() = false")
	}
	if devices.calls != 0 {
		t.Errorf("device lookups = %d, want 0 without APNs client", devices.calls)
	}

	var nilEsc *Escalator
	if nilEsc.Escalate(context.Background(), Emergency{}) {
		t.Error("nil escalator reported an alert")
	}
}

func TestEmergencySummary(t *testing.T) {
	if got := (Emergency{Condition: "stroke"}).summary(); got != "Patient reported stroke" {
		t.Errorf("summary() = %q", got)
	}
	if got := (Emergency{Level: "high"}).summary(); !strings.Contains(got, "high") {
		t.Errorf("summary() = %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc…" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestAPNsNotification(t *testing.T) {
	c := &APNsClient{bundleID: "in.medimitra.care", ttl: time.Hour}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	n := c.notification("device-1", Emergency{
		SessionID: "s1",
		Level:     "emergency",
		Condition: "chest pain",
		At:        at,
	})

	if n.Topic != "in.medimitra.care" || n.DeviceToken != "device-1" {
		t.Errorf("notification routed to %s/%s", n.Topic, n.DeviceToken)
	}
	if n.CollapseID != "s1" {
		t.Errorf("CollapseID = %q, want s1", n.CollapseID)
	}
	if n.Priority != apns2.PriorityHigh {
		t.Errorf("Priority = %d, want high", n.Priority)
	}
	if !n.Expiration.Equal(at.Add(time.Hour)) {
		t.Errorf("Expiration = %v, want %v", n.Expiration, at.Add(time.Hour))
	}
	body, err := n.Payload.(*payload.Payload).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}
	for _, want := range []string{`"thread-id":"s1"`, `"condition":"chest pain"`, `"session_id":"s1"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("payload %s missing %s", body, want)
		}
	}
}

func TestNewAPNsClient(t *testing.T) {
	c, err := NewAPNsClient(APNsConfig{}, zap.NewNop())
	if c != nil || err != nil {
		t.Errorf("NewAPNsClient(empty) = %v, %v, want nil, nil", c, err)
	}

	_, err = NewAPNsClient(APNsConfig{
		KeyPath:  t.TempDir() + "/missing.p8",
		KeyID:    "K",
		TeamID:   "T",
		BundleID: "B",
	}, zap.NewNop())
	if err == nil {
		t.Error("NewAPNsClient(missing key) succeeded, want error")
	}
}
