package app

import (
	"context"
	"reflect"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{level: "debug"},
		{level: "info"},
		{level: "warn"},
		{level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.level)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
			if err == nil && logger == nil {
				t.Errorf("NewLogger(%q) returned nil logger", tt.level)
			}
		})
	}
}

func TestDeviceTokensStaticOnly(t *testing.T) {
	d := &deviceTokens{static: []string{"a", "b", "a"}}
	got, err := d.DeviceTokens(context.Background())
	if err != nil {
		t.Fatalf("DeviceTokens() error = %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("DeviceTokens() = %v, want %v", got, want)
	}
}

func TestNewRequiresProviderKeys(t *testing.T) {
	cfg := DefaultConfig()
	logger, _ := NewLogger("error")

	if _, err := New(context.Background(), cfg, logger); err == nil {
		t.Fatal("New() without provider keys succeeded, want error")
	}

	cfg.DeepgramAPIKey = "dg"
	cfg.OpenAIAPIKey = "sk"
	cfg.ElevenLabsAPIKey = "el"
	cfg.WebRTCVAD = false
	a, err := New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer a.Close()
	if a.Handler() == nil || a.Engine() == nil || a.Sweeper() == nil {
		t.Error("New() left components unwired")
	}
	if got := a.Services()["stt"]; got != "deepgram" {
		t.Errorf("Services()[stt] = %q, want deepgram", got)
	}
}
