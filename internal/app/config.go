package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/medimitra/voiceagent/internal/turn"
)

type Config struct {
	HTTPAddr       string   `yaml:"http_addr"`
	DatabaseURL    string   `yaml:"database_url"`
	LogLevel       string   `yaml:"log_level"`
	SentryDSN      string   `yaml:"sentry_dsn"`
	Environment    string   `yaml:"environment"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// JWT Authentication, disabled when empty
	JWTSecret string `yaml:"jwt_secret"`

	// Provider selection
	STTProvider      string `yaml:"stt_provider"`      // deepgram | whisper
	DialogueProvider string `yaml:"dialogue_provider"` // openai | gemini
	TTSProvider      string `yaml:"tts_provider"`      // elevenlabs | openai

	// Provider credentials and models
	DeepgramAPIKey   string  `yaml:"deepgram_api_key"`
	OpenAIAPIKey     string  `yaml:"openai_api_key"`
	GeminiAPIKey     string  `yaml:"gemini_api_key"`
	ElevenLabsAPIKey string  `yaml:"elevenlabs_api_key"`
	DialogueModel    string  `yaml:"dialogue_model"`
	MaxHistory       int     `yaml:"max_history"`
	TTSVoiceID       string  `yaml:"tts_voice_id"`
	TTSStability     float64 `yaml:"tts_stability"`
	TTSSimilarity    float64 `yaml:"tts_similarity"`

	// Turn detection
	VADMode       string `yaml:"vad_mode"` // stream | chunk
	WebRTCVAD     bool   `yaml:"webrtc_vad"`
	WebRTCMode    int    `yaml:"webrtc_mode"`
	BufferSeconds int    `yaml:"buffer_seconds"`

	// Timing
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	TranscribeTimeout  time.Duration `yaml:"transcribe_timeout"`
	ReplyTimeout       time.Duration `yaml:"reply_timeout"`
	SynthTimeout       time.Duration `yaml:"synth_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`

	// Escalation
	DiscordWebhookURL  string        `yaml:"discord_webhook_url"`
	EscalationCooldown time.Duration `yaml:"escalation_cooldown"`
	APNsKeyPath        string        `yaml:"apns_key_path"`
	APNsKeyID          string        `yaml:"apns_key_id"`
	APNsTeamID         string        `yaml:"apns_team_id"`
	APNsBundleID       string        `yaml:"apns_bundle_id"`
	APNsProduction     bool          `yaml:"apns_production"`
	CareTeamTokens     []string      `yaml:"care_team_tokens"` // static device tokens, in addition to registered ones
	TwilioAccountSID   string        `yaml:"twilio_account_sid"`
	TwilioAuthToken    string        `yaml:"twilio_auth_token"`
	TwilioSMSFrom      string        `yaml:"twilio_sms_from"`
	OnCallPhones       []string      `yaml:"on_call_phones"`
}

// DefaultConfig returns the reference settings.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:         ":8080",
		LogLevel:         "info",
		Environment:      "development",
		STTProvider:      "deepgram",
		DialogueProvider: "openai",
		TTSProvider:      "elevenlabs",
		MaxHistory:       20,
		TTSStability:     0.5,
		TTSSimilarity:    0.75,

		VADMode:       string(turn.ModeStream),
		WebRTCVAD:     true,
		WebRTCMode:    2,
		BufferSeconds: 30,

		SessionIdleTimeout: 300 * time.Second,
		SweepInterval:      60 * time.Second,
		TranscribeTimeout:  20 * time.Second,
		ReplyTimeout:       30 * time.Second,
		SynthTimeout:       35 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		EscalationCooldown: 5 * time.Minute,
	}
}

// LoadConfig reads defaults, then the optional YAML file at path, then
// environment variables. Later sources win.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.SentryDSN = getenv("SENTRY_DSN", c.SentryDSN)
	c.Environment = getenv("ENVIRONMENT", c.Environment)
	c.AllowedOrigins = getenvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.JWTSecret = getenv("JWT_SECRET", c.JWTSecret)

	c.STTProvider = strings.ToLower(getenv("STT_PROVIDER", c.STTProvider))
	c.DialogueProvider = strings.ToLower(getenv("DIALOGUE_PROVIDER", c.DialogueProvider))
	c.TTSProvider = strings.ToLower(getenv("TTS_PROVIDER", c.TTSProvider))

	c.DeepgramAPIKey = getenv("DEEPGRAM_API_KEY", c.DeepgramAPIKey)
	c.OpenAIAPIKey = getenv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.GeminiAPIKey = getenv("GEMINI_API_KEY", c.GeminiAPIKey)
	c.ElevenLabsAPIKey = getenv("ELEVENLABS_API_KEY", c.ElevenLabsAPIKey)
	c.DialogueModel = getenv("DIALOGUE_MODEL", c.DialogueModel)
	c.MaxHistory = getenvIntClamped("MAX_HISTORY", c.MaxHistory, 2, 200)
	c.TTSVoiceID = getenv("TTS_VOICE_ID", c.TTSVoiceID)
	c.TTSStability = getenvFloatClamped("TTS_STABILITY", c.TTSStability, 0, 1)
	c.TTSSimilarity = getenvFloatClamped("TTS_SIMILARITY", c.TTSSimilarity, 0, 1)

	c.VADMode = strings.ToLower(getenv("VAD_MODE", c.VADMode))
	c.WebRTCVAD = getenvBool("WEBRTC_VAD", c.WebRTCVAD)
	c.WebRTCMode = getenvIntClamped("WEBRTC_VAD_MODE", c.WebRTCMode, 0, 3)
	c.BufferSeconds = getenvIntClamped("AUDIO_BUFFER_SECONDS", c.BufferSeconds, 1, 300)

	c.SessionIdleTimeout = getenvDuration("SESSION_IDLE_TIMEOUT", c.SessionIdleTimeout)
	c.SweepInterval = getenvDuration("SWEEP_INTERVAL", c.SweepInterval)
	c.TranscribeTimeout = getenvDuration("TRANSCRIBE_TIMEOUT", c.TranscribeTimeout)
	c.ReplyTimeout = getenvDuration("REPLY_TIMEOUT", c.ReplyTimeout)
	c.SynthTimeout = getenvDuration("SYNTH_TIMEOUT", c.SynthTimeout)
	c.ShutdownTimeout = getenvDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	c.DiscordWebhookURL = getenv("DISCORD_WEBHOOK_URL", c.DiscordWebhookURL)
	c.EscalationCooldown = getenvDuration("ESCALATION_COOLDOWN", c.EscalationCooldown)
	c.APNsKeyPath = getenv("APNS_KEY_PATH", c.APNsKeyPath)
	c.APNsKeyID = getenv("APNS_KEY_ID", c.APNsKeyID)
	c.APNsTeamID = getenv("APNS_TEAM_ID", c.APNsTeamID)
	c.APNsBundleID = getenv("APNS_BUNDLE_ID", c.APNsBundleID)
	c.APNsProduction = getenvBool("APNS_PRODUCTION", c.APNsProduction)
	c.CareTeamTokens = getenvList("CARE_TEAM_DEVICE_TOKENS", c.CareTeamTokens)
	c.TwilioAccountSID = getenv("TWILIO_ACCOUNT_SID", c.TwilioAccountSID)
	c.TwilioAuthToken = getenv("TWILIO_AUTH_TOKEN", c.TwilioAuthToken)
	c.TwilioSMSFrom = getenv("TWILIO_SMS_FROM", c.TwilioSMSFrom)
	c.OnCallPhones = getenvList("ON_CALL_PHONES", c.OnCallPhones)
}

// Validate rejects unknown provider names and modes.
func (c Config) Validate() error {
	if _, err := turn.ParseMode(c.VADMode); err != nil {
		return err
	}
	if err := oneOf("STT_PROVIDER", c.STTProvider, "deepgram", "whisper"); err != nil {
		return err
	}
	if err := oneOf("DIALOGUE_PROVIDER", c.DialogueProvider, "openai", "gemini"); err != nil {
		return err
	}
	if err := oneOf("TTS_PROVIDER", c.TTSProvider, "elevenlabs", "openai"); err != nil {
		return err
	}
	if c.SweepInterval <= 0 || c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL and SESSION_IDLE_TIMEOUT must be positive")
	}
	return nil
}

// Redacted returns a copy safe to print, with credentials masked.
func (c Config) Redacted() Config {
	for _, s := range []*string{
		&c.DatabaseURL, &c.SentryDSN, &c.JWTSecret,
		&c.DeepgramAPIKey, &c.OpenAIAPIKey, &c.GeminiAPIKey, &c.ElevenLabsAPIKey,
		&c.DiscordWebhookURL, &c.TwilioAuthToken,
	} {
		if *s != "" {
			*s = "redacted"
		}
	}
	return c
}

func oneOf(key, v string, allowed ...string) error {
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), v)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

// getenvDuration accepts Go durations ("90s") or bare seconds ("90").
func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvList(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return parseList(v)
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
