package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/eventlog"
	"github.com/medimitra/voiceagent/internal/httpapi"
	"github.com/medimitra/voiceagent/internal/jobs"
	"github.com/medimitra/voiceagent/internal/llm"
	"github.com/medimitra/voiceagent/internal/notifications"
	"github.com/medimitra/voiceagent/internal/session"
	"github.com/medimitra/voiceagent/internal/store"
	"github.com/medimitra/voiceagent/internal/stt"
	"github.com/medimitra/voiceagent/internal/tts"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/vad"
	"github.com/medimitra/voiceagent/internal/voice"
)

// App owns every long lived component of the server.
type App struct {
	cfg      Config
	logger   *zap.Logger
	db       *pgxpool.Pool
	store    *store.Store
	engine   *voice.Engine
	conns    *httpapi.ConnRegistry
	sweeper  *jobs.IdleSweeper
	discord  *notifications.Discord
	handler  http.Handler
	services map[string]string
}

// NewLogger builds the process logger. Debug level switches to the
// human readable development encoder.
func NewLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if err := zc.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	return zc.Build()
}

func New(ctx context.Context, cfg Config, logger *zap.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		conns:  httpapi.NewConnRegistry(),
		services: map[string]string{
			"stt":      cfg.STTProvider,
			"dialogue": cfg.DialogueProvider,
			"tts":      cfg.TTSProvider,
			"vad":      cfg.VADMode,
		},
	}

	if cfg.DatabaseURL != "" {
		if err := a.openDatabase(ctx); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("DATABASE_URL not set, sessions will not be persisted")
	}

	// Keeps TCP connections to the speech providers warm between turns.
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}

	transcriber, err := a.newTranscriber(httpClient)
	if err != nil {
		a.Close()
		return nil, err
	}
	completer, err := a.newCompleter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	synth, err := a.newSynthesizer(httpClient)
	if err != nil {
		a.Close()
		return nil, err
	}

	mode, err := turn.ParseMode(cfg.VADMode)
	if err != nil {
		a.Close()
		return nil, err
	}
	policy := turn.DefaultPolicy()
	policy.Mode = mode

	vadCfg := vad.DefaultConfig()
	vadCfg.WebRTC = cfg.WebRTCVAD
	vadCfg.WebRTCMode = cfg.WebRTCMode

	procCfg := turn.DefaultProcessorConfig()
	procCfg.Transcribe.AttemptTimeout = cfg.TranscribeTimeout
	procCfg.Respond.AttemptTimeout = cfg.ReplyTimeout
	procCfg.Synthesize.AttemptTimeout = cfg.SynthTimeout

	dialogue := llm.NewConversation(completer, llm.SystemPrompt, cfg.MaxHistory)
	escalator, err := a.newEscalator()
	if err != nil {
		a.Close()
		return nil, err
	}

	deps := voice.Deps{
		Registry:  session.NewRegistry(),
		Detectors: vad.NewFactory(vadCfg, logger),
		Processor: turn.NewProcessor(transcriber, dialogue, synth, procCfg, logger),
		Dialogue:  dialogue,
		Escalator: escalator,
		Logger:    logger,
	}
	// Interfaces stay nil without a database so the engine skips persistence.
	var apiStore httpapi.Store
	if a.store != nil {
		deps.Store = a.store
		deps.Events = eventlog.New(a.db)
		apiStore = a.store
	}
	a.engine = voice.NewEngine(voice.Config{Policy: policy, BufferSeconds: cfg.BufferSeconds}, deps)
	a.sweeper = jobs.NewIdleSweeper(a.engine, cfg.SessionIdleTimeout, cfg.SweepInterval, logger)

	a.handler = httpapi.NewRouter(httpapi.RouterConfig{
		JWTSecret:       cfg.JWTSecret,
		AllowedOrigins:  cfg.AllowedOrigins,
		GreetingTimeout: cfg.SynthTimeout,
	}, logger, a.engine, apiStore, a.conns)

	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging database: %w", err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return err
	}
	a.db = db
	a.store = store.New(db)
	return nil
}

func (a *App) newTranscriber(httpClient *http.Client) (stt.Transcriber, error) {
	switch a.cfg.STTProvider {
	case "whisper":
		if a.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the whisper transcriber")
		}
		return stt.NewWhisperClient(stt.WhisperConfig{APIKey: a.cfg.OpenAIAPIKey}), nil
	default:
		if a.cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY is required for the deepgram transcriber")
		}
		return stt.NewDeepgramClient(stt.DeepgramConfig{
			APIKey:     a.cfg.DeepgramAPIKey,
			Punctuate:  true,
			HTTPClient: httpClient,
		}), nil
	}
}

func (a *App) newCompleter(ctx context.Context) (llm.Completer, error) {
	switch a.cfg.DialogueProvider {
	case "gemini":
		if a.cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini dialogue provider")
		}
		return llm.NewGeminiClient(ctx, llm.GeminiConfig{APIKey: a.cfg.GeminiAPIKey, Model: a.cfg.DialogueModel})
	default:
		if a.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai dialogue provider")
		}
		return llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: a.cfg.OpenAIAPIKey, Model: a.cfg.DialogueModel}), nil
	}
}

func (a *App) newSynthesizer(httpClient *http.Client) (tts.Synthesizer, error) {
	switch a.cfg.TTSProvider {
	case "openai":
		if a.cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai synthesizer")
		}
		return tts.NewOpenAIClient(tts.OpenAIConfig{APIKey: a.cfg.OpenAIAPIKey}), nil
	default:
		if a.cfg.ElevenLabsAPIKey == "" {
			return nil, fmt.Errorf("ELEVENLABS_API_KEY is required for the elevenlabs synthesizer")
		}
		return tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     a.cfg.ElevenLabsAPIKey,
			VoiceID:    a.cfg.TTSVoiceID,
			Stability:  a.cfg.TTSStability,
			Similarity: a.cfg.TTSSimilarity,
			HTTPClient: httpClient,
		}), nil
	}
}

func (a *App) newEscalator() (*notifications.Escalator, error) {
	a.discord = notifications.NewDiscord(a.cfg.DiscordWebhookURL, a.logger)
	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    a.cfg.APNsKeyPath,
		KeyID:      a.cfg.APNsKeyID,
		TeamID:     a.cfg.APNsTeamID,
		BundleID:   a.cfg.APNsBundleID,
		Production: a.cfg.APNsProduction,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	sms := notifications.NewSMSClient(notifications.SMSConfig{
		AccountSID:   a.cfg.TwilioAccountSID,
		AuthToken:    a.cfg.TwilioAuthToken,
		SenderNumber: a.cfg.TwilioSMSFrom,
	}, a.logger)

	cfg := notifications.EscalatorConfig{
		Discord:  a.discord,
		SMS:      sms,
		OnCall:   a.cfg.OnCallPhones,
		Cooldown: a.cfg.EscalationCooldown,
	}
	// Device tokens are only looked up when pushes can be sent.
	if apns != nil {
		cfg.APNs = apns
		cfg.Devices = &deviceTokens{store: a.store, static: a.cfg.CareTeamTokens}
	}
	return notifications.NewEscalator(cfg, a.logger), nil
}

// deviceTokens merges registered care team devices with statically
// configured ones.
type deviceTokens struct {
	store  *store.Store
	static []string
}

func (d *deviceTokens) DeviceTokens(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool, len(d.static))
	out := make([]string, 0, len(d.static))
	for _, t := range d.static {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if d.store == nil {
		return out, nil
	}
	registered, err := d.store.DeviceTokens(ctx)
	if err != nil {
		return out, err
	}
	for _, t := range registered {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func (a *App) Handler() http.Handler { return a.handler }
func (a *App) Engine() *voice.Engine { return a.engine }
func (a *App) Conns() *httpapi.ConnRegistry { return a.conns }
func (a *App) Sweeper() *jobs.IdleSweeper { return a.sweeper }
func (a *App) Discord() *notifications.Discord { return a.discord }
func (a *App) Services() map[string]string { return a.services }

func (a *App) Close() {
	if a.db != nil {
		a.db.Close()
	}
}
