package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/session"
	"github.com/medimitra/voiceagent/internal/store"
	"github.com/medimitra/voiceagent/internal/tts"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/voice"
)

type RouterConfig struct {
	// JWTSecret enables bearer token auth on session endpoints when set.
	JWTSecret      string
	AllowedOrigins []string
	// GreetingTimeout bounds synthesis of the spoken greeting.
	GreetingTimeout time.Duration
}

// Engine is the voice engine as seen by the transport.
type Engine interface {
	StartSession(ctx context.Context, id string, opts voice.StartOptions) (voice.Started, error)
	SpeakGreeting(ctx context.Context, st voice.Started) (tts.Audio, error)
	HandleAudio(id string, chunk []byte) (voice.FrameResult, error)
	HandleText(id, text string) error
	EndSession(id string) error
	Disconnect(s *session.Session)
	Status(id string) (session.Status, error)
	Chat(ctx context.Context, sessionID, lang, text string) (*turn.Result, error)
	ChatVoice(ctx context.Context, sessionID, lang string, enc audio.Encoding, data []byte) (*turn.Result, error)
	Transcribe(ctx context.Context, lang string, enc audio.Encoding, data []byte) (string, error)
	Speak(ctx context.Context, text, lang string) (tts.Audio, error)
}

// Store is the read side of persistence used by the API. It may be nil.
type Store interface {
	GetSession(ctx context.Context, id string) (store.VoiceSession, error)
	ListTurns(ctx context.Context, sessionID string, limit int) ([]store.Turn, error)
	RegisterDevice(ctx context.Context, owner, token, platform string) error
	UnregisterDevice(ctx context.Context, token string) error
}

type Router struct {
	cfg    RouterConfig
	logger *zap.Logger
	engine Engine
	store  Store
	conns  *ConnRegistry
}

func NewRouter(cfg RouterConfig, logger *zap.Logger, engine Engine, s Store, conns *ConnRegistry) http.Handler {
	if cfg.GreetingTimeout <= 0 {
		cfg.GreetingTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	r := &Router{
		cfg:    cfg,
		logger: logger,
		engine: engine,
		store:  s,
		conns:  conns,
	}
	return r.routes()
}

func (r *Router) routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimw.RealIP)
	mux.Use(chimw.RequestID)
	mux.Use(withSentryRecovery)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: r.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	mux.Get("/healthz", r.handleHealthz)
	mux.Get("/readyz", r.handleReadyz)
	mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
	mux.Get("/languages", r.handleLanguages)
	mux.Get("/languages/supported", r.handleLanguages)

	mux.Group(func(g chi.Router) {
		g.Use(r.withAuth)

		g.Get("/ws/voice/{sessionID}", r.handleVoiceWS)
		g.Get("/voice/status/{sessionID}", r.handleVoiceStatus)
		g.Delete("/voice/end/{sessionID}", r.handleVoiceEnd)
		g.Post("/voice/start-realtime", r.handleStartSession("voice"))
		g.Post("/session/start", r.handleStartSession("text"))
		g.Delete("/session/{sessionID}", r.handleVoiceEnd)
		g.Post("/chat/text", r.handleChatText)
		g.Post("/chat/voice", r.handleChatVoice)
		g.Post("/stt/transcribe", r.handleTranscribe)
		g.Post("/tts/generate", r.handleGenerateSpeech)

		g.Group(func(care chi.Router) {
			care.Use(r.requireCareTeam)
			care.Get("/voice/sessions/{sessionID}", r.handleGetSession)
			care.Get("/voice/sessions/{sessionID}/turns", r.handleListTurns)
			care.Post("/care-team/devices", r.handleDeviceRegister)
			care.Delete("/care-team/devices", r.handleDeviceUnregister)
		})
	})

	return mux
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails while draining so the load balancer stops routing new
// sessions here.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.conns != nil && r.conns.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
