// Package voice drives live sessions: it classifies incoming frames, groups
// them into utterances and hands flushed utterances to the turn processor.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/costs"
	"github.com/medimitra/voiceagent/internal/eventlog"
	"github.com/medimitra/voiceagent/internal/language"
	"github.com/medimitra/voiceagent/internal/llm"
	"github.com/medimitra/voiceagent/internal/metrics"
	"github.com/medimitra/voiceagent/internal/notifications"
	"github.com/medimitra/voiceagent/internal/session"
	"github.com/medimitra/voiceagent/internal/store"
	"github.com/medimitra/voiceagent/internal/triage"
	"github.com/medimitra/voiceagent/internal/tts"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/vad"
)

var (
	// ErrBusy is returned when a session is still processing a previous turn
	// or buffering an utterance.
	ErrBusy = errors.New("session is processing a previous turn")

	// ErrShuttingDown is returned once Shutdown has begun.
	ErrShuttingDown = errors.New("engine is shutting down")

	// ErrInvalidAudio wraps decode failures of uploaded audio.
	ErrInvalidAudio = errors.New("invalid audio")
)

// DetectorFactory builds one detector per session.
type DetectorFactory interface {
	New() (vad.Detector, error)
}

// Store persists sessions and turns.
type Store interface {
	StartSession(ctx context.Context, id, language, channel string) error
	EnsureSession(ctx context.Context, id, language, channel string) error
	EndSession(ctx context.Context, id, reason string, at time.Time) error
	InsertTurn(ctx context.Context, t store.Turn, levelRank func(string) int) (string, error)
}

// Escalator alerts humans about emergencies.
type Escalator interface {
	Escalate(ctx context.Context, em notifications.Emergency) bool
	Forget(sessionID string)
}

// Config tunes the engine.
type Config struct {
	Policy        turn.Policy
	BufferSeconds int
}

// Deps are the engine's collaborators. Store, Events and Escalator are
// optional.
type Deps struct {
	Registry  *session.Registry
	Detectors DetectorFactory
	Processor *turn.Processor
	Dialogue  llm.Responder
	Store     Store
	Events    *eventlog.Logger
	Escalator Escalator
	Logger    *zap.Logger
}

// Engine is safe for concurrent use. Frames of one session must be
// delivered in order by a single caller.
type Engine struct {
	registry  *session.Registry
	detectors DetectorFactory
	acc       *turn.Accumulator
	proc      *turn.Processor
	dialog    llm.Responder
	store     Store
	events    *eventlog.Logger
	escalator Escalator
	logger    *zap.Logger
	bufSecs   int
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool                 // set by Shutdown; no new turns start
	chats  map[string]time.Time // client-named chat histories by last use
}

func NewEngine(cfg Config, d Deps) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		registry:  d.Registry,
		detectors: d.Detectors,
		acc:       turn.NewAccumulator(cfg.Policy),
		proc:      d.Processor,
		dialog:    d.Dialogue,
		store:     d.Store,
		events:    d.Events,
		escalator: d.Escalator,
		logger:    d.Logger,
		bufSecs:   cfg.BufferSeconds,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		chats:     make(map[string]time.Time),
	}
	e.registry.OnDestroy(e.sessionDestroyed)
	return e
}

// Registry exposes the session registry.
func (e *Engine) Registry() *session.Registry { return e.registry }

// StartOptions describe a new session.
type StartOptions struct {
	Language string
	Encoding audio.Encoding
	Sink     session.Sink
	Channel  string // "voice" or "text", recorded with the session
}

// Started is returned by StartSession.
type Started struct {
	Session  *session.Session
	Language language.Language
	Greeting string
}

// StartSession registers a session, replacing any session with the same id.
func (e *Engine) StartSession(ctx context.Context, id string, opts StartOptions) (Started, error) {
	lang := language.Resolve(opts.Language)

	det, err := e.detectors.New()
	if err != nil {
		return Started{}, fmt.Errorf("failed to create voice detector: %w", err)
	}

	s := e.registry.Create(id, session.Options{
		Language:      lang.Code,
		Encoding:      opts.Encoding,
		Detector:      det,
		Sink:          opts.Sink,
		BufferSeconds: e.bufSecs,
	})
	metrics.SessionsCreatedTotal.Inc()
	metrics.ActiveSessions.Set(float64(e.registry.Count()))

	channel := opts.Channel
	if channel == "" {
		channel = "voice"
	}
	if e.store != nil {
		if err := e.store.StartSession(ctx, id, lang.Code, channel); err != nil {
			e.logger.Warn("engine: failed to persist session", zap.String("session_id", id), zap.Error(err))
		}
	}
	e.events.LogAsync(id, eventlog.EventSessionStarted, map[string]any{
		"language": lang.Code,
		"encoding": string(s.Encoding),
		"channel":  channel,
	})

	e.logger.Info("engine: session started",
		zap.String("session_id", id),
		zap.String("language", lang.Code),
		zap.String("encoding", string(s.Encoding)),
	)
	return Started{Session: s, Language: lang, Greeting: lang.Greeting}, nil
}

// SpeakGreeting synthesizes the session greeting.
func (e *Engine) SpeakGreeting(ctx context.Context, st Started) (tts.Audio, error) {
	return e.proc.Synthesize(ctx, st.Greeting, st.Language.Code)
}

// FrameResult acknowledges one audio message.
type FrameResult struct {
	VoiceDetected bool
	Processing    bool
	Action        turn.Action
	Timestamp     time.Time
}

// HandleAudio feeds one encoded audio chunk into the session. A flushed
// utterance is processed in the background and delivered to the session Sink.
func (e *Engine) HandleAudio(id string, chunk []byte) (FrameResult, error) {
	s, ok := e.registry.Get(id)
	if !ok {
		return FrameResult{}, session.ErrNotFound
	}
	now := e.now()
	e.registry.Touch(id)

	pcm, err := audio.Decode(chunk, s.Encoding)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		return FrameResult{Timestamp: now}, fmt.Errorf("failed to decode audio: %w", err)
	}
	s.Audio.Write(pcm)
	samples := audio.Samples(pcm)

	var (
		voiced bool
		busy   bool
		dec    turn.Decision
	)
	s.WithState(func(st *turn.State, d vad.Detector) {
		voiced = vad.Classify(d, samples, e.logger)
		e.acc.Observe(st, voiced, now)
		dec = e.acc.Offer(st, pcm, voiced, now)
		busy = st.Busy
	})
	metrics.FramesTotal.WithLabelValues(dec.Action.String()).Inc()

	switch dec.Action {
	case turn.Flushed:
		e.startTurn(s, dec)
	case turn.Discarded:
		e.logger.Debug("engine: short utterance discarded", zap.String("session_id", id))
		e.events.LogAsync(id, eventlog.EventUtteranceDropped, nil)
	}

	return FrameResult{
		VoiceDetected: voiced,
		Processing:    busy,
		Action:        dec.Action,
		Timestamp:     now,
	}, nil
}

func (e *Engine) startTurn(s *session.Session, dec turn.Decision) {
	secs := audio.Duration(dec.Utterance)
	metrics.UtteranceSeconds.Observe(secs)
	e.events.LogAsync(s.ID, eventlog.EventUtteranceFlushed, map[string]any{
		"frames":  dec.Frames,
		"seconds": secs,
	})
	e.logger.Info("engine: utterance flushed",
		zap.String("session_id", s.ID),
		zap.Int("frames", dec.Frames),
		zap.Float64("seconds", secs),
	)

	if !e.begin() {
		s.WithState(func(st *turn.State, _ vad.Detector) { st.Complete() })
		e.logger.Info("engine: shutting down, utterance dropped", zap.String("session_id", s.ID))
		return
	}
	go func() {
		defer e.wg.Done()
		metrics.TurnsInFlight.Inc()
		defer metrics.TurnsInFlight.Dec()

		res, err := e.proc.Process(e.ctx, turn.Turn{
			SessionID:       s.ID,
			ConversationKey: s.ConversationKey(),
			Language:        s.Language,
			Audio:           dec.Utterance,
			Frames:          dec.Frames,
		})
		e.finishTurn(s, res, err)
	}()
}

// begin registers a background turn with the wait group. It reports false
// once Shutdown has begun; on true the caller must call e.wg.Done.
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	return true
}

// HandleText processes a typed message as a turn. It fails with ErrBusy
// while a previous turn is in flight or an utterance is being buffered, and
// with ErrShuttingDown after Shutdown.
func (e *Engine) HandleText(id, text string) error {
	s, ok := e.registry.Get(id)
	if !ok {
		return session.ErrNotFound
	}
	e.registry.Touch(id)
	if !e.begin() {
		return ErrShuttingDown
	}
	if !s.TryBegin() {
		e.wg.Done()
		return ErrBusy
	}
	e.events.LogAsync(id, eventlog.EventTextMessage, map[string]any{"chars": len(text)})

	go func() {
		defer e.wg.Done()
		metrics.TurnsInFlight.Inc()
		defer metrics.TurnsInFlight.Dec()

		res, err := e.proc.ProcessText(e.ctx, turn.Turn{
			SessionID:       s.ID,
			ConversationKey: s.ConversationKey(),
			Language:        s.Language,
		}, text)
		e.finishTurn(s, res, err)
	}()
	return nil
}

func (e *Engine) finishTurn(s *session.Session, res *turn.Result, err error) {
	if !e.registry.Current(s) {
		metrics.StaleResultsTotal.Inc()
		e.events.LogAsync(s.ID, eventlog.EventStaleResult, nil)
		e.logger.Info("engine: session gone, dropping turn result", zap.String("session_id", s.ID))
		// The reply may have been stored after the session was destroyed.
		e.forget(s.ConversationKey())
		return
	}
	s.CompleteTurn()

	if err != nil {
		if errors.Is(err, turn.ErrEmptyTranscript) {
			metrics.TurnsTotal.WithLabelValues("empty").Inc()
			e.events.LogAsync(s.ID, eventlog.EventEmptyTranscript, nil)
			return
		}
		metrics.TurnsTotal.WithLabelValues("failed").Inc()
		e.events.LogAsync(s.ID, eventlog.EventTurnFailed, map[string]any{"error": err.Error()})
		e.logger.Error("engine: turn failed", zap.String("session_id", s.ID), zap.Error(err))
		captureTurnError(s.ID, err)
		if s.Sink != nil {
			s.Sink.TurnFailed(err)
		}
		return
	}

	e.record(res)
	if s.Sink != nil {
		s.Sink.TurnCompleted(res)
	}
	e.persist(res, "voice")
	e.escalate(res)
}

// Chat answers a text message outside any live voice session, without
// synthesis. An empty sessionID is replaced with a new one whose history is
// discarded after the reply; a client-named history lives until it has been
// idle for longer than the sweep timeout or is ended.
func (e *Engine) Chat(ctx context.Context, sessionID, lang, text string) (*turn.Result, error) {
	t, done := e.chatTurn(ctx, sessionID, lang, "text")
	defer done()

	res, err := e.proc.AnswerText(ctx, t, text)
	if err != nil {
		return nil, err
	}
	e.record(res)
	e.persist(res, "text")
	e.escalate(res)
	return res, nil
}

// ChatVoice answers one recorded utterance outside any live session and
// speaks the reply. History follows the same rules as Chat.
func (e *Engine) ChatVoice(ctx context.Context, sessionID, lang string, enc audio.Encoding, data []byte) (*turn.Result, error) {
	pcm, err := audio.Decode(data, enc)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	t, done := e.chatTurn(ctx, sessionID, lang, "voice")
	defer done()
	t.Audio = pcm

	res, err := e.proc.Process(ctx, t)
	if err != nil {
		return nil, err
	}
	e.record(res)
	e.persist(res, "voice")
	e.escalate(res)
	return res, nil
}

// chatTurn prepares a sessionless turn and returns the cleanup to run once
// the reply is done.
func (e *Engine) chatTurn(ctx context.Context, sessionID, lang, channel string) (turn.Turn, func()) {
	generated := sessionID == ""
	if generated {
		sessionID = uuid.NewString()
	}
	code := language.Resolve(lang).Code
	if e.store != nil {
		if err := e.store.EnsureSession(ctx, sessionID, code, channel); err != nil {
			e.logger.Warn("engine: failed to persist chat session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	t := turn.Turn{SessionID: sessionID, ConversationKey: chatKey(sessionID), Language: code}
	if generated {
		return t, func() { e.forget(t.ConversationKey) }
	}
	e.touchChat(t.ConversationKey)
	return t, func() { e.touchChat(t.ConversationKey) }
}

func chatKey(sessionID string) string { return "chat:" + sessionID }

func (e *Engine) touchChat(key string) {
	e.mu.Lock()
	e.chats[key] = e.now()
	e.mu.Unlock()
}

// endChat forgets a client-named chat history and reports whether one existed.
func (e *Engine) endChat(sessionID string) bool {
	key := chatKey(sessionID)
	e.mu.Lock()
	_, ok := e.chats[key]
	delete(e.chats, key)
	e.mu.Unlock()
	if ok {
		e.forget(key)
	}
	return ok
}

// ChatHistories reports how many client-named chat histories are retained.
func (e *Engine) ChatHistories() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.chats)
}

// Transcribe converts one recorded utterance to text.
func (e *Engine) Transcribe(ctx context.Context, lang string, enc audio.Encoding, data []byte) (string, error) {
	pcm, err := audio.Decode(data, enc)
	if err != nil {
		metrics.DecodeErrorsTotal.Inc()
		return "", fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	return e.proc.Transcribe(ctx, pcm, language.Resolve(lang).Code)
}

// Speak synthesizes text in the given language.
func (e *Engine) Speak(ctx context.Context, text, lang string) (tts.Audio, error) {
	return e.proc.Synthesize(ctx, text, language.Resolve(lang).Code)
}

func (e *Engine) forget(key string) {
	if e.dialog != nil {
		e.dialog.Forget(key)
	}
}

func (e *Engine) record(res *turn.Result) {
	outcome := "completed"
	if res.Fallback {
		outcome = "fallback"
		e.events.LogAsync(res.SessionID, eventlog.EventReplyFallback, nil)
	}
	if res.Audio == nil && !res.TextOnly {
		e.events.LogAsync(res.SessionID, eventlog.EventSynthesisFailed, nil)
	}
	metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	metrics.SeverityTotal.WithLabelValues(string(res.Level)).Inc()
	if res.Timings.Transcribe > 0 {
		metrics.StageLatency.WithLabelValues("transcribe").Observe(float64(res.Timings.Transcribe.Milliseconds()))
	}
	metrics.StageLatency.WithLabelValues("respond").Observe(float64(res.Timings.Respond.Milliseconds()))
	if !res.TextOnly {
		metrics.StageLatency.WithLabelValues("synthesize").Observe(float64(res.Timings.Synthesize.Milliseconds()))
	}

	e.events.LogAsync(res.SessionID, eventlog.EventTurnCompleted, map[string]any{
		"level":             string(res.Level),
		"requires_hospital": res.RequiresHospital,
		"has_audio":         res.Audio != nil,
	})
	e.logger.Info("engine: turn completed",
		zap.String("session_id", res.SessionID),
		zap.String("level", string(res.Level)),
		zap.Bool("requires_hospital", res.RequiresHospital),
		zap.Bool("fallback", res.Fallback),
		zap.Bool("has_audio", res.Audio != nil),
	)
}

func (e *Engine) persist(res *turn.Result, channel string) {
	if e.store == nil {
		return
	}
	usage := costs.TurnUsage{
		AudioSeconds: res.AudioSeconds,
		PromptChars:  len(llm.SystemPrompt) + len(res.Transcript),
		ReplyChars:   len(res.Reply),
	}
	if res.Audio != nil {
		usage.SynthChars = len(res.Reply)
	}
	cost := costs.CalculateTurnCosts(usage)

	t := store.Turn{
		SessionID:        res.SessionID,
		Transcript:       res.Transcript,
		Reply:            res.Reply,
		EmergencyLevel:   string(res.Level),
		RequiresHospital: res.RequiresHospital,
		Fallback:         res.Fallback,
		HasAudio:         res.Audio != nil,
		AudioSeconds:     res.AudioSeconds,
		CostMicros:       cost.TotalMicros,
	}
	if res.EmergencyCondition != "" {
		cond := res.EmergencyCondition
		t.EmergencyCondition = &cond
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := e.store.InsertTurn(ctx, t, levelRank); err != nil {
		e.logger.Warn("engine: failed to persist turn",
			zap.String("session_id", res.SessionID),
			zap.String("channel", channel),
			zap.Error(err),
		)
	}
}

func levelRank(l string) int { return triage.Level(l).Rank() }

func (e *Engine) escalate(res *turn.Result) {
	if res.Level != triage.LevelEmergency && res.EmergencyCondition == "" {
		return
	}
	e.events.LogAsync(res.SessionID, eventlog.EventEmergencyDetected, map[string]any{
		"level":     string(res.Level),
		"condition": res.EmergencyCondition,
	})
	if e.escalator == nil {
		return
	}
	e.escalator.Escalate(e.ctx, notifications.Emergency{
		SessionID:  res.SessionID,
		Language:   res.Language,
		Level:      string(res.Level),
		Condition:  res.EmergencyCondition,
		Transcript: res.Transcript,
		Reply:      res.Reply,
		At:         e.now(),
	})
}

// EndSession removes a session, or a client-named chat history, at the
// client's request.
func (e *Engine) EndSession(id string) error {
	live := e.registry.Destroy(id, session.ReasonEnded)
	chat := e.endChat(id)
	if !live && !chat {
		return session.ErrNotFound
	}
	return nil
}

// Disconnect removes s after its transport closed, unless it was already
// replaced by a newer session with the same id.
func (e *Engine) Disconnect(s *session.Session) {
	e.registry.Remove(s, session.ReasonDisconnected)
}

// Status reports a live session.
func (e *Engine) Status(id string) (session.Status, error) {
	s, ok := e.registry.Get(id)
	if !ok {
		return session.Status{}, session.ErrNotFound
	}
	return s.Status(), nil
}

// SweepIdle destroys sessions idle for longer than timeout and forgets chat
// histories unused for as long. It returns the destroyed session ids.
func (e *Engine) SweepIdle(timeout time.Duration) []string {
	ids := e.registry.SweepIdle(timeout)
	if len(ids) > 0 {
		e.logger.Info("engine: swept idle sessions", zap.Strings("session_ids", ids))
	}

	cutoff := e.now().Add(-timeout)
	var stale []string
	e.mu.Lock()
	for key, last := range e.chats {
		if last.Before(cutoff) {
			delete(e.chats, key)
			stale = append(stale, key)
		}
	}
	e.mu.Unlock()
	for _, key := range stale {
		e.forget(key)
	}
	if len(stale) > 0 {
		e.logger.Info("engine: forgot idle chat histories", zap.Int("count", len(stale)))
	}
	return ids
}

// Shutdown stops new turns from starting, waits for in-flight turns until
// ctx is done, then cancels them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	defer e.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) sessionDestroyed(s *session.Session, reason session.Reason) {
	e.forget(s.ConversationKey())
	if e.escalator != nil {
		e.escalator.Forget(s.ID)
	}
	metrics.SessionsEndedTotal.WithLabelValues(string(reason)).Inc()
	metrics.ActiveSessions.Set(float64(e.registry.Count()))

	e.logger.Info("engine: session destroyed",
		zap.String("session_id", s.ID),
		zap.String("reason", string(reason)),
	)

	// A replacement reuses the id and its row.
	if reason == session.ReasonReplaced {
		return
	}
	e.events.LogAsync(s.ID, eventlog.EventSessionEnded, map[string]any{"reason": string(reason)})
	if e.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.store.EndSession(ctx, s.ID, string(reason), e.now().UTC()); err != nil {
				e.logger.Warn("engine: failed to persist session end", zap.String("session_id", s.ID), zap.Error(err))
			}
		}()
	}
}

func captureTurnError(sessionID string, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetTag("component", "turn")
		sentry.CaptureException(err)
	})
}
