package turn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/language"
	"github.com/medimitra/voiceagent/internal/llm"
	"github.com/medimitra/voiceagent/internal/retry"
	"github.com/medimitra/voiceagent/internal/stt"
	"github.com/medimitra/voiceagent/internal/triage"
	"github.com/medimitra/voiceagent/internal/tts"
)

// ErrEmptyTranscript means the utterance contained no recognisable words.
// The turn is dropped without notifying the client.
var ErrEmptyTranscript = errors.New("turn: empty transcript")

// FallbackReply is spoken when the dialogue service fails or times out.
const FallbackReply = "I'm sorry, I'm having trouble responding right now. Please try again in a moment."

// Turn is one unit of work for the processor.
type Turn struct {
	SessionID string
	// ConversationKey names the dialogue history; SessionID when empty.
	ConversationKey string
	Language        string
	Audio           []byte // PCM16 mono at audio.SampleRate
	Frames          int
}

func (t Turn) conversationKey() string {
	if t.ConversationKey != "" {
		return t.ConversationKey
	}
	return t.SessionID
}

// Result is the outcome of a processed turn.
type Result struct {
	SessionID          string
	Language           string
	Transcript         string
	Reply              string
	Audio              []byte // nil when synthesis failed or was not requested
	AudioFormat        string
	Level              triage.Level
	RequiresHospital   bool
	Fallback           bool   // Reply is FallbackReply
	TextOnly           bool   // synthesis was not requested
	EmergencyCondition string // condition named by the user, if any
	AudioSeconds       float64
	Timings            Timings
}

// Timings records how long each stage took.
type Timings struct {
	Transcribe time.Duration
	Respond    time.Duration
	Synthesize time.Duration
}

// ProcessorConfig bounds the external calls.
type ProcessorConfig struct {
	Transcribe retry.Policy
	Respond    retry.Policy
	Synthesize retry.Policy
}

// DefaultProcessorConfig returns the reference timeouts: one 20s
// transcription attempt, one 30s dialogue attempt and up to three 35s
// synthesis attempts spaced by 1s and 3s.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Transcribe: retry.Once(20 * time.Second),
		Respond:    retry.Once(30 * time.Second),
		Synthesize: retry.Policy{
			Attempts:       3,
			AttemptTimeout: 35 * time.Second,
			Backoff:        []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
		},
	}
}

// Processor runs a flushed utterance through transcription, dialogue,
// severity classification and synthesis.
type Processor struct {
	stt    stt.Transcriber
	dialog llm.Responder
	tts    tts.Synthesizer
	cfg    ProcessorConfig
	logger *zap.Logger
}

func NewProcessor(t stt.Transcriber, r llm.Responder, s tts.Synthesizer, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	return &Processor{stt: t, dialog: r, tts: s, cfg: cfg, logger: logger}
}

// Process handles a voice turn. It fails only when transcription fails or
// yields nothing; dialogue and synthesis failures degrade the result.
func (p *Processor) Process(ctx context.Context, t Turn) (*Result, error) {
	lang := language.Resolve(t.Language)

	start := time.Now()
	text, err := p.transcribe(ctx, t.Audio, lang)
	transcribeTook := time.Since(start)
	if err != nil {
		return nil, err
	}

	p.logger.Info("turn: transcribed",
		zap.String("session_id", t.SessionID),
		zap.Int("frames", t.Frames),
		zap.Int("chars", len(text)),
		zap.Duration("took", transcribeTook),
	)

	res := p.reply(ctx, t, lang, text, true)
	res.AudioSeconds = audio.Duration(t.Audio)
	res.Timings.Transcribe = transcribeTook
	return res, nil
}

// Transcribe converts PCM16 audio to text without involving the dialogue.
func (p *Processor) Transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	return p.transcribe(ctx, pcm, language.Resolve(lang))
}

func (p *Processor) transcribe(ctx context.Context, pcm []byte, lang language.Language) (string, error) {
	wav, err := audio.WrapWAV(pcm, audio.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to wrap utterance: %w", err)
	}
	transcript, err := retry.Do(ctx, p.cfg.Transcribe, func(ctx context.Context) (stt.Transcript, error) {
		return p.stt.Transcribe(ctx, wav, lang.Locale)
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe: %w", err)
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// ProcessText handles a typed message, skipping transcription. The reply is
// spoken.
func (p *Processor) ProcessText(ctx context.Context, t Turn, text string) (*Result, error) {
	return p.processText(ctx, t, text, true)
}

// AnswerText is ProcessText for clients that only read the reply: nothing is
// synthesized.
func (p *Processor) AnswerText(ctx context.Context, t Turn, text string) (*Result, error) {
	return p.processText(ctx, t, text, false)
}

func (p *Processor) processText(ctx context.Context, t Turn, text string, speak bool) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyTranscript
	}
	return p.reply(ctx, t, language.Resolve(t.Language), text, speak), nil
}

func (p *Processor) reply(ctx context.Context, t Turn, lang language.Language, text string, speak bool) *Result {
	res := &Result{
		SessionID:  t.SessionID,
		Language:   lang.Code,
		Transcript: text,
		TextOnly:   !speak,
	}
	if cond, ok := triage.DetectEmergencyCondition(text); ok {
		res.EmergencyCondition = cond
	}

	key := t.conversationKey()
	start := time.Now()
	reply, err := retry.Do(ctx, p.cfg.Respond, func(ctx context.Context) (string, error) {
		return p.dialog.Respond(ctx, key, text, lang.Code)
	})
	res.Timings.Respond = time.Since(start)

	if err != nil {
		p.logger.Warn("turn: dialogue failed, using fallback reply",
			zap.String("session_id", t.SessionID),
			zap.Error(err),
		)
		res.Reply = FallbackReply
		res.Fallback = true
		res.Level = triage.LevelNone
	} else {
		res.Reply = reply
		res.Level, res.RequiresHospital = triage.Classify(reply)
	}

	if speak {
		start = time.Now()
		p.synthesize(ctx, res)
		res.Timings.Synthesize = time.Since(start)
	}
	return res
}

func (p *Processor) synthesize(ctx context.Context, res *Result) {
	if p.tts == nil {
		return
	}
	policy := p.cfg.Synthesize
	policy.OnRetry = func(attempt int, err error) {
		p.logger.Warn("turn: synthesis attempt failed",
			zap.String("session_id", res.SessionID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	out, err := retry.Do(ctx, policy, func(ctx context.Context) (tts.Audio, error) {
		return p.tts.Synthesize(ctx, res.Reply, res.Language)
	})
	if err != nil {
		p.logger.Error("turn: synthesis failed, replying without audio",
			zap.String("session_id", res.SessionID),
			zap.Error(err),
		)
		return
	}
	res.Audio = out.Data
	res.AudioFormat = out.Format
}

// Synthesize speaks arbitrary text, such as a greeting, with the synthesis policy.
func (p *Processor) Synthesize(ctx context.Context, text, lang string) (tts.Audio, error) {
	if p.tts == nil {
		return tts.Audio{}, errors.New("no synthesizer configured")
	}
	return retry.Do(ctx, p.cfg.Synthesize, func(ctx context.Context) (tts.Audio, error) {
		return p.tts.Synthesize(ctx, text, language.Resolve(lang).Code)
	})
}
