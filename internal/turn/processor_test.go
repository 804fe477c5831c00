package turn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/retry"
	"github.com/medimitra/voiceagent/internal/stt"
	"github.com/medimitra/voiceagent/internal/triage"
	"github.com/medimitra/voiceagent/internal/tts"
)

type fakeSTT struct {
	text   string
	err    error
	locale string
}

func (f *fakeSTT) Transcribe(ctx context.Context, wav []byte, locale string) (stt.Transcript, error) {
	f.locale = locale
	if len(wav) < 44 || string(wav[:4]) != "RIFF" {
		return stt.Transcript{}, errors.New("not a wav payload")
	}
	return stt.Transcript{Text: f.text}, f.err
}

type fakeDialog struct {
	reply string
	err   error
	block bool
	calls atomic.Int32
	key   atomic.Value // last history key
}

func (f *fakeDialog) Respond(ctx context.Context, sessionID, text, lang string) (string, error) {
	f.calls.Add(1)
	f.key.Store(sessionID)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeDialog) Forget(string) {}

type fakeTTS struct {
	failures int // number of leading calls that fail
	calls    atomic.Int32
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, lang string) (tts.Audio, error) {
	n := int(f.calls.Add(1))
	if n <= f.failures {
		return tts.Audio{}, errors.New("tts unavailable")
	}
	return tts.Audio{Data: []byte("mp3:" + text), Format: "mp3"}, nil
}

func testConfig() ProcessorConfig {
	return ProcessorConfig{
		Transcribe: retry.Once(time.Second),
		Respond:    retry.Once(50 * time.Millisecond),
		Synthesize: retry.Policy{
			Attempts:       3,
			AttemptTimeout: time.Second,
			Backoff:        []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
		},
	}
}

var utterance = make([]byte, 960)

func TestProcessor_HappyPath(t *testing.T) {
	s := &fakeSTT{text: "  I have chest pain  "}
	d := &fakeDialog{reply: "Please call an ambulance immediately."}
	synth := &fakeTTS{}
	p := NewProcessor(s, d, synth, testConfig(), zap.NewNop())

	res, err := p.Process(context.Background(), Turn{SessionID: "s1", Language: "hi", Audio: utterance, Frames: 1})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if s.locale != "hi-IN" {
		t.Errorf("locale = %q, want %q", s.locale, "hi-IN")
	}
	if res.Transcript != "I have chest pain" {
		t.Errorf("Transcript = %q, want trimmed text", res.Transcript)
	}
	if res.Level != triage.LevelEmergency || !res.RequiresHospital {
		t.Errorf("Level = %q requiresHospital = %v, want emergency/true", res.Level, res.RequiresHospital)
	}
	if res.EmergencyCondition != "chest pain" {
		t.Errorf("EmergencyCondition = %q, want %q", res.EmergencyCondition, "chest pain")
	}
	if string(res.Audio) != "mp3:Please call an ambulance immediately." || res.AudioFormat != "mp3" {
		t.Errorf("Audio = %q (%s), want synthesized reply", res.Audio, res.AudioFormat)
	}
	if res.Language != "hi" {
		t.Errorf("Language = %q, want hi", res.Language)
	}
}

func TestProcessor_EmptyTranscript(t *testing.T) {
	d := &fakeDialog{reply: "unused"}
	p := NewProcessor(&fakeSTT{text: "   "}, d, &fakeTTS{}, testConfig(), zap.NewNop())

	_, err := p.Process(context.Background(), Turn{SessionID: "s1", Audio: utterance})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("Process() error = %v, want ErrEmptyTranscript", err)
	}
	if d.calls.Load() != 0 {
		t.Error("dialogue service should not be called for an empty transcript")
	}
}

func TestProcessor_TranscriptionFailureAborts(t *testing.T) {
	sttErr := errors.New("stt down")
	p := NewProcessor(&fakeSTT{err: sttErr}, &fakeDialog{}, &fakeTTS{}, testConfig(), zap.NewNop())

	_, err := p.Process(context.Background(), Turn{SessionID: "s1", Audio: utterance})
	if !errors.Is(err, sttErr) {
		t.Errorf("Process() error = %v, want wrapped %v", err, sttErr)
	}
}

func TestProcessor_DialogueTimeoutFallsBack(t *testing.T) {
	synth := &fakeTTS{}
	p := NewProcessor(&fakeSTT{text: "hello"}, &fakeDialog{block: true}, synth, testConfig(), zap.NewNop())

	res, err := p.Process(context.Background(), Turn{SessionID: "s1", Audio: utterance})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Reply != FallbackReply || !res.Fallback {
		t.Errorf("Reply = %q, want fallback", res.Reply)
	}
	if res.Level != triage.LevelNone || res.RequiresHospital {
		t.Errorf("Level = %q requiresHospital = %v, want none/false", res.Level, res.RequiresHospital)
	}
	if res.Audio == nil {
		t.Error("fallback reply should still be synthesized")
	}
}

func TestProcessor_DialogueErrorFallsBack(t *testing.T) {
	p := NewProcessor(&fakeSTT{text: "hello"}, &fakeDialog{err: errors.New("quota")}, &fakeTTS{}, testConfig(), zap.NewNop())

	res, err := p.Process(context.Background(), Turn{SessionID: "s1", Audio: utterance})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Reply != FallbackReply || res.Level != triage.LevelNone {
		t.Errorf("Reply = %q Level = %q, want fallback/none", res.Reply, res.Level)
	}
}

func TestProcessor_SynthesisRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int32
		wantAudio bool
	}{
		{"first attempt succeeds", 0, 1, true},
		{"third attempt succeeds", 2, 3, true},
		{"all attempts fail", 3, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &fakeTTS{failures: tt.failures}
			p := NewProcessor(&fakeSTT{text: "hello"}, &fakeDialog{reply: "Get some rest."}, synth, testConfig(), zap.NewNop())

			res, err := p.Process(context.Background(), Turn{SessionID: "s1", Audio: utterance})
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if got := synth.calls.Load(); got != tt.wantCalls {
				t.Errorf("synthesis calls = %d, want %d", got, tt.wantCalls)
			}
			if (res.Audio != nil) != tt.wantAudio {
				t.Errorf("Audio present = %v, want %v", res.Audio != nil, tt.wantAudio)
			}
			if res.Reply != "Get some rest." || res.Level != triage.LevelLow {
				t.Errorf("Reply = %q Level = %q, want text result regardless of audio", res.Reply, res.Level)
			}
		})
	}
}

func TestProcessor_ProcessText(t *testing.T) {
	synth := &fakeTTS{}
	p := NewProcessor(nil, &fakeDialog{reply: "Please see a doctor."}, synth, testConfig(), zap.NewNop())

	res, err := p.ProcessText(context.Background(), Turn{SessionID: "s1", Language: "xx"}, "my knee hurts")
	if err != nil {
		t.Fatalf("ProcessText() error = %v", err)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want fallback en", res.Language)
	}
	if res.Level != triage.LevelHigh || !res.RequiresHospital {
		t.Errorf("Level = %q requiresHospital = %v, want high/true", res.Level, res.RequiresHospital)
	}
	if res.Audio == nil || synth.calls.Load() != 1 {
		t.Errorf("audio = %v after %d synth calls, want spoken reply", res.Audio, synth.calls.Load())
	}

	if _, err := p.ProcessText(context.Background(), Turn{SessionID: "s1", Language: "en"}, " "); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("ProcessText(blank) error = %v, want ErrEmptyTranscript", err)
	}
}

func TestProcessor_AnswerTextSkipsSynthesis(t *testing.T) {
	synth := &fakeTTS{}
	p := NewProcessor(nil, &fakeDialog{reply: "Monitor your temperature."}, synth, testConfig(), zap.NewNop())

	for i := 0; i < 5; i++ {
		res, err := p.AnswerText(context.Background(), Turn{SessionID: "chat", Language: "hi"}, "I have a fever")
		if err != nil {
			t.Fatalf("AnswerText() error = %v", err)
		}
		if res.Audio != nil || res.Timings.Synthesize != 0 {
			t.Errorf("AnswerText() produced audio %v", res.Audio)
		}
		if !res.TextOnly {
			t.Error("TextOnly = false, want true")
		}
		if res.Level != triage.LevelModerate {
			t.Errorf("Level = %q, want moderate", res.Level)
		}
	}
	if n := synth.calls.Load(); n != 0 {
		t.Errorf("synth calls = %d, want 0", n)
	}
}

func TestProcessor_ConversationKey(t *testing.T) {
	tests := []struct {
		name string
		turn Turn
		want string
	}{
		{"defaults to session id", Turn{SessionID: "s1"}, "s1"},
		{"explicit key", Turn{SessionID: "s1", ConversationKey: "s1#4"}, "s1#4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialog := &fakeDialog{reply: "ok"}
			p := NewProcessor(nil, dialog, nil, testConfig(), zap.NewNop())
			res, err := p.AnswerText(context.Background(), tt.turn, "hello")
			if err != nil {
				t.Fatalf("AnswerText() error = %v", err)
			}
			if got := dialog.key.Load(); got != tt.want {
				t.Errorf("history key = %v, want %q", got, tt.want)
			}
			if res.SessionID != "s1" {
				t.Errorf("SessionID = %q, want s1", res.SessionID)
			}
		})
	}
}

func TestProcessor_Transcribe(t *testing.T) {
	p := NewProcessor(&fakeSTT{text: "  mujhe bukhar hai "}, &fakeDialog{}, nil, testConfig(), zap.NewNop())
	got, err := p.Transcribe(context.Background(), utterance, "hi")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "mujhe bukhar hai" {
		t.Errorf("Transcribe() = %q", got)
	}

	p = NewProcessor(&fakeSTT{text: ""}, &fakeDialog{}, nil, testConfig(), zap.NewNop())
	if _, err := p.Transcribe(context.Background(), utterance, "hi"); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Transcribe(silence) error = %v, want ErrEmptyTranscript", err)
	}
}
