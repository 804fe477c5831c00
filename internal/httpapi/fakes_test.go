package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/language"
	"github.com/medimitra/voiceagent/internal/session"
	"github.com/medimitra/voiceagent/internal/store"
	"github.com/medimitra/voiceagent/internal/triage"
	"github.com/medimitra/voiceagent/internal/tts"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/voice"
)

// fakeEngine answers every voiced chunk with an immediate turn result.
type fakeEngine struct {
	mu           sync.Mutex
	registry     *session.Registry
	disconnected []string
	chatErr      error
	greetErr     error
	speakErr     error
	uploads      []audio.Encoding
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{registry: session.NewRegistry()}
}

func (f *fakeEngine) StartSession(_ context.Context, id string, opts voice.StartOptions) (voice.Started, error) {
	lang := language.Resolve(opts.Language)
	s := f.registry.Create(id, session.Options{Language: lang.Code, Encoding: opts.Encoding, Sink: opts.Sink})
	return voice.Started{Session: s, Language: lang, Greeting: lang.Greeting}, nil
}

func (f *fakeEngine) SpeakGreeting(context.Context, voice.Started) (tts.Audio, error) {
	if f.greetErr != nil {
		return tts.Audio{}, f.greetErr
	}
	return tts.Audio{Data: []byte("hello"), Format: "mp3"}, nil
}

func (f *fakeEngine) HandleAudio(id string, chunk []byte) (voice.FrameResult, error) {
	s, ok := f.registry.Get(id)
	if !ok {
		return voice.FrameResult{}, session.ErrNotFound
	}
	if string(chunk) == "speech" && s.Sink != nil {
		go s.Sink.TurnCompleted(&turn.Result{
			SessionID:        id,
			Language:         s.Language,
			Transcript:       "I have chest pain",
			Reply:            "Call an ambulance immediately.",
			Audio:            []byte{1, 2},
			Level:            triage.LevelEmergency,
			RequiresHospital: true,
		})
		return voice.FrameResult{VoiceDetected: true, Processing: true, Action: turn.Flushed, Timestamp: time.Unix(1, 0)}, nil
	}
	if string(chunk) == "broken" && s.Sink != nil {
		go s.Sink.TurnFailed(errors.New("stt down"))
	}
	return voice.FrameResult{Action: turn.Ignored, Timestamp: time.Unix(1, 0)}, nil
}

func (f *fakeEngine) HandleText(id, text string) error {
	if _, ok := f.registry.Get(id); !ok {
		return session.ErrNotFound
	}
	return voice.ErrBusy
}

func (f *fakeEngine) EndSession(id string) error {
	if !f.registry.Destroy(id, session.ReasonEnded) {
		return session.ErrNotFound
	}
	return nil
}

func (f *fakeEngine) Disconnect(s *session.Session) {
	f.mu.Lock()
	f.disconnected = append(f.disconnected, s.ID)
	f.mu.Unlock()
	f.registry.Remove(s, session.ReasonDisconnected)
}

func (f *fakeEngine) Status(id string) (session.Status, error) {
	s, ok := f.registry.Get(id)
	if !ok {
		return session.Status{}, session.ErrNotFound
	}
	return s.Status(), nil
}

func (f *fakeEngine) Chat(_ context.Context, sessionID, lang, text string) (*turn.Result, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if sessionID == "" {
		sessionID = "generated"
	}
	level, hospital := triage.Classify("See a doctor about " + text)
	return &turn.Result{
		SessionID:        sessionID,
		Language:         language.Resolve(lang).Code,
		Transcript:       text,
		Reply:            "See a doctor.",
		Level:            level,
		RequiresHospital: hospital,
	}, nil
}

// ChatVoice treats the upload "junk" as undecodable and "hush" as silence.
func (f *fakeEngine) ChatVoice(ctx context.Context, sessionID, lang string, enc audio.Encoding, data []byte) (*turn.Result, error) {
	text, err := f.Transcribe(ctx, lang, enc, data)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		sessionID = "generated"
	}
	return &turn.Result{
		SessionID:        sessionID,
		Language:         language.Resolve(lang).Code,
		Transcript:       text,
		Reply:            "Call an ambulance immediately.",
		Audio:            []byte("mp3"),
		AudioFormat:      "mp3",
		Level:            triage.LevelEmergency,
		RequiresHospital: true,
	}, nil
}

func (f *fakeEngine) Transcribe(_ context.Context, _ string, enc audio.Encoding, data []byte) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, enc)
	f.mu.Unlock()
	switch string(data) {
	case "junk":
		return "", fmt.Errorf("%w: bad header", voice.ErrInvalidAudio)
	case "hush":
		return "", turn.ErrEmptyTranscript
	}
	return "I have chest pain", nil
}

func (f *fakeEngine) Speak(_ context.Context, text, _ string) (tts.Audio, error) {
	if f.speakErr != nil {
		return tts.Audio{}, f.speakErr
	}
	return tts.Audio{Data: []byte("ID3" + text), Format: "mp3"}, nil
}

func (f *fakeEngine) encodings() []audio.Encoding {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audio.Encoding(nil), f.uploads...)
}

func (f *fakeEngine) disconnects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnected...)
}

type fakeStore struct {
	sessions map[string]store.VoiceSession
	turns    []store.Turn
	devices  map[string]string
	err      error
}

func (f *fakeStore) GetSession(_ context.Context, id string) (store.VoiceSession, error) {
	if f.err != nil {
		return store.VoiceSession{}, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return store.VoiceSession{}, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeStore) ListTurns(_ context.Context, _ string, limit int) ([]store.Turn, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.turns) {
		return f.turns[:limit], nil
	}
	return f.turns, nil
}

func (f *fakeStore) RegisterDevice(_ context.Context, owner, token, _ string) error {
	if f.err != nil {
		return f.err
	}
	if f.devices == nil {
		f.devices = map[string]string{}
	}
	f.devices[token] = owner
	return nil
}

func (f *fakeStore) UnregisterDevice(_ context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.devices, token)
	return nil
}
