// Package session holds the live voice sessions of this process.
package session

import (
	"strconv"
	"sync"
	"time"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/vad"
)

// Sink receives results that are produced after the frame that triggered
// them has been acknowledged.
type Sink interface {
	TurnCompleted(res *turn.Result)
	TurnFailed(err error)
}

// Options configure a new session.
type Options struct {
	Language      string
	Encoding      audio.Encoding
	Detector      vad.Detector
	Sink          Sink
	BufferSeconds int // raw audio retention, defaults to 30
}

// Session is one live voice interaction.
type Session struct {
	ID         string
	Generation uint64 // distinguishes sessions that reuse an id
	Language   string
	Encoding   audio.Encoding
	CreatedAt  time.Time
	Audio      *audio.RingBuffer
	Sink       Sink

	mu           sync.Mutex
	state        turn.State
	detector     vad.Detector
	lastActivity time.Time
	turns        int
}

func newSession(id string, gen uint64, opts Options, now time.Time) *Session {
	secs := opts.BufferSeconds
	if secs <= 0 {
		secs = 30
	}
	enc := opts.Encoding
	if enc == "" {
		enc = audio.EncodingPCM16
	}
	return &Session{
		ID:           id,
		Generation:   gen,
		Language:     opts.Language,
		Encoding:     enc,
		CreatedAt:    now,
		Audio:        audio.NewRingBuffer(secs),
		Sink:         opts.Sink,
		detector:     opts.Detector,
		lastActivity: now,
	}
}

// WithState runs fn with exclusive access to the turn state and detector.
// Frames of a session are classified and accumulated inside fn so the
// detector history and the buffer always advance together.
func (s *Session) WithState(fn func(st *turn.State, d vad.Detector)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state, s.detector)
}

// CompleteTurn clears the flushed utterance and makes the session ready for
// the next one.
func (s *Session) CompleteTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Complete()
	s.turns++
}

// ConversationKey names this session's dialogue history. A replacement
// with the same id gets a fresh history.
func (s *Session) ConversationKey() string {
	return s.ID + "#" + strconv.FormatUint(s.Generation, 10)
}

// TryBegin marks the session busy for work that does not go through the
// accumulator, such as a typed message. It reports false while a turn is in
// flight or an utterance is being buffered, since completing the turn would
// discard those frames.
func (s *Session) TryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Busy || len(s.state.Pending) > 0 {
		return false
	}
	s.state.Busy = true
	return true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// LastActivity returns the time of the last received message.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID       string    `json:"session_id"`
	Language        string    `json:"language"`
	IsSpeaking      bool      `json:"is_speaking"`
	IsProcessing    bool      `json:"processing_audio"`
	PendingFrames   int       `json:"pending_frames"`
	Turns           int       `json:"turns"`
	BufferedSeconds float64   `json:"buffered_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	LastActivity    time.Time `json:"last_activity"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SessionID:       s.ID,
		Language:        s.Language,
		IsSpeaking:      s.state.Speaking,
		IsProcessing:    s.state.Busy,
		PendingFrames:   len(s.state.Pending),
		Turns:           s.turns,
		BufferedSeconds: s.Audio.Available(),
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.lastActivity,
	}
}
