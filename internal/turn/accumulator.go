package turn

import (
	"fmt"
	"time"
)

// Mode selects how voiced audio is grouped into utterances.
type Mode string

const (
	// ModeStream accumulates frames and flushes on a silence gap.
	ModeStream Mode = "stream"
	// ModeChunk treats every voiced message as a complete utterance, for
	// clients that already segment audio before sending it.
	ModeChunk Mode = "chunk"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStream:
		return ModeStream, nil
	case ModeChunk:
		return ModeChunk, nil
	default:
		return "", fmt.Errorf("unknown accumulation mode %q", s)
	}
}

// Policy holds the flush thresholds.
type Policy struct {
	Mode Mode
	// MinFramesOnGap is the buffer length required for a silence-gap flush.
	MinFramesOnGap int
	// SilenceGap is how long the silence timer must run before a gap flush.
	SilenceGap time.Duration
	// MaxFrames forces a flush once the buffer reaches this length.
	MaxFrames int
	// MinFramesOnSilence is the length a buffer must exceed to be flushed,
	// rather than discarded, when a non-speech frame arrives.
	MinFramesOnSilence int
	// SpeechHangover is how long a speaker stays "speaking" through silence.
	SpeechHangover time.Duration
}

// DefaultPolicy returns the reference thresholds for streaming mode.
func DefaultPolicy() Policy {
	return Policy{
		Mode:               ModeStream,
		MinFramesOnGap:     10,
		SilenceGap:         800 * time.Millisecond,
		MaxFrames:          100,
		MinFramesOnSilence: 5,
		SpeechHangover:     1500 * time.Millisecond,
	}
}

// Action is what the accumulator did with a frame.
type Action int

const (
	// Ignored: silent frame with nothing buffered.
	Ignored Action = iota
	// Buffered: voiced frame appended to the candidate utterance.
	Buffered
	// Flushed: the candidate utterance is ready for processing.
	Flushed
	// Discarded: buffer too short to be an utterance, dropped.
	Discarded
	// Dropped: a previous utterance is still processing.
	Dropped
)

func (a Action) String() string {
	switch a {
	case Ignored:
		return "ignored"
	case Buffered:
		return "buffered"
	case Flushed:
		return "flushed"
	case Discarded:
		return "discarded"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of offering one frame.
type Decision struct {
	Action Action
	// Utterance is set for Flushed: the concatenated PCM16 frames.
	Utterance []byte
	// Frames is the number of frames in Utterance.
	Frames int
}

// Accumulator applies a Policy to a session's State.
type Accumulator struct {
	policy Policy
}

func NewAccumulator(p Policy) *Accumulator {
	def := DefaultPolicy()
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	if p.MinFramesOnGap <= 0 {
		p.MinFramesOnGap = def.MinFramesOnGap
	}
	if p.SilenceGap <= 0 {
		p.SilenceGap = def.SilenceGap
	}
	if p.MaxFrames <= 0 {
		p.MaxFrames = def.MaxFrames
	}
	if p.MinFramesOnSilence <= 0 {
		p.MinFramesOnSilence = def.MinFramesOnSilence
	}
	if p.SpeechHangover <= 0 {
		p.SpeechHangover = def.SpeechHangover
	}
	return &Accumulator{policy: p}
}

func (a *Accumulator) Policy() Policy { return a.policy }

// Observe feeds one VAD verdict into the speaking state.
func (a *Accumulator) Observe(st *State, voiced bool, now time.Time) {
	st.ObserveVoice(voiced, now, a.policy.SpeechHangover)
}

// Offer decides what happens to one frame. Observe must already have been
// called for the same frame. On Flushed the state becomes busy and the
// frames stay pending until State.Complete.
func (a *Accumulator) Offer(st *State, frame []byte, voiced bool, now time.Time) Decision {
	if st.Busy {
		return Decision{Action: Dropped}
	}

	if voiced {
		st.Pending = append(st.Pending, frame)
		if a.policy.Mode == ModeChunk {
			return a.flush(st)
		}
		n := len(st.Pending)
		if n >= a.policy.MaxFrames {
			return a.flush(st)
		}
		if n >= a.policy.MinFramesOnGap && st.SilenceFor(now) > a.policy.SilenceGap {
			return a.flush(st)
		}
		return Decision{Action: Buffered}
	}

	switch n := len(st.Pending); {
	case n == 0:
		return Decision{Action: Ignored}
	case n > a.policy.MinFramesOnSilence:
		return a.flush(st)
	default:
		st.reset()
		return Decision{Action: Discarded}
	}
}

func (a *Accumulator) flush(st *State) Decision {
	size := 0
	for _, f := range st.Pending {
		size += len(f)
	}
	if size == 0 {
		st.reset()
		return Decision{Action: Discarded}
	}
	utt := make([]byte, 0, size)
	for _, f := range st.Pending {
		utt = append(utt, f...)
	}
	st.Busy = true
	return Decision{Action: Flushed, Utterance: utt, Frames: len(st.Pending)}
}
