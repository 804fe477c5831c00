package turn

import "time"

// State is the per-session turn-taking state. It is not safe for concurrent
// use; the owning session serialises access.
type State struct {
	Speaking     bool
	SilenceStart time.Time // zero when no silence timer is running
	Pending      [][]byte  // PCM16 frames of the candidate utterance
	Busy         bool      // an utterance is being processed
}

// ObserveVoice updates the speaking flag and silence timer from one VAD
// verdict. A speaker stays "speaking" until hangover of continuous silence.
func (s *State) ObserveVoice(voiced bool, now time.Time, hangover time.Duration) {
	if voiced {
		s.Speaking = true
		s.SilenceStart = time.Time{}
		return
	}
	if !s.Speaking {
		return
	}
	if s.SilenceStart.IsZero() {
		s.SilenceStart = now
		return
	}
	if now.Sub(s.SilenceStart) > hangover {
		s.Speaking = false
	}
}

// SilenceFor reports how long the silence timer has been running.
func (s *State) SilenceFor(now time.Time) time.Duration {
	if s.SilenceStart.IsZero() {
		return 0
	}
	return now.Sub(s.SilenceStart)
}

// reset clears the candidate utterance together with the speaking state so
// an empty buffer never carries a stale silence timer.
func (s *State) reset() {
	s.Pending = nil
	s.Speaking = false
	s.SilenceStart = time.Time{}
}

// Complete marks processing of the flushed utterance as finished.
func (s *State) Complete() {
	s.reset()
	s.Busy = false
}
