package turn

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// feed runs one frame through Observe and Offer the way the engine does.
func feed(a *Accumulator, st *State, frame []byte, voiced bool, now time.Time) Decision {
	a.Observe(st, voiced, now)
	return a.Offer(st, frame, voiced, now)
}

func frameN(i int) []byte { return []byte{byte(i), byte(i)} }

func checkResetInvariant(t *testing.T, st *State) {
	t.Helper()
	if len(st.Pending) == 0 && (st.Speaking || !st.SilenceStart.IsZero()) {
		t.Errorf("empty buffer with speaking=%v silenceStart=%v", st.Speaking, st.SilenceStart)
	}
}

func TestAccumulator_SilenceNeverFlushes(t *testing.T) {
	a := NewAccumulator(DefaultPolicy())
	st := &State{}
	now := t0
	for i := 0; i < 500; i++ {
		d := feed(a, st, frameN(i), false, now)
		if d.Action != Ignored {
			t.Fatalf("frame %d: action = %s, want ignored", i, d.Action)
		}
		now = now.Add(30 * time.Millisecond)
	}
	checkResetInvariant(t, st)
}

func TestAccumulator_SpeechThenSilenceFlushesOnce(t *testing.T) {
	a := NewAccumulator(DefaultPolicy())
	st := &State{}
	now := t0

	var want []byte
	for i := 0; i < 12; i++ {
		f := frameN(i)
		want = append(want, f...)
		if d := feed(a, st, f, true, now); d.Action != Buffered {
			t.Fatalf("speech frame %d: action = %s, want buffered", i, d.Action)
		}
		now = now.Add(30 * time.Millisecond)
	}

	d := feed(a, st, frameN(99), false, now)
	if d.Action != Flushed {
		t.Fatalf("action = %s, want flushed", d.Action)
	}
	if string(d.Utterance) != string(want) {
		t.Errorf("utterance = %v, want exactly the buffered speech frames %v", d.Utterance, want)
	}
	if d.Frames != 12 {
		t.Errorf("frames = %d, want 12", d.Frames)
	}
	if !st.Busy {
		t.Error("state should be busy after a flush")
	}

	flushes := 0
	for i := 0; i < 50; i++ {
		now = now.Add(30 * time.Millisecond)
		if feed(a, st, frameN(i), i%2 == 0, now).Action == Flushed {
			flushes++
		}
	}
	if flushes != 0 {
		t.Errorf("flushes while busy = %d, want 0", flushes)
	}

	st.Complete()
	if st.Busy || len(st.Pending) != 0 {
		t.Errorf("after Complete busy=%v pending=%d, want idle and empty", st.Busy, len(st.Pending))
	}
	checkResetInvariant(t, st)
}

func TestAccumulator_BusyDropsFrames(t *testing.T) {
	a := NewAccumulator(DefaultPolicy())
	st := &State{Busy: true, Pending: [][]byte{frameN(1)}}

	for _, voiced := range []bool{true, false} {
		d := feed(a, st, frameN(2), voiced, t0)
		if d.Action != Dropped {
			t.Errorf("voiced=%v: action = %s, want dropped", voiced, d.Action)
		}
	}
	if len(st.Pending) != 1 {
		t.Errorf("pending = %d, want 1 (busy frames are not buffered)", len(st.Pending))
	}
}

func TestAccumulator_ShortBurstDiscarded(t *testing.T) {
	a := NewAccumulator(DefaultPolicy())
	st := &State{}

	for i := 0; i < 5; i++ {
		feed(a, st, frameN(i), true, t0)
	}
	d := feed(a, st, frameN(9), false, t0)
	if d.Action != Discarded {
		t.Fatalf("action = %s, want discarded for 5 frames", d.Action)
	}
	if st.Busy {
		t.Error("discard must not mark the state busy")
	}
	checkResetInvariant(t, st)

	for i := 0; i < 6; i++ {
		feed(a, st, frameN(i), true, t0)
	}
	if d := feed(a, st, frameN(9), false, t0); d.Action != Flushed {
		t.Errorf("action = %s, want flushed for 6 frames", d.Action)
	}
}

func TestAccumulator_OverflowFlushesAtMax(t *testing.T) {
	a := NewAccumulator(DefaultPolicy())
	st := &State{}
	now := t0

	for i := 1; i <= 100; i++ {
		d := feed(a, st, frameN(i), true, now)
		now = now.Add(30 * time.Millisecond)
		if i < 100 && d.Action != Buffered {
			t.Fatalf("frame %d: action = %s, want buffered", i, d.Action)
		}
		if i == 100 {
			if d.Action != Flushed {
				t.Fatalf("frame 100: action = %s, want flushed", d.Action)
			}
			if d.Frames != 100 {
				t.Errorf("frames = %d, want 100", d.Frames)
			}
		}
	}
}

func TestAccumulator_SilenceGapFlush(t *testing.T) {
	tests := []struct {
		name    string
		pending int
		silence time.Duration
		want    Action
	}{
		{"ten frames after 900ms gap", 9, 900 * time.Millisecond, Flushed},
		{"eleven frames after 900ms gap", 10, 900 * time.Millisecond, Flushed},
		{"nine frames after 900ms gap", 8, 900 * time.Millisecond, Buffered},
		{"ten frames after 700ms gap", 9, 700 * time.Millisecond, Buffered},
		{"ten frames at exactly 800ms", 9, 800 * time.Millisecond, Buffered},
		{"ten frames without timer", 9, 0, Buffered},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAccumulator(DefaultPolicy())
			st := &State{Speaking: true}
			for i := 0; i < tt.pending; i++ {
				st.Pending = append(st.Pending, frameN(i))
			}
			if tt.silence > 0 {
				st.SilenceStart = t0.Add(-tt.silence)
			}

			// Offer alone: the gap timer is read before a voiced verdict clears it.
			d := a.Offer(st, frameN(50), true, t0)
			if d.Action != tt.want {
				t.Fatalf("action = %s, want %s", d.Action, tt.want)
			}
			if tt.want == Flushed {
				if d.Frames != tt.pending+1 {
					t.Errorf("frames = %d, want %d", d.Frames, tt.pending+1)
				}
				if !st.Busy {
					t.Error("state not busy after flush")
				}
			}
		})
	}
}

func TestAccumulator_ChunkModeFlushesEveryVoicedChunk(t *testing.T) {
	p := DefaultPolicy()
	p.Mode = ModeChunk
	a := NewAccumulator(p)
	st := &State{}

	d := feed(a, st, frameN(1), true, t0)
	if d.Action != Flushed || d.Frames != 1 {
		t.Fatalf("action = %s frames = %d, want flushed with 1 frame", d.Action, d.Frames)
	}
	if d := feed(a, st, frameN(2), true, t0); d.Action != Dropped {
		t.Errorf("second chunk while busy: action = %s, want dropped", d.Action)
	}
	st.Complete()
	if d := feed(a, st, frameN(3), false, t0); d.Action != Ignored {
		t.Errorf("silent chunk: action = %s, want ignored", d.Action)
	}
}

func TestState_ObserveVoiceHangover(t *testing.T) {
	st := &State{}
	hang := 1500 * time.Millisecond

	st.ObserveVoice(true, t0, hang)
	if !st.Speaking || !st.SilenceStart.IsZero() {
		t.Fatalf("after speech: speaking=%v silence=%v", st.Speaking, st.SilenceStart)
	}

	st.ObserveVoice(false, t0.Add(time.Second), hang)
	if !st.Speaking || !st.SilenceStart.Equal(t0.Add(time.Second)) {
		t.Fatalf("first silence should start the timer, got speaking=%v silence=%v", st.Speaking, st.SilenceStart)
	}

	st.ObserveVoice(false, t0.Add(2*time.Second), hang)
	if !st.Speaking {
		t.Error("1s of silence is within the hangover")
	}

	st.ObserveVoice(false, t0.Add(2600*time.Millisecond), hang)
	if st.Speaking {
		t.Error("1.6s of silence should end speaking")
	}

	st.ObserveVoice(true, t0.Add(3*time.Second), hang)
	if !st.Speaking || !st.SilenceStart.IsZero() {
		t.Error("speech should clear the silence timer")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeStream, false},
		{"stream", ModeStream, false},
		{"chunk", ModeChunk, false},
		{"batch", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseMode(%q) = (%q, %v), want (%q, err=%v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
