package vad

import (
	"errors"
	"testing"

	"go.uber.org/zap"
)

func frame(amplitude int16, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}

func TestEnergy_SilenceNeverSpeech(t *testing.T) {
	e := NewEnergy(DefaultEnergyConfig())
	for i := 0; i < 100; i++ {
		ok, err := e.IsSpeech(frame(0, 480))
		if err != nil {
			t.Fatalf("IsSpeech() error = %v", err)
		}
		if ok {
			t.Fatalf("frame %d: silence classified as speech", i)
		}
	}
}

func TestEnergy_SmoothingNeedsMajority(t *testing.T) {
	e := NewEnergy(DefaultEnergyConfig())
	loud := frame(8000, 480) // rms ~0.244, well above the 0.01 default

	// Raw decisions: T, T, T -> ratios 1, 1, 1 but the first frame alone is 1/1.
	got, _ := e.IsSpeech(loud)
	if !got {
		t.Error("first loud frame: want speech (1/1 > 0.6)")
	}

	e = NewEnergy(DefaultEnergyConfig())
	_, _ = e.IsSpeech(frame(0, 480))
	_, _ = e.IsSpeech(frame(0, 480))
	got, _ = e.IsSpeech(loud) // 1/3
	if got {
		t.Error("1 of 3 voiced: want non-speech")
	}
	got, _ = e.IsSpeech(loud) // 2/4
	if got {
		t.Error("2 of 4 voiced: want non-speech")
	}
	got, _ = e.IsSpeech(loud) // 3/5
	if got {
		t.Error("3 of 5 voiced is exactly 0.6: want non-speech")
	}
	got, _ = e.IsSpeech(loud) // window now F,T,T,T,T
	if !got {
		t.Error("4 of 5 voiced: want speech")
	}
}

func TestEnergy_ThresholdAdapts(t *testing.T) {
	e := NewEnergy(DefaultEnergyConfig())
	if th := e.Threshold(); th != 0.01 {
		t.Fatalf("initial Threshold() = %f, want 0.01", th)
	}

	// Steady noise at rms ~0.0305 with 11+ samples: threshold becomes 2.5x that.
	noise := frame(1000, 480)
	for i := 0; i < 11; i++ {
		_, _ = e.IsSpeech(noise)
	}
	th := e.Threshold()
	if th < 0.07 || th > 0.08 {
		t.Errorf("adapted Threshold() = %f, want ~0.076", th)
	}

	// Noise alone no longer counts as speech once the window refills.
	for i := 0; i < 5; i++ {
		_, _ = e.IsSpeech(noise)
	}
	if ok, _ := e.IsSpeech(noise); ok {
		t.Error("steady noise floor should be classified as non-speech")
	}
}

func TestEnergy_HistoryIsBounded(t *testing.T) {
	e := NewEnergy(DefaultEnergyConfig())
	for i := 0; i < 200; i++ {
		_, _ = e.IsSpeech(frame(100, 480))
	}
	if len(e.history) != 50 {
		t.Errorf("len(history) = %d, want 50", len(e.history))
	}
	if len(e.recent) != 5 {
		t.Errorf("len(recent) = %d, want 5", len(e.recent))
	}
}

type stubDetector struct {
	speech bool
	err    error
	calls  int
}

func (s *stubDetector) IsSpeech([]int16) (bool, error) {
	s.calls++
	return s.speech, s.err
}

type panicDetector struct{}

func (panicDetector) IsSpeech([]int16) (bool, error) { panic("boom") }

func TestAny(t *testing.T) {
	tests := []struct {
		name string
		a, b bool
		want bool
	}{
		{"neither", false, false, false},
		{"first", true, false, true},
		{"second", false, true, true},
		{"both", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &stubDetector{speech: tt.a}
			b := &stubDetector{speech: tt.b}
			got, err := Any(a, b).IsSpeech(nil)
			if err != nil {
				t.Fatalf("IsSpeech() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsSpeech() = %v, want %v", got, tt.want)
			}
			if a.calls != 1 || b.calls != 1 {
				t.Errorf("calls = %d,%d, want every detector called once", a.calls, b.calls)
			}
		})
	}
}

func TestAny_FailingDetectorDoesNotVeto(t *testing.T) {
	bad := errors.New("webrtc: invalid frame length")
	logger := zap.NewNop()

	tests := []struct {
		name    string
		energy  *stubDetector
		webrtc  *stubDetector
		want    bool
		wantErr bool
	}{
		{"energy speech, webrtc error", &stubDetector{speech: true}, &stubDetector{err: bad}, true, false},
		{"energy silence, webrtc error", &stubDetector{}, &stubDetector{err: bad}, false, false},
		{"energy error, webrtc speech", &stubDetector{err: bad}, &stubDetector{speech: true}, true, false},
		{"both fail", &stubDetector{err: bad}, &stubDetector{err: bad}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Any(tt.energy, tt.webrtc)
			got, err := d.IsSpeech(nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsSpeech() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsSpeech() = %v, want %v", got, tt.want)
			}
			if c := Classify(d, nil, logger); c != tt.want {
				t.Errorf("Classify() = %v, want %v", c, tt.want)
			}
		})
	}
}

func TestClassify_FailuresAreNonSpeech(t *testing.T) {
	logger := zap.NewNop()

	if Classify(&stubDetector{speech: true, err: errors.New("bad frame")}, nil, logger) {
		t.Error("detector error should yield non-speech")
	}
	if Classify(panicDetector{}, nil, logger) {
		t.Error("detector panic should yield non-speech")
	}
	if !Classify(&stubDetector{speech: true}, nil, logger) {
		t.Error("healthy detector verdict should pass through")
	}
}

func TestFactory_FallsBackToEnergy(t *testing.T) {
	f := NewFactory(DefaultConfig(), zap.NewNop())
	d, err := f.New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !f.UsesWebRTC() {
		if _, ok := d.(*Energy); !ok {
			t.Errorf("detector = %T, want *Energy when webrtc is unavailable", d)
		}
	}

	cfg := DefaultConfig()
	cfg.WebRTC = false
	d, err = NewFactory(cfg, zap.NewNop()).New()
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := d.(*Energy); !ok {
		t.Errorf("detector = %T, want *Energy when webrtc is disabled", d)
	}
}
