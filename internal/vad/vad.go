// Package vad decides whether a short frame of PCM16 audio contains speech.
package vad

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrUnavailable is returned by detectors that were not compiled in.
var ErrUnavailable = errors.New("vad: detector unavailable")

// Detector classifies one frame. Implementations may keep per-stream state
// and are not safe for concurrent use; callers serialise frames of a session.
type Detector interface {
	IsSpeech(samples []int16) (bool, error)
}

type anyOf []Detector

// Any combines detectors with a logical OR. Every detector sees every frame
// so stateful detectors keep their history in step.
func Any(detectors ...Detector) Detector {
	if len(detectors) == 1 {
		return detectors[0]
	}
	return anyOf(detectors)
}

// IsSpeech reports speech when any healthy detector does. A failing
// detector does not veto the others; the joined error is returned only
// when every detector failed.
func (a anyOf) IsSpeech(samples []int16) (bool, error) {
	speech := false
	var errs []error
	for _, d := range a {
		ok, err := d.IsSpeech(samples)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		speech = speech || ok
	}
	if len(errs) == len(a) {
		return false, errors.Join(errs...)
	}
	return speech, nil
}

// Classify runs d over the frame and never fails: errors and panics inside
// the detector are logged and the frame counts as non-speech.
func Classify(d Detector, samples []int16, logger *zap.Logger) (speech bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("vad: detector panicked", zap.Any("panic", r))
			speech = false
		}
	}()

	ok, err := d.IsSpeech(samples)
	if err != nil {
		logger.Warn("vad: classification failed", zap.Error(err))
		return false
	}
	return ok
}

// Config selects and tunes the detectors built for each session.
type Config struct {
	Energy EnergyConfig
	// WebRTC enables the bitstream detector when it is compiled in.
	WebRTC bool
	// WebRTCMode is the aggressiveness, 0 (least) to 3 (most).
	WebRTCMode int
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		Energy:     DefaultEnergyConfig(),
		WebRTC:     true,
		WebRTCMode: 2,
	}
}

// Factory builds a fresh detector chain for every session. The choice of
// detectors is made once, when the factory is constructed.
type Factory struct {
	cfg       Config
	useWebRTC bool
}

// NewFactory checks that the optional detectors can be built and logs which
// ones are in use.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	f := &Factory{cfg: cfg}
	if cfg.WebRTC {
		trial, err := NewWebRTC(cfg.WebRTCMode)
		switch {
		case err == nil:
			f.useWebRTC = true
			_ = trial.Close()
		case errors.Is(err, ErrUnavailable):
			logger.Info("vad: webrtc detector not compiled in, using energy detector only")
		default:
			logger.Warn("vad: webrtc detector init failed, using energy detector only", zap.Error(err))
		}
	}
	logger.Info("vad: detectors selected",
		zap.Bool("energy", true),
		zap.Bool("webrtc", f.useWebRTC),
	)
	return f
}

// UsesWebRTC reports whether sessions get the bitstream detector.
func (f *Factory) UsesWebRTC() bool { return f.useWebRTC }

// New returns the detector chain for one session.
func (f *Factory) New() (Detector, error) {
	energy := NewEnergy(f.cfg.Energy)
	if !f.useWebRTC {
		return energy, nil
	}
	w, err := NewWebRTC(f.cfg.WebRTCMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create webrtc detector: %w", err)
	}
	return Any(energy, w), nil
}
