package vad

import "github.com/medimitra/voiceagent/internal/audio"

// EnergyConfig tunes the adaptive energy detector.
type EnergyConfig struct {
	HistorySize      int     // energies kept for the adaptive threshold
	MinHistory       int     // history length required before adapting
	Multiplier       float64 // threshold = Multiplier * mean(history)
	DefaultThreshold float64 // used until MinHistory is exceeded
	SmoothingWindow  int     // raw decisions kept for smoothing
	SpeechRatio      float64 // share of raw speech decisions needed
}

// DefaultEnergyConfig returns the reference tuning.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		HistorySize:      50,
		MinHistory:       10,
		Multiplier:       2.5,
		DefaultThreshold: 0.01,
		SmoothingWindow:  5,
		SpeechRatio:      0.6,
	}
}

// Energy compares RMS energy against a threshold that adapts to the noise
// floor of the stream, then smooths the raw decisions over a short window.
type Energy struct {
	cfg     EnergyConfig
	history []float64
	recent  []bool
}

func NewEnergy(cfg EnergyConfig) *Energy {
	def := DefaultEnergyConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = def.MinHistory
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = def.DefaultThreshold
	}
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = def.SmoothingWindow
	}
	if cfg.SpeechRatio <= 0 {
		cfg.SpeechRatio = def.SpeechRatio
	}
	return &Energy{
		cfg:     cfg,
		history: make([]float64, 0, cfg.HistorySize),
		recent:  make([]bool, 0, cfg.SmoothingWindow),
	}
}

func (e *Energy) IsSpeech(samples []int16) (bool, error) {
	level := audio.RMS(samples)

	// The current frame takes part in its own threshold.
	e.history = pushFloat(e.history, level, e.cfg.HistorySize)
	raw := level > e.Threshold()

	e.recent = pushBool(e.recent, raw, e.cfg.SmoothingWindow)
	voiced := 0
	for _, v := range e.recent {
		if v {
			voiced++
		}
	}
	return float64(voiced)/float64(len(e.recent)) > e.cfg.SpeechRatio, nil
}

// Threshold returns the energy level currently separating speech from noise.
func (e *Energy) Threshold() float64 {
	if len(e.history) <= e.cfg.MinHistory {
		return e.cfg.DefaultThreshold
	}
	var sum float64
	for _, v := range e.history {
		sum += v
	}
	return e.cfg.Multiplier * sum / float64(len(e.history))
}

func pushFloat(s []float64, v float64, limit int) []float64 {
	if len(s) == limit {
		copy(s, s[1:])
		s = s[:limit-1]
	}
	return append(s, v)
}

func pushBool(s []bool, v bool, limit int) []bool {
	if len(s) == limit {
		copy(s, s[1:])
		s = s[:limit-1]
	}
	return append(s, v)
}
