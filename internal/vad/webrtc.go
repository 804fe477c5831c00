//go:build webrtcvad && cgo

package vad

import (
	"encoding/binary"
	"fmt"

	"github.com/maxhawkins/go-webrtcvad"

	"github.com/medimitra/voiceagent/internal/audio"
)

// WebRTC wraps the libfvad/WebRTC bitstream classifier. It looks at the
// first 30ms of each frame.
type WebRTC struct {
	v *webrtcvad.VAD
}

func NewWebRTC(mode int) (*WebRTC, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create webrtc vad: %w", err)
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set webrtc vad mode %d: %w", mode, err)
	}
	return &WebRTC{v: v}, nil
}

func (w *WebRTC) IsSpeech(samples []int16) (bool, error) {
	if len(samples) < audio.FrameSamples {
		return false, nil
	}
	frame := make([]byte, 2*audio.FrameSamples)
	for i, s := range samples[:audio.FrameSamples] {
		binary.LittleEndian.PutUint16(frame[2*i:], uint16(s))
	}
	return w.v.Process(audio.SampleRate, frame)
}

// Close is a no-op; the underlying handle is released by its finalizer.
func (w *WebRTC) Close() error { return nil }
