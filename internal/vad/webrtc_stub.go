//go:build !(webrtcvad && cgo)

package vad

// WebRTC is not available in this build; compile with -tags webrtcvad and
// cgo enabled to get the bitstream detector.
type WebRTC struct{}

func NewWebRTC(mode int) (*WebRTC, error) {
	return nil, ErrUnavailable
}

func (w *WebRTC) IsSpeech(samples []int16) (bool, error) {
	return false, ErrUnavailable
}

func (w *WebRTC) Close() error { return nil }
