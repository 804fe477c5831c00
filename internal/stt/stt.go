package stt

import "context"

// Transcript is the recognised text of one utterance.
type Transcript struct {
	Text       string
	Confidence float64 // 0-1, zero when the provider does not report it
	Language   string  // detected language, when reported
}

// Transcriber converts a complete WAV-wrapped utterance into text.
type Transcriber interface {
	// Transcribe recognises speech in wav. locale is a hint such as "hi-IN".
	Transcribe(ctx context.Context, wav []byte, locale string) (Transcript, error)
}
