package tts

import "context"

// Audio is synthesised speech ready to send to a client.
type Audio struct {
	Data   []byte
	Format string // container/codec, e.g. "mp3"
}

// Synthesizer converts reply text into speech in the given language.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (Audio, error)
}
