package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/zaf/g711"
)

const (
	// SampleRate is the rate every inbound stream is expected to use.
	SampleRate = 16000
	// FrameSamples is one 30ms detector frame at SampleRate.
	FrameSamples = SampleRate * 30 / 1000
)

// Encoding names the wire format of inbound audio chunks.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm16"
	EncodingMulaw Encoding = "mulaw"
)

// ParseEncoding maps a client supplied encoding name, defaulting to PCM16.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "pcm16", "pcm", "linear16":
		return EncodingPCM16, nil
	case "mulaw", "ulaw", "g711":
		return EncodingMulaw, nil
	default:
		return "", fmt.Errorf("unsupported audio encoding %q", s)
	}
}

// ErrEmptyChunk is returned when a decoded chunk carries no samples.
var ErrEmptyChunk = errors.New("audio chunk is empty")

// Decode converts a raw chunk into little-endian PCM16 bytes.
// WAV containers are unwrapped and a trailing odd byte is dropped.
func Decode(chunk []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingMulaw:
		if len(chunk) == 0 {
			return nil, ErrEmptyChunk
		}
		return g711.DecodeUlaw(chunk), nil
	case EncodingPCM16, "":
		pcm, err := StripWAVHeader(chunk)
		if err != nil {
			return nil, err
		}
		pcm = pcm[:len(pcm)-len(pcm)%2]
		if len(pcm) == 0 {
			return nil, ErrEmptyChunk
		}
		return pcm, nil
	default:
		return nil, fmt.Errorf("unsupported audio encoding %q", enc)
	}
}

// Samples reinterprets little-endian PCM16 bytes as samples.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// RMS returns the root mean square of the samples normalised to [-1, 1].
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Duration reports how long the PCM16 mono data plays at SampleRate.
func Duration(pcm []byte) float64 {
	return float64(len(pcm)/2) / float64(SampleRate)
}

// WrapWAV prefixes mono PCM16 data with a canonical 44-byte RIFF header.
func WrapWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM data must have even length")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}

	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// StripWAVHeader returns the data chunk of a RIFF/WAVE payload, or the input
// unchanged when it is not a WAV file.
func StripWAVHeader(chunk []byte) ([]byte, error) {
	if len(chunk) < 12 || !bytes.HasPrefix(chunk, []byte("RIFF")) || !bytes.Equal(chunk[8:12], []byte("WAVE")) {
		return chunk, nil
	}

	i := 12
	for i+8 <= len(chunk) {
		id := string(chunk[i : i+4])
		size := int(binary.LittleEndian.Uint32(chunk[i+4 : i+8]))
		next := i + 8 + size
		if id == "data" {
			if next > len(chunk) {
				return nil, errors.New("invalid WAV: data chunk exceeds buffer length")
			}
			return chunk[i+8 : next], nil
		}
		if size%2 != 0 {
			next++
		}
		i = next
	}
	return nil, errors.New("invalid WAV: data chunk not found")
}
