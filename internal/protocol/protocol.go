// Package protocol defines the JSON messages exchanged on the voice WebSocket.
package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Inbound message types.
const (
	TypeStart  = "start"
	TypeAudio  = "audio"
	TypeText   = "text"
	TypeEnd    = "end"
	TypeStatus = "status"
)

// Outbound message types.
const (
	TypeSessionStarted       = "session_started"
	TypeAudioResponse        = "audio_response"
	TypeAudioProcessed       = "audio_processed"
	TypeConversationResponse = "conversation_response"
	TypeStatusUpdate         = "status_update"
	TypeSessionEnded         = "session_ended"
	TypeError                = "error"
)

// ErrMalformed wraps every decoding failure.
var ErrMalformed = errors.New("malformed message")

// Inbound is any client message. Fields not used by Type are empty.
type Inbound struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
	Encoding string `json:"encoding,omitempty"`
	Data     string `json:"data,omitempty"`    // base64 audio
	Message  string `json:"message,omitempty"` // typed text
}

// Decode parses and validates one client message.
func Decode(raw []byte) (Inbound, error) {
	var in Inbound
	if err := sonic.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch in.Type {
	case TypeStart, TypeEnd, TypeStatus:
	case TypeAudio:
		if in.Data == "" {
			return Inbound{}, fmt.Errorf("%w: audio message without data", ErrMalformed)
		}
	case TypeText:
		if in.Message == "" {
			return Inbound{}, fmt.Errorf("%w: text message without message", ErrMalformed)
		}
	case "":
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Inbound{}, fmt.Errorf("%w: unknown type %q", ErrMalformed, in.Type)
	}
	return in, nil
}

// Audio returns the decoded payload of an audio message.
func (in Inbound) Audio() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(in.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 audio: %v", ErrMalformed, err)
	}
	return b, nil
}

type SessionStarted struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Language  string `json:"language"`
	Greeting  string `json:"greeting"`
}

type AudioResponse struct {
	Type     string `json:"type"`
	Audio    string `json:"audio"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

type AudioProcessed struct {
	Type          string  `json:"type"`
	VoiceDetected bool    `json:"voice_detected"`
	IsProcessing  bool    `json:"is_processing"`
	Timestamp     float64 `json:"timestamp"` // unix seconds
}

type ConversationResponse struct {
	Type             string `json:"type"`
	Transcription    string `json:"transcription"`
	AIResponse       string `json:"ai_response"`
	AudioResponse    string `json:"audio_response,omitempty"`
	EmergencyLevel   string `json:"emergency_level"`
	RequiresHospital bool   `json:"requires_hospital"`
	Language         string `json:"language"`
}

type StatusUpdate struct {
	Type   string `json:"type"`
	Status any    `json:"status"`
}

type SessionEnded struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewSessionStarted(id, lang, greeting string) SessionStarted {
	return SessionStarted{Type: TypeSessionStarted, SessionID: id, Status: "connected", Language: lang, Greeting: greeting}
}

func NewAudioResponse(audio []byte, text, lang string) AudioResponse {
	return AudioResponse{Type: TypeAudioResponse, Audio: base64.StdEncoding.EncodeToString(audio), Text: text, Language: lang}
}

func NewAudioProcessed(voiced, processing bool, at time.Time) AudioProcessed {
	return AudioProcessed{
		Type:          TypeAudioProcessed,
		VoiceDetected: voiced,
		IsProcessing:  processing,
		Timestamp:     float64(at.UnixMilli()) / 1000,
	}
}

// NewConversationResponse builds a turn reply. audio may be nil.
func NewConversationResponse(transcript, reply string, audio []byte, level string, hospital bool, lang string) ConversationResponse {
	out := ConversationResponse{
		Type:             TypeConversationResponse,
		Transcription:    transcript,
		AIResponse:       reply,
		EmergencyLevel:   level,
		RequiresHospital: hospital,
		Language:         lang,
	}
	if len(audio) > 0 {
		out.AudioResponse = base64.StdEncoding.EncodeToString(audio)
	}
	return out
}

func NewStatusUpdate(status any) StatusUpdate {
	return StatusUpdate{Type: TypeStatusUpdate, Status: status}
}

func NewSessionEnded(id string) SessionEnded {
	return SessionEnded{Type: TypeSessionEnded, Status: "ended", SessionID: id}
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Error: msg}
}

// Encode serialises an outbound message.
func Encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}
