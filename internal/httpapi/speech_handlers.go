package httpapi

import (
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/voice"
)

const maxUploadBytes = 10 << 20

type startRequest struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	Encoding  string `json:"encoding"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Language  string `json:"language"`
	Greeting  string `json:"greeting"`
	Websocket string `json:"websocket"`
}

// handleStartSession registers a session without a transport. Turn results
// of such a session are persisted but not delivered; a later websocket
// `start` for the same id replaces it.
func (r *Router) handleStartSession(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.conns != nil && r.conns.IsDraining() {
			writeError(w, http.StatusServiceUnavailable, "server is draining")
			return
		}

		var body startRequest
		raw, err := io.ReadAll(io.LimitReader(req.Body, maxChatBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(raw) > 0 {
			if err := sonic.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		enc, err := audio.ParseEncoding(body.Encoding)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.SessionID == "" {
			body.SessionID = uuid.NewString()
		}

		st, err := r.engine.StartSession(req.Context(), body.SessionID, voice.StartOptions{
			Language: body.Language,
			Encoding: enc,
			Channel:  channel,
		})
		if err != nil {
			r.logger.Error("session: failed to start", zap.String("session_id", body.SessionID), zap.Error(err))
			captureError(req, err, "session: failed to start")
			writeError(w, http.StatusInternalServerError, "failed to start session")
			return
		}

		writeJSON(w, http.StatusOK, startResponse{
			SessionID: body.SessionID,
			Status:    "ready",
			Language:  st.Language.Code,
			Greeting:  st.Greeting,
			Websocket: "/ws/voice/" + body.SessionID,
		})
	}
}

type chatVoiceResponse struct {
	SessionID        string `json:"session_id"`
	Transcription    string `json:"transcription"`
	Response         string `json:"response"`
	Audio            string `json:"audio,omitempty"` // base64
	AudioFormat      string `json:"audio_format,omitempty"`
	EmergencyLevel   string `json:"emergency_level"`
	RequiresHospital bool   `json:"requires_hospital"`
	Language         string `json:"language"`
}

func (r *Router) handleChatVoice(w http.ResponseWriter, req *http.Request) {
	up, ok := readAudioUpload(w, req)
	if !ok {
		return
	}

	res, err := r.engine.ChatVoice(req.Context(), req.FormValue("session_id"), req.FormValue("language"), up.encoding, up.data)
	if err != nil {
		r.writeSpeechError(w, req, err, "chat_voice")
		return
	}

	out := chatVoiceResponse{
		SessionID:        res.SessionID,
		Transcription:    res.Transcript,
		Response:         res.Reply,
		EmergencyLevel:   string(res.Level),
		RequiresHospital: res.RequiresHospital,
		Language:         res.Language,
	}
	if res.Audio != nil {
		out.Audio = base64.StdEncoding.EncodeToString(res.Audio)
		out.AudioFormat = res.AudioFormat
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleTranscribe(w http.ResponseWriter, req *http.Request) {
	up, ok := readAudioUpload(w, req)
	if !ok {
		return
	}

	text, err := r.engine.Transcribe(req.Context(), req.FormValue("language"), up.encoding, up.data)
	if err != nil {
		r.writeSpeechError(w, req, err, "transcribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": text})
}

type speakRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (r *Router) handleGenerateSpeech(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxChatBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var body speakRequest
	if err := sonic.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	out, err := r.engine.Speak(req.Context(), body.Text, body.Language)
	if err != nil {
		r.logger.Error("tts: failed", zap.Error(err))
		captureError(req, err, "tts: failed to synthesize")
		writeError(w, http.StatusBadGateway, "failed to generate speech")
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(out.Format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Data)
}

func contentTypeFor(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "opus":
		return "audio/ogg"
	case "pcm":
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}

type audioUpload struct {
	data     []byte
	encoding audio.Encoding
}

// readAudioUpload reads the multipart `audio` file. It writes the error
// response itself and reports false on failure.
func readAudioUpload(w http.ResponseWriter, req *http.Request) (audioUpload, bool) {
	req.Body = http.MaxBytesReader(w, req.Body, maxUploadBytes)
	if err := req.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio file too large")
			return audioUpload{}, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return audioUpload{}, false
	}

	file, hdr, err := req.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return audioUpload{}, false
	}
	defer file.Close()

	ct := hdr.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "audio/") {
		writeError(w, http.StatusBadRequest, "file must be an audio file")
		return audioUpload{}, false
	}

	name := req.FormValue("encoding")
	if name == "" && isMulawType(ct) {
		name = "mulaw"
	}
	enc, err := audio.ParseEncoding(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return audioUpload{}, false
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read audio file")
		return audioUpload{}, false
	}
	return audioUpload{data: data, encoding: enc}, true
}

func isMulawType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.HasPrefix(ct, "audio/basic") || strings.HasPrefix(ct, "audio/pcmu") || strings.HasPrefix(ct, "audio/x-mulaw")
}

func (r *Router) writeSpeechError(w http.ResponseWriter, req *http.Request, err error, op string) {
	switch {
	case errors.Is(err, voice.ErrInvalidAudio):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, turn.ErrEmptyTranscript):
		writeError(w, http.StatusUnprocessableEntity, "no speech detected")
	default:
		r.logger.Error(op+": failed", zap.Error(err))
		captureError(req, err, op+": failed")
		writeError(w, http.StatusInternalServerError, "failed to process audio")
	}
}
