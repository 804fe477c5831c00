package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/language"
	"github.com/medimitra/voiceagent/internal/session"
	"github.com/medimitra/voiceagent/internal/turn"
)

const maxChatBody = 64 << 10

func (r *Router) handleVoiceStatus(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "sessionID")
	st, err := r.engine.Status(id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (r *Router) handleVoiceEnd(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "sessionID")
	if err := r.engine.EndSession(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended", "session_id": id})
}

type chatRequest struct {
	Message   string `json:"message"`
	Language  string `json:"language"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	SessionID        string `json:"session_id"`
	Response         string `json:"response"`
	EmergencyLevel   string `json:"emergency_level"`
	RequiresHospital bool   `json:"requires_hospital"`
	Language         string `json:"language"`
}

func (r *Router) handleChatText(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxChatBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var body chatRequest
	if err := sonic.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := r.engine.Chat(req.Context(), body.SessionID, body.Language, body.Message)
	if err != nil {
		if errors.Is(err, turn.ErrEmptyTranscript) {
			writeError(w, http.StatusBadRequest, "message is required")
			return
		}
		r.logger.Error("chat: failed", zap.Error(err))
		captureError(req, err, "chat: failed to answer")
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID:        res.SessionID,
		Response:         res.Reply,
		EmergencyLevel:   string(res.Level),
		RequiresHospital: res.RequiresHospital,
		Language:         res.Language,
	})
}

func (r *Router) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	type lang struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	all := language.All()
	out := make([]lang, 0, len(all))
	for _, l := range all {
		out = append(out, lang{Code: l.Code, Name: l.Name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": out, "default": language.Default})
}
