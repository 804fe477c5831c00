package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/store"
)

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	id := chi.URLParam(req, "sessionID")
	s, err := r.store.GetSession(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (r *Router) handleListTurns(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	id := chi.URLParam(req, "sessionID")

	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	turns, err := r.store.ListTurns(req.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if turns == nil {
		turns = []store.Turn{}
	}
	writeJSON(w, http.StatusOK, turns)
}

type deviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func (r *Router) decodeDevice(w http.ResponseWriter, req *http.Request) (deviceRequest, bool) {
	var body deviceRequest
	raw, err := io.ReadAll(io.LimitReader(req.Body, 4096))
	if err != nil || sonic.Unmarshal(raw, &body) != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return body, false
	}
	if body.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return body, false
	}
	return body, true
}

// handleDeviceRegister registers a care team device for emergency pushes.
func (r *Router) handleDeviceRegister(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	body, ok := r.decodeDevice(w, req)
	if !ok {
		return
	}
	if body.Platform != "ios" {
		writeError(w, http.StatusBadRequest, "platform must be 'ios'")
		return
	}

	owner := "anonymous"
	if c := getClient(req.Context()); c != nil {
		owner = c.ID
	}
	if err := r.store.RegisterDevice(req.Context(), owner, body.Token, body.Platform); err != nil {
		r.logger.Error("devices: failed to register token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register token")
		return
	}

	r.logger.Info("devices: registered", zap.String("owner", owner), zap.String("platform", body.Platform))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (r *Router) handleDeviceUnregister(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence disabled")
		return
	}
	body, ok := r.decodeDevice(w, req)
	if !ok {
		return
	}
	if err := r.store.UnregisterDevice(req.Context(), body.Token); err != nil {
		r.logger.Error("devices: failed to unregister token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unregister token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
