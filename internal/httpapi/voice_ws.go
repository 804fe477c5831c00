package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medimitra/voiceagent/internal/audio"
	"github.com/medimitra/voiceagent/internal/metrics"
	"github.com/medimitra/voiceagent/internal/protocol"
	"github.com/medimitra/voiceagent/internal/session"
	"github.com/medimitra/voiceagent/internal/turn"
	"github.com/medimitra/voiceagent/internal/voice"
)

const (
	maxMessageBytes = 8 << 20
	writeTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// voiceConn is one client connection. It is the Sink of the session it
// starts, so turn results are written back on the same socket.
type voiceConn struct {
	id     string
	engine Engine
	logger *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	greetingTimeout time.Duration
	sess            *session.Session

	ctx    context.Context
	cancel context.CancelFunc
}

func (r *Router) handleVoiceWS(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "sessionID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	if r.conns != nil {
		if !r.conns.Add() {
			r.logger.Info("voice_ws: rejecting connection, draining", zap.String("session_id", id))
			writeError(w, http.StatusServiceUnavailable, "server is draining")
			return
		}
		defer r.conns.Done()
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("voice_ws: upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	ctx, cancel := context.WithCancel(req.Context())
	c := &voiceConn{
		id:              id,
		engine:          r.engine,
		logger:          r.logger.With(zap.String("session_id", id)),
		conn:            conn,
		greetingTimeout: r.cfg.GreetingTimeout,
		ctx:             ctx,
		cancel:          cancel,
	}

	c.logger.Info("voice_ws: connection established, waiting for start message")
	c.run()
}

func (c *voiceConn) run() {
	defer c.cleanup()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("voice_ws: connection closed")
			} else {
				c.logger.Warn("voice_ws: read error", zap.Error(err))
			}
			return
		}

		in, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Warn("voice_ws: bad message", zap.Error(err))
			c.sendError(err.Error())
			continue
		}

		switch in.Type {
		case protocol.TypeStart:
			c.handleStart(in)
		case protocol.TypeAudio:
			c.handleAudio(in)
		case protocol.TypeText:
			c.handleText(in)
		case protocol.TypeEnd:
			c.handleEnd()
		case protocol.TypeStatus:
			c.handleStatus()
		}
	}
}

func (c *voiceConn) handleStart(in protocol.Inbound) {
	enc, err := audio.ParseEncoding(in.Encoding)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	st, err := c.engine.StartSession(c.ctx, c.id, voice.StartOptions{
		Language: in.Language,
		Encoding: enc,
		Sink:     c,
		Channel:  "voice",
	})
	if err != nil {
		c.logger.Error("voice_ws: failed to start session", zap.Error(err))
		c.sendError("failed to start session")
		return
	}
	c.sess = st.Session

	c.send(protocol.NewSessionStarted(c.id, st.Language.Code, st.Greeting))
	go c.speakGreeting(st)
}

// speakGreeting is best effort: the text greeting was already sent.
func (c *voiceConn) speakGreeting(st voice.Started) {
	ctx, cancel := context.WithTimeout(c.ctx, c.greetingTimeout)
	defer cancel()

	out, err := c.engine.SpeakGreeting(ctx, st)
	if err != nil {
		c.logger.Warn("voice_ws: greeting synthesis failed", zap.Error(err))
		return
	}
	c.send(protocol.NewAudioResponse(out.Data, st.Greeting, st.Language.Code))
}

func (c *voiceConn) handleAudio(in protocol.Inbound) {
	chunk, err := in.Audio()
	if err != nil {
		c.sendError(err.Error())
		return
	}

	res, err := c.engine.HandleAudio(c.id, chunk)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.sendError("session not started")
			return
		}
		c.logger.Debug("voice_ws: audio rejected", zap.Error(err))
		c.sendError(err.Error())
		return
	}
	c.send(protocol.NewAudioProcessed(res.VoiceDetected, res.Processing, res.Timestamp))
}

func (c *voiceConn) handleText(in protocol.Inbound) {
	err := c.engine.HandleText(c.id, in.Message)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		c.sendError("session not started")
	case errors.Is(err, voice.ErrBusy):
		c.sendError("still processing the previous message or speech in progress")
	case errors.Is(err, voice.ErrShuttingDown):
		c.sendError("server is shutting down")
	default:
		c.sendError(err.Error())
	}
}

func (c *voiceConn) handleEnd() {
	if err := c.engine.EndSession(c.id); err != nil && !errors.Is(err, session.ErrNotFound) {
		c.logger.Warn("voice_ws: end failed", zap.Error(err))
	}
	c.sess = nil
	c.send(protocol.NewSessionEnded(c.id))
}

func (c *voiceConn) handleStatus() {
	st, err := c.engine.Status(c.id)
	if err != nil {
		c.sendError("session not found")
		return
	}
	c.send(protocol.NewStatusUpdate(st))
}

// TurnCompleted implements session.Sink.
func (c *voiceConn) TurnCompleted(res *turn.Result) {
	c.send(protocol.NewConversationResponse(
		res.Transcript,
		res.Reply,
		res.Audio,
		string(res.Level),
		res.RequiresHospital,
		res.Language,
	))
}

// TurnFailed implements session.Sink.
func (c *voiceConn) TurnFailed(err error) {
	c.logger.Warn("voice_ws: turn failed", zap.Error(err))
	c.sendError("failed to process audio")
}

func (c *voiceConn) sendError(msg string) {
	c.send(protocol.NewError(msg))
}

func (c *voiceConn) send(v any) {
	body, err := protocol.Encode(v)
	if err != nil {
		c.logger.Error("voice_ws: failed to encode message", zap.Error(err))
		return
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.logger.Debug("voice_ws: write failed", zap.Error(err))
	}
}

func (c *voiceConn) cleanup() {
	c.cancel()

	// The session dies with its connection unless a newer connection has
	// already taken over the id.
	if c.sess != nil {
		c.engine.Disconnect(c.sess)
	}

	c.connMu.Lock()
	c.conn.Close()
	c.connMu.Unlock()

	c.logger.Info("voice_ws: connection cleaned up")
}
