package eventlog

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventUtteranceFlushed  EventType = "utterance_flushed"
	EventUtteranceDropped  EventType = "utterance_discarded"
	EventTranscribed       EventType = "transcribed"
	EventEmptyTranscript   EventType = "empty_transcript"
	EventReplyFallback     EventType = "reply_fallback"
	EventSynthesisFailed   EventType = "synthesis_failed"
	EventTurnCompleted     EventType = "turn_completed"
	EventTurnFailed        EventType = "turn_failed"
	EventStaleResult       EventType = "stale_result"
	EventEmergencyDetected EventType = "emergency_detected"
	EventTextMessage       EventType = "text_message"
	EventSessionEnded      EventType = "session_ended"
)

// Logger writes session events to the database.
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger. A nil pool disables logging.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil
	}

	dataJSON, err := sonic.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}
