package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// VoiceSession is the persisted record of a session.
type VoiceSession struct {
	ID        string     `json:"id"`
	Language  string     `json:"language"`
	Channel   string     `json:"channel"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason *string    `json:"end_reason,omitempty"`
	TurnCount int        `json:"turn_count"`
	MaxLevel  string     `json:"max_level"`
}

// Turn is one persisted exchange.
type Turn struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	Transcript         string    `json:"transcript"`
	Reply              string    `json:"reply"`
	EmergencyLevel     string    `json:"emergency_level"`
	RequiresHospital   bool      `json:"requires_hospital"`
	EmergencyCondition *string   `json:"emergency_condition,omitempty"`
	Fallback           bool      `json:"fallback"`
	HasAudio           bool      `json:"has_audio"`
	AudioSeconds       float64   `json:"audio_seconds"`
	CostMicros         int64     `json:"cost_micros"`
	CreatedAt          time.Time `json:"created_at"`
}

// StartSession records a new session. Restarting an id reopens its row.
func (s *Store) StartSession(ctx context.Context, id, language, channel string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO voice_sessions (id, language, channel, started_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE SET
			language = EXCLUDED.language,
			channel = EXCLUDED.channel,
			started_at = NOW(),
			ended_at = NULL,
			end_reason = NULL
	`, id, language, channel)
	return err
}

// EnsureSession records a session unless it already exists. Text chat uses it
// so turns always have a parent row.
func (s *Store) EnsureSession(ctx context.Context, id, language, channel string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO voice_sessions (id, language, channel, started_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, language, channel)
	return err
}

// EndSession stamps the end of a session.
func (s *Store) EndSession(ctx context.Context, id, reason string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE voice_sessions SET ended_at = $2, end_reason = $3
		WHERE id = $1 AND ended_at IS NULL
	`, id, at, reason)
	return err
}

// InsertTurn stores a turn, assigning an id when empty, and bumps the
// session's turn count and highest level in the same transaction.
func (s *Store) InsertTurn(ctx context.Context, t Turn, levelRank func(string) int) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO turns (id, session_id, transcript, reply, emergency_level, requires_hospital,
			emergency_condition, fallback, has_audio, audio_seconds, cost_micros)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.SessionID, t.Transcript, t.Reply, t.EmergencyLevel, t.RequiresHospital,
		t.EmergencyCondition, t.Fallback, t.HasAudio, t.AudioSeconds, t.CostMicros)
	if err != nil {
		return "", err
	}

	var maxLevel string
	err = tx.QueryRow(ctx, `SELECT max_level FROM voice_sessions WHERE id = $1 FOR UPDATE`, t.SessionID).Scan(&maxLevel)
	if err != nil {
		return "", err
	}
	if levelRank != nil && levelRank(t.EmergencyLevel) > levelRank(maxLevel) {
		maxLevel = t.EmergencyLevel
	}
	_, err = tx.Exec(ctx, `
		UPDATE voice_sessions SET turn_count = turn_count + 1, max_level = $2 WHERE id = $1
	`, t.SessionID, maxLevel)
	if err != nil {
		return "", err
	}

	return t.ID, tx.Commit(ctx)
}

// GetSession returns a persisted session.
func (s *Store) GetSession(ctx context.Context, id string) (VoiceSession, error) {
	var v VoiceSession
	err := s.db.QueryRow(ctx, `
		SELECT id, language, channel, started_at, ended_at, end_reason, turn_count, max_level
		FROM voice_sessions WHERE id = $1
	`, id).Scan(&v.ID, &v.Language, &v.Channel, &v.StartedAt, &v.EndedAt, &v.EndReason, &v.TurnCount, &v.MaxLevel)
	if errors.Is(err, pgx.ErrNoRows) {
		return VoiceSession{}, ErrNotFound
	}
	return v, err
}

// ListTurns returns the turns of a session, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, transcript, reply, emergency_level, requires_hospital,
			emergency_condition, fallback, has_audio, audio_seconds, cost_micros, created_at
		FROM turns WHERE session_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Transcript, &t.Reply, &t.EmergencyLevel, &t.RequiresHospital,
			&t.EmergencyCondition, &t.Fallback, &t.HasAudio, &t.AudioSeconds, &t.CostMicros, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
