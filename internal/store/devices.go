package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CareTeamDevice is an iOS device that receives emergency escalations.
type CareTeamDevice struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	CreatedAt time.Time `json:"created_at"`
}

// RegisterDevice registers or refreshes a care team device token.
func (s *Store) RegisterDevice(ctx context.Context, owner, token, platform string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO care_team_devices (id, owner, token, platform)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token) DO UPDATE SET
			owner = EXCLUDED.owner,
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, uuid.NewString(), owner, token, platform)
	return err
}

// UnregisterDevice removes a device token.
func (s *Store) UnregisterDevice(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM care_team_devices WHERE token = $1`, token)
	return err
}

// DeviceTokens returns the tokens of every registered iOS device.
func (s *Store) DeviceTokens(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT token FROM care_team_devices WHERE platform = 'ios'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
