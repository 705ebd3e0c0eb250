package pgtracking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
)

func (s *Storage) RegisterConnection(ctx context.Context, connectionID, userID string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO push_connections (connectionid, userid, active, connected_at)
VALUES ($1,$2,TRUE,$3)
ON CONFLICT (connectionid) DO UPDATE SET active = TRUE, connected_at = EXCLUDED.connected_at
`, connectionID, userID, time.Now().UTC())
	return errors.Wrap(err, "register connection")
}

// ActiveConnection returns the user's most recent live channel, or nil
// when none is registered. Absence is not an error: the customer simply
// reads the message from history on next open.
func (s *Storage) ActiveConnection(ctx context.Context, userID string) (*models.PushConnection, error) {
	var c models.PushConnection
	err := s.db.QueryRow(ctx, `
SELECT connectionid, userid, active, connected_at
FROM push_connections
WHERE userid = $1 AND active = TRUE
ORDER BY connected_at DESC
LIMIT 1
`, userID).Scan(&c.ConnectionID, &c.UserID, &c.Active, &c.ConnectedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active connection")
	}
	return &c, nil
}

func (s *Storage) MarkConnectionInactive(ctx context.Context, connectionID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE push_connections SET active = FALSE WHERE connectionid = $1`, connectionID)
	return errors.Wrap(err, "mark connection inactive")
}
