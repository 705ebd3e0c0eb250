package pgtracking

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
)

// CreateAlert persists the alert row. Durability comes first: fan-out
// happens downstream and never rolls this back.
func (s *Storage) CreateAlert(ctx context.Context, a *models.EmergencyAlert) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO emergency_alerts (alertid, providerid, orderid, alerttype, description, lat, lng, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, a.AlertID, a.ProviderID, a.OrderID, a.AlertType, a.Description,
		a.Location.Lat, a.Location.Lng, a.Status, a.CreatedAt.UTC())
	return errors.Wrap(err, "insert alert")
}

func (s *Storage) GetAlert(ctx context.Context, alertID string) (*models.EmergencyAlert, error) {
	var a models.EmergencyAlert
	err := s.db.QueryRow(ctx, `
SELECT alertid, providerid, orderid, alerttype, description, lat, lng, status, created_at
FROM emergency_alerts
WHERE alertid = $1
`, alertID).Scan(
		&a.AlertID, &a.ProviderID, &a.OrderID, &a.AlertType, &a.Description,
		&a.Location.Lat, &a.Location.Lng, &a.Status, &a.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "alert %s", alertID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select alert")
	}
	return &a, nil
}
