package pgtracking

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
)

func (s *Storage) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(ctx, `
SELECT userid, firstname, phone, email, role, is_active
FROM users
WHERE userid = $1
`, userID).Scan(&u.UserID, &u.FirstName, &u.Phone, &u.Email, &u.Role, &u.IsActive)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user")
	}
	return &u, nil
}

// CustomerDestination returns the fixed service address coordinates
// from the customer's profile. The profile subsystem maintains them;
// tracking reads them once, at session initialization.
func (s *Storage) CustomerDestination(ctx context.Context, userID string) (models.Location, error) {
	var loc models.Location
	err := s.db.QueryRow(ctx,
		`SELECT lat, lng FROM users WHERE userid = $1`, userID,
	).Scan(&loc.Lat, &loc.Lng)
	if err == pgx.ErrNoRows {
		return models.Location{}, errors.Wrapf(models.ErrNotFound, "user %s", userID)
	}
	if err != nil {
		return models.Location{}, errors.Wrap(err, "select destination")
	}
	if !loc.Valid() {
		return models.Location{}, errors.Wrapf(models.ErrNotFound, "destination for user %s", userID)
	}
	return loc, nil
}

// ActiveAdmins lists the recipients of unconditional emergency fan-out.
func (s *Storage) ActiveAdmins(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.Query(ctx, `
SELECT userid, firstname, phone, email, role, is_active
FROM users
WHERE role = $1 AND is_active = TRUE
`, models.RoleAdmin)
	if err != nil {
		return nil, errors.Wrap(err, "select admins")
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UserID, &u.FirstName, &u.Phone, &u.Email, &u.Role, &u.IsActive); err != nil {
			return nil, errors.Wrap(err, "scan admin")
		}
		out = append(out, &u)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
