package pgtracking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
)

type SessionCreateInput struct {
	TrackingID string
	OrderID    string
	ProviderID string
	CustomerID string

	ProviderLocation models.Location
	CustomerLocation models.Location
}

const sessionColumns = `
  trackingid, orderid, providerid, customerid,
  status, is_paused,
  provider_lat, provider_lng, provider_observed_at,
  customer_lat, customer_lng,
  created_at, updated_at`

func scanSession(row pgx.Row) (*models.TrackingSession, error) {
	var t models.TrackingSession
	var observedAt *time.Time
	if err := row.Scan(
		&t.TrackingID, &t.OrderID, &t.ProviderID, &t.CustomerID,
		&t.Status, &t.IsPaused,
		&t.ProviderLocation.Lat, &t.ProviderLocation.Lng, &observedAt,
		&t.CustomerLocation.Lat, &t.CustomerLocation.Lng,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if observedAt != nil {
		t.ProviderLocation.ObservedAt = *observedAt
	}
	return &t, nil
}

// CreateSession inserts the session and its "initialized" history entry in
// one transaction. The partial unique index on orderid turns a second
// active session for the same order into ErrConflict.
func (s *Storage) CreateSession(ctx context.Context, in SessionCreateInput) (*models.TrackingSession, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var observedAt *time.Time
	if !in.ProviderLocation.ObservedAt.IsZero() {
		t := in.ProviderLocation.ObservedAt.UTC()
		observedAt = &t
	}

	_, err = tx.Exec(ctx, `
INSERT INTO tracking_sessions (
  trackingid, orderid, providerid, customerid, status, is_paused,
  provider_lat, provider_lng, provider_observed_at,
  customer_lat, customer_lng, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,FALSE,$6,$7,$8,$9,$10,$11,$11)
`, in.TrackingID, in.OrderID, in.ProviderID, in.CustomerID, models.SessionStatusActive,
		in.ProviderLocation.Lat, in.ProviderLocation.Lng, observedAt,
		in.CustomerLocation.Lat, in.CustomerLocation.Lng, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, errors.Wrapf(models.ErrConflict, "active session already exists for order %s", in.OrderID)
		}
		return nil, errors.Wrap(err, "insert session")
	}

	if err := insertHistoryTx(ctx, tx, &models.HistoryEntry{
		TrackingID: in.TrackingID,
		Status:     models.HistoryInitialized,
		Timestamp:  now,
		Data:       mustJSON(map[string]any{"initial_location": in.ProviderLocation, "event": "tracking_started"}),
		CustomerID: in.CustomerID,
		OrderID:    in.OrderID,
		ProviderID: in.ProviderID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetSession(ctx, in.TrackingID)
}

func (s *Storage) GetSession(ctx context.Context, trackingID string) (*models.TrackingSession, error) {
	row := s.db.QueryRow(ctx, `SELECT`+sessionColumns+` FROM tracking_sessions WHERE trackingid = $1`, trackingID)
	t, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "session %s", trackingID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select session")
	}
	return t, nil
}

// GetSessionByOrder returns the most recent session for an order
// (there is at most one non-ended one).
func (s *Storage) GetSessionByOrder(ctx context.Context, orderID string) (*models.TrackingSession, error) {
	row := s.db.QueryRow(ctx, `
SELECT`+sessionColumns+`
FROM tracking_sessions
WHERE orderid = $1
ORDER BY created_at DESC
LIMIT 1`, orderID)
	t, err := scanSession(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "order %s", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select session by order")
	}
	return t, nil
}

// SetPaused flips the pause flag together with the status. Repeating
// the same action is idempotent: the state stays as requested and no
// extra history entry is written.
func (s *Storage) SetPaused(ctx context.Context, trackingID string, paused bool) (*models.TrackingSession, error) {
	status := models.SessionStatusActive
	event := "tracking_resumed"
	if paused {
		status = models.SessionStatusPaused
		event = "tracking_paused"
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
UPDATE tracking_sessions
SET is_paused = $2, status = $3, updated_at = $4
WHERE trackingid = $1 AND status <> 'ended' AND is_paused <> $2
RETURNING orderid, providerid, customerid
`, trackingID, paused, status, now)

	var orderID, providerID, customerID string
	if err := row.Scan(&orderID, &providerID, &customerID); err != nil {
		if err != pgx.ErrNoRows {
			return nil, errors.Wrap(err, "update pause flag")
		}
		// Либо сессии нет/завершена, либо флаг уже в нужном состоянии.
		current, err := s.GetSession(ctx, trackingID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.SessionStatusEnded {
			return nil, errors.Wrapf(models.ErrNotFound, "session %s already ended", trackingID)
		}
		return current, nil
	}

	if err := insertHistoryTx(ctx, tx, &models.HistoryEntry{
		TrackingID: trackingID,
		Status:     models.HistoryStatusChange,
		Timestamp:  now,
		Data:       mustJSON(map[string]any{"status": status, "event": event}),
		CustomerID: customerID,
		OrderID:    orderID,
		ProviderID: providerID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetSession(ctx, trackingID)
}

// UpdateProviderLocation persists the latest report. The caller is
// expected to have checked the pause flag already; the status guard here
// only protects ended sessions from stragglers.
func (s *Storage) UpdateProviderLocation(ctx context.Context, trackingID string, loc models.Location) error {
	var observedAt *time.Time
	if !loc.ObservedAt.IsZero() {
		t := loc.ObservedAt.UTC()
		observedAt = &t
	}

	tag, err := s.db.Exec(ctx, `
UPDATE tracking_sessions
SET provider_lat = $2, provider_lng = $3, provider_observed_at = $4, updated_at = now()
WHERE trackingid = $1 AND status NOT IN ('ended', 'paused')
`, trackingID, loc.Lat, loc.Lng, observedAt)
	if err != nil {
		return errors.Wrap(err, "update provider location")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(models.ErrNotFound, "active session %s", trackingID)
	}
	return nil
}

// EndSession puts the session into its terminal state and records the
// status change. Ending twice is ErrConflict; unknown id is ErrNotFound.
func (s *Storage) EndSession(ctx context.Context, trackingID, completedBy string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
UPDATE tracking_sessions
SET status = 'ended', is_paused = FALSE, updated_at = $2
WHERE trackingid = $1 AND status <> 'ended'
RETURNING orderid, providerid, customerid
`, trackingID, now)

	var orderID, providerID, customerID string
	if err := row.Scan(&orderID, &providerID, &customerID); err != nil {
		if err != pgx.ErrNoRows {
			return errors.Wrap(err, "end session")
		}
		// Either the session never existed or it is already ended.
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM tracking_sessions WHERE trackingid = $1)`, trackingID,
		).Scan(&exists); err != nil {
			return errors.Wrap(err, "check session exists")
		}
		if !exists {
			return errors.Wrapf(models.ErrNotFound, "session %s", trackingID)
		}
		return errors.Wrapf(models.ErrConflict, "session %s already ended", trackingID)
	}

	if err := insertHistoryTx(ctx, tx, &models.HistoryEntry{
		TrackingID: trackingID,
		Status:     models.HistoryStatusChange,
		Timestamp:  now,
		Data:       mustJSON(map[string]any{"status": models.SessionStatusEnded, "completed_by": completedBy}),
		CustomerID: customerID,
		OrderID:    orderID,
		ProviderID: providerID,
	}); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
