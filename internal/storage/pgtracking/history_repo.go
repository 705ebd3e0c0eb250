package pgtracking

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
)

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func insertHistoryTx(ctx context.Context, tx pgx.Tx, e *models.HistoryEntry) error {
	_, err := tx.Exec(ctx, `
INSERT INTO tracking_history (trackingid, status, ts, data, milestone_meters, customerid, orderid, providerid)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, e.TrackingID, e.Status, e.Timestamp.UTC(), e.Data, 0, e.CustomerID, e.OrderID, e.ProviderID)
	return errors.Wrap(err, "insert history")
}

// AppendHistory records one event. For milestone/proximity entries the
// threshold dedup index makes the append idempotent: a repeat crossing
// inserts nothing and reports fired=false.
func (s *Storage) AppendHistory(ctx context.Context, e *models.HistoryEntry, milestoneMeters int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO tracking_history (trackingid, status, ts, data, milestone_meters, customerid, orderid, providerid)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT DO NOTHING
`, e.TrackingID, e.Status, e.Timestamp.UTC(), e.Data, milestoneMeters, e.CustomerID, e.OrderID, e.ProviderID)
	if err != nil {
		return false, errors.Wrap(err, "insert history")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) ListHistory(ctx context.Context, trackingID string, limit int) ([]*models.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
SELECT id, trackingid, status, ts, data, customerid, orderid, providerid
FROM tracking_history
WHERE trackingid = $1
ORDER BY ts DESC
LIMIT $2
`, trackingID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.TrackingID, &e.Status, &e.Timestamp, &e.Data,
			&e.CustomerID, &e.OrderID, &e.ProviderID,
		); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// LatestEtaEntries returns up to limit eta_calculated entries, newest
// first. The detector diffs entry 0 against entry 1.
func (s *Storage) LatestEtaEntries(ctx context.Context, trackingID string, limit int) ([]*models.HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, trackingid, status, ts, data, customerid, orderid, providerid
FROM tracking_history
WHERE trackingid = $1 AND status = 'eta_calculated'
ORDER BY ts DESC
LIMIT $2
`, trackingID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select eta entries")
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.TrackingID, &e.Status, &e.Timestamp, &e.Data,
			&e.CustomerID, &e.OrderID, &e.ProviderID,
		); err != nil {
			return nil, errors.Wrap(err, "scan eta entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// HasThresholdFired reports whether a milestone/proximity event of this
// exact kind was already recorded for the session. Units of work are
// stateless between invocations, so the history log is the idempotency
// source, not in-memory flags.
func (s *Storage) HasThresholdFired(ctx context.Context, trackingID, status string, milestoneMeters int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM tracking_history
  WHERE trackingid = $1 AND status = $2 AND milestone_meters = $3
)`, trackingID, status, milestoneMeters).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "check threshold fired")
	}
	return exists, nil
}
