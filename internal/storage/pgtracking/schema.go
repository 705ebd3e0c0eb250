package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_sessions (
  trackingid TEXT PRIMARY KEY,
  orderid TEXT NOT NULL,
  providerid TEXT NOT NULL,
  customerid TEXT NOT NULL,
  status TEXT NOT NULL,
  is_paused BOOLEAN NOT NULL DEFAULT FALSE,
  provider_lat DOUBLE PRECISION NOT NULL,
  provider_lng DOUBLE PRECISION NOT NULL,
  provider_observed_at TIMESTAMPTZ NULL,
  customer_lat DOUBLE PRECISION NOT NULL,
  customer_lng DOUBLE PRECISION NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Ровно одна незавершённая сессия на заказ.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_sessions_active_order
  ON tracking_sessions(orderid) WHERE status <> 'ended'`,
		`
CREATE TABLE IF NOT EXISTS tracking_history (
  id BIGSERIAL PRIMARY KEY,
  trackingid TEXT NOT NULL,
  status TEXT NOT NULL,
  ts TIMESTAMPTZ NOT NULL,
  data JSONB NULL,
  milestone_meters BIGINT NOT NULL DEFAULT 0,
  customerid TEXT NOT NULL DEFAULT '',
  orderid TEXT NOT NULL DEFAULT '',
  providerid TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_history_trackingid_ts
  ON tracking_history(trackingid, ts DESC)`,
		// De-duplication of one-shot detector events: a given milestone
		// (and the single proximity crossing, milestone_meters=0) may be
		// recorded at most once per session.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_history_threshold
  ON tracking_history(trackingid, status, milestone_meters)
  WHERE status IN ('milestone', 'proximity')`,
		`
CREATE TABLE IF NOT EXISTS inapp_messages (
  messageid BIGSERIAL PRIMARY KEY,
  orderid TEXT NOT NULL,
  senderid TEXT NOT NULL,
  receiverid TEXT NOT NULL,
  threadid TEXT NOT NULL,
  messagetext TEXT NOT NULL,
  timerequested TIMESTAMPTZ NOT NULL,
  timesent TIMESTAMPTZ NULL,
  timereceived TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_inapp_messages_receiver
  ON inapp_messages(receiverid, timerequested DESC)`,
		`
CREATE TABLE IF NOT EXISTS push_connections (
  connectionid TEXT PRIMARY KEY,
  userid TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  connected_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_push_connections_userid
  ON push_connections(userid, connected_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS emergency_alerts (
  alertid TEXT PRIMARY KEY,
  providerid TEXT NOT NULL,
  orderid TEXT NULL,
  alerttype TEXT NOT NULL,
  description TEXT NOT NULL,
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS users (
  userid TEXT PRIMARY KEY,
  firstname TEXT NOT NULL DEFAULT '',
  phone TEXT NOT NULL DEFAULT '',
  email TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'customer',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  lat DOUBLE PRECISION NOT NULL DEFAULT 0,
  lng DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
