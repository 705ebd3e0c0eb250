package pgtracking

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/models"
)

// CreateMessage persists an in-app message row and returns its id.
// TimeSent/TimeReceived stay NULL until delivery bookkeeping fills them.
func (s *Storage) CreateMessage(ctx context.Context, m *models.InAppMessage) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO inapp_messages (orderid, senderid, receiverid, threadid, messagetext, timerequested)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING messageid
`, m.OrderID, m.SenderID, m.ReceiverID, m.ThreadID, m.Text, m.TimeRequested.UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert inapp message")
	}
	return id, nil
}

func (s *Storage) MarkMessageSent(ctx context.Context, messageID uint64, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE inapp_messages SET timesent = $2 WHERE messageid = $1`, messageID, at.UTC())
	return errors.Wrap(err, "mark message sent")
}

// MarkMessageReceived is called only on confirmed push delivery.
func (s *Storage) MarkMessageReceived(ctx context.Context, messageID uint64, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE inapp_messages SET timereceived = $2 WHERE messageid = $1`, messageID, at.UTC())
	return errors.Wrap(err, "mark message received")
}

func (s *Storage) GetMessage(ctx context.Context, messageID uint64) (*models.InAppMessage, error) {
	var m models.InAppMessage
	err := s.db.QueryRow(ctx, `
SELECT messageid, orderid, senderid, receiverid, threadid, messagetext, timerequested, timesent, timereceived
FROM inapp_messages
WHERE messageid = $1
`, messageID).Scan(
		&m.MessageID, &m.OrderID, &m.SenderID, &m.ReceiverID, &m.ThreadID,
		&m.Text, &m.TimeRequested, &m.TimeSent, &m.TimeReceived,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select inapp message")
	}
	return &m, nil
}
