// Package dispatch delivers fired notifications to customers: every
// notification becomes a persisted in-app message first, then a push
// over the live WebSocket channel if one is registered. Push failure
// never loses the message; it stays unread in storage. ETA updates are
// the exception: they are push-only and never persisted.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/models"
	"github.com/tidyzon/enroute/internal/push"
)

type Repository interface {
	CreateMessage(ctx context.Context, m *models.InAppMessage) (uint64, error)
	MarkMessageSent(ctx context.Context, messageID uint64, at time.Time) error
	MarkMessageReceived(ctx context.Context, messageID uint64, at time.Time) error
	ActiveConnection(ctx context.Context, userID string) (*models.PushConnection, error)
	MarkConnectionInactive(ctx context.Context, connectionID string) error
}

type PushSender interface {
	Send(connectionID string, payload []byte) error
}

type Dispatcher struct {
	repo   Repository
	sender PushSender
	logger *slog.Logger
}

func New(repo Repository, sender PushSender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{repo: repo, sender: sender, logger: logger}
}

type Result struct {
	MessageID uint64
	Delivered bool
	Reason    string
}

// pushEnvelope is the wire shape written to the WebSocket.
type pushEnvelope struct {
	MessageID    uint64          `json:"message_id,omitempty"`
	Type         string          `json:"type"`
	OrderID      string          `json:"order_id"`
	TrackingID   string          `json:"tracking_id,omitempty"`
	Notification string          `json:"notification,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	FiredAt      string          `json:"fired_at"`
}

// Dispatch persists and pushes one fired notification. Only the persist
// step can fail the call; an absent or dead connection is an expected
// outcome reported in the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, ev messages.NotificationFired) (Result, error) {
	if ev.CustomerID == "" {
		return Result{}, errors.Wrap(models.ErrInvalidInput, "notification has no customer")
	}

	// Живые обновления ETA не сохраняются как сообщения, только push.
	if ev.Type == models.HistoryEtaCalculated {
		return d.pushTo(ctx, ev, 0), nil
	}

	// Производитель уже сохранил сообщение (emergency-путь): вторая
	// строка не нужна, осталась только доставка.
	if ev.MessageID != 0 {
		res := d.pushTo(ctx, ev, ev.MessageID)
		if res.Delivered {
			if err := d.repo.MarkMessageReceived(ctx, ev.MessageID, time.Now().UTC()); err != nil {
				d.logger.Error("mark message received", "messageId", ev.MessageID, "error", err)
			}
		}
		return res, nil
	}

	msg := &models.InAppMessage{
		OrderID:       ev.OrderID,
		SenderID:      models.SystemSenderID,
		ReceiverID:    ev.CustomerID,
		ThreadID:      uuid.NewString(),
		Text:          ev.Notification,
		TimeRequested: time.Now().UTC(),
	}
	messageID, err := d.repo.CreateMessage(ctx, msg)
	if err != nil {
		return Result{}, err
	}

	if err := d.repo.MarkMessageSent(ctx, messageID, time.Now().UTC()); err != nil {
		d.logger.Error("mark message sent", "messageId", messageID, "error", err)
	}

	res := d.pushTo(ctx, ev, messageID)
	if !res.Delivered {
		return res, nil
	}

	if err := d.repo.MarkMessageReceived(ctx, messageID, time.Now().UTC()); err != nil {
		d.logger.Error("mark message received", "messageId", messageID, "error", err)
	}
	return res, nil
}

func (d *Dispatcher) pushTo(ctx context.Context, ev messages.NotificationFired, messageID uint64) Result {
	conn, err := d.repo.ActiveConnection(ctx, ev.CustomerID)
	if err != nil {
		d.logger.Error("lookup push connection", "userId", ev.CustomerID, "error", err)
		return Result{MessageID: messageID, Reason: "connection lookup failed"}
	}
	if conn == nil {
		return Result{MessageID: messageID, Reason: "no active connection"}
	}

	payload, err := json.Marshal(pushEnvelope{
		MessageID:    messageID,
		Type:         ev.Type,
		OrderID:      ev.OrderID,
		TrackingID:   ev.TrackingID,
		Notification: ev.Notification,
		Data:         ev.Data,
		FiredAt:      ev.FiredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Result{MessageID: messageID, Reason: "marshal envelope"}
	}

	if err := d.sender.Send(conn.ConnectionID, payload); err != nil {
		if errors.Is(err, push.ErrConnectionGone) {
			if err := d.repo.MarkConnectionInactive(ctx, conn.ConnectionID); err != nil {
				d.logger.Error("mark connection inactive", "connectionId", conn.ConnectionID, "error", err)
			}
			return Result{MessageID: messageID, Reason: "connection gone"}
		}
		d.logger.Error("push send", "connectionId", conn.ConnectionID, "error", err)
		return Result{MessageID: messageID, Reason: "push failed"}
	}
	return Result{MessageID: messageID, Delivered: true}
}
