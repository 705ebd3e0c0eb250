// Package alerts implements the emergency path: a provider raises an
// alert, the row is persisted before anything else, then every reachable
// party is notified best-effort. A dead SMS gateway or SMTP relay must
// never make the raise call fail.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/integrations/mailer"
	"github.com/tidyzon/enroute/internal/integrations/sms"
	"github.com/tidyzon/enroute/internal/models"
)

type Repository interface {
	CreateAlert(ctx context.Context, a *models.EmergencyAlert) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetSessionByOrder(ctx context.Context, orderID string) (*models.TrackingSession, error)
	ActiveAdmins(ctx context.Context) ([]*models.User, error)
	CreateMessage(ctx context.Context, m *models.InAppMessage) (uint64, error)
	MarkMessageSent(ctx context.Context, messageID uint64, at time.Time) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo     Repository
	producer Producer
	sms      sms.Sender
	mail     mailer.Sender
	logger   *slog.Logger

	emergencyTopic     string
	notificationsTopic string
}

func New(repo Repository, producer Producer, smsSender sms.Sender, mailSender mailer.Sender, emergencyTopic, notificationsTopic string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:               repo,
		producer:           producer,
		sms:                smsSender,
		mail:               mailSender,
		logger:             logger,
		emergencyTopic:     emergencyTopic,
		notificationsTopic: notificationsTopic,
	}
}

type RaiseInput struct {
	ProviderID  string
	OrderID     *string
	AlertType   string
	Description string
	Location    models.Location
}

// Raise persists the alert and queues the fan-out. Returns once the row
// is durable; notification delivery happens in the worker.
func (s *Service) Raise(ctx context.Context, in RaiseInput) (string, error) {
	if in.ProviderID == "" {
		return "", errors.Wrap(models.ErrInvalidInput, "providerId is required")
	}
	if _, err := s.repo.GetUser(ctx, in.ProviderID); err != nil {
		return "", err
	}

	alertType := in.AlertType
	if alertType == "" {
		alertType = "emergency"
	}

	alert := &models.EmergencyAlert{
		AlertID:     uuid.NewString(),
		ProviderID:  in.ProviderID,
		OrderID:     in.OrderID,
		AlertType:   alertType,
		Description: in.Description,
		Location:    in.Location,
		Status:      models.AlertStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateAlert(ctx, alert); err != nil {
		return "", err
	}

	msg := messages.EmergencyRaised{
		AlertID:     alert.AlertID,
		ProviderID:  alert.ProviderID,
		OrderID:     alert.OrderID,
		AlertType:   alert.AlertType,
		Description: alert.Description,
		Lat:         alert.Location.Lat,
		Lng:         alert.Location.Lng,
		RaisedAt:    alert.CreatedAt,
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", errors.Wrap(err, "marshal emergency message")
	}
	if err := s.producer.Publish(ctx, s.emergencyTopic, []byte(alert.AlertID), b); err != nil {
		// Строка уже сохранена; оператор может разобрать её вручную.
		s.logger.Error("queue emergency fan-out", "alertId", alert.AlertID, "error", err)
	}

	return alert.AlertID, nil
}

// FanOut notifies everyone about a raised alert: the customer on the
// related order (if any) over in-app, push and SMS, and every active
// admin over in-app, SMS and email. Each channel failure is logged and
// swallowed.
func (s *Service) FanOut(ctx context.Context, msg messages.EmergencyRaised) error {
	provider, err := s.repo.GetUser(ctx, msg.ProviderID)
	if err != nil {
		s.logger.Error("load provider for alert", "alertId", msg.AlertID, "error", err)
		provider = &models.User{UserID: msg.ProviderID, FirstName: "Provider"}
	}

	text := fmt.Sprintf("EMERGENCY: %s raised a %s alert", provider.FirstName, msg.AlertType)
	if msg.Description != "" {
		text = fmt.Sprintf("%s: %s", text, msg.Description)
	}

	if msg.OrderID != nil && *msg.OrderID != "" {
		s.notifyCustomer(ctx, msg, *msg.OrderID, text)
	}
	s.notifyAdmins(ctx, msg, text)
	return nil
}

func (s *Service) notifyCustomer(ctx context.Context, msg messages.EmergencyRaised, orderID, text string) {
	session, err := s.repo.GetSessionByOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("resolve customer for alert", "alertId", msg.AlertID, "orderId", orderID, "error", err)
		return
	}

	if messageID, ok := s.persistInApp(ctx, orderID, session.CustomerID, text); ok {
		s.publishNotification(ctx, msg, session, messageID, text)
	}

	customer, err := s.repo.GetUser(ctx, session.CustomerID)
	if err != nil {
		s.logger.Error("load customer for alert sms", "alertId", msg.AlertID, "error", err)
		return
	}
	s.sendSMS(ctx, msg.AlertID, customer.Phone, text)
}

func (s *Service) notifyAdmins(ctx context.Context, msg messages.EmergencyRaised, text string) {
	admins, err := s.repo.ActiveAdmins(ctx)
	if err != nil {
		s.logger.Error("list admins for alert", "alertId", msg.AlertID, "error", err)
		return
	}
	if len(admins) == 0 {
		s.logger.Warn("no active admins to notify", "alertId", msg.AlertID)
		return
	}

	body := fmt.Sprintf("%s\n\nAlert ID: %s\nLocation: %.6f, %.6f\nRaised at: %s",
		text, msg.AlertID, msg.Lat, msg.Lng, msg.RaisedAt.UTC().Format(time.RFC3339))

	for _, admin := range admins {
		s.persistInApp(ctx, "", admin.UserID, text)
		s.sendSMS(ctx, msg.AlertID, admin.Phone, text)

		if s.mail != nil && admin.Email != "" {
			if err := s.mail.Send(ctx, admin.Email, "Emergency alert "+msg.AlertID, body); err != nil {
				s.logger.Error("alert email", "alertId", msg.AlertID, "to", admin.Email, "error", err)
			}
		}
	}
}

func (s *Service) persistInApp(ctx context.Context, orderID, receiverID, text string) (uint64, bool) {
	m := &models.InAppMessage{
		OrderID:       orderID,
		SenderID:      models.SystemSenderID,
		ReceiverID:    receiverID,
		ThreadID:      uuid.NewString(),
		Text:          text,
		TimeRequested: time.Now().UTC(),
	}
	id, err := s.repo.CreateMessage(ctx, m)
	if err != nil {
		s.logger.Error("persist alert message", "receiverId", receiverID, "error", err)
		return 0, false
	}
	if err := s.repo.MarkMessageSent(ctx, id, time.Now().UTC()); err != nil {
		s.logger.Error("mark alert message sent", "messageId", id, "error", err)
	}
	return id, true
}

func (s *Service) publishNotification(ctx context.Context, msg messages.EmergencyRaised, session *models.TrackingSession, messageID uint64, text string) {
	ev := messages.NotificationFired{
		Type:         models.NotificationEmergency,
		TrackingID:   session.TrackingID,
		OrderID:      session.OrderID,
		CustomerID:   session.CustomerID,
		ProviderID:   msg.ProviderID,
		Notification: text,
		MessageID:    messageID,
		FiredAt:      time.Now().UTC(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.notificationsTopic, []byte(session.TrackingID), b); err != nil {
		s.logger.Error("publish alert notification", "alertId", msg.AlertID, "error", err)
	}
}

func (s *Service) sendSMS(ctx context.Context, alertID, phone, text string) {
	if s.sms == nil || phone == "" {
		return
	}
	if _, err := s.sms.Send(ctx, phone, text); err != nil {
		s.logger.Error("alert sms", "alertId", alertID, "to", phone, "error", err)
	}
}
