package alerts

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/models"
)

type fakeRepo struct {
	users    map[string]*models.User
	admins   []*models.User
	session  *models.TrackingSession
	alerts   []*models.EmergencyAlert
	messages []*models.InAppMessage
	nextID   uint64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[string]*models.User{
			"prov-1": {UserID: "prov-1", FirstName: "Ivan", Phone: "+15550001"},
			"cust-1": {UserID: "cust-1", FirstName: "Anna", Phone: "+15550002"},
		},
	}
}

func (f *fakeRepo) CreateAlert(_ context.Context, a *models.EmergencyAlert) error {
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetSessionByOrder(_ context.Context, orderID string) (*models.TrackingSession, error) {
	if f.session == nil || f.session.OrderID != orderID {
		return nil, models.ErrNotFound
	}
	return f.session, nil
}

func (f *fakeRepo) ActiveAdmins(_ context.Context) ([]*models.User, error) {
	return f.admins, nil
}

func (f *fakeRepo) CreateMessage(_ context.Context, m *models.InAppMessage) (uint64, error) {
	f.nextID++
	m.MessageID = f.nextID
	f.messages = append(f.messages, m)
	return f.nextID, nil
}

func (f *fakeRepo) MarkMessageSent(_ context.Context, messageID uint64, at time.Time) error {
	return nil
}

type fakeProducer struct {
	topics []string
	values [][]byte
	err    error
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key, value []byte) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.values = append(f.values, value)
	return nil
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) Send(_ context.Context, phone, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, phone)
	return "sms-1", nil
}

type fakeMail struct {
	sent []string
	err  error
}

func (f *fakeMail) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func TestRaisePersistsBeforeQueueing(t *testing.T) {
	repo := newFakeRepo()
	producer := &fakeProducer{}
	svc := New(repo, producer, &fakeSMS{}, &fakeMail{}, "tracking.emergency", "tracking.notifications", nil)

	orderID := "order-1"
	alertID, err := svc.Raise(context.Background(), RaiseInput{
		ProviderID:  "prov-1",
		OrderID:     &orderID,
		Description: "vehicle accident",
		Location:    models.Location{Lat: 40.0, Lng: -73.0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, alertID)

	require.Len(t, repo.alerts, 1)
	require.Equal(t, models.AlertStatusOpen, repo.alerts[0].Status)
	require.Equal(t, "emergency", repo.alerts[0].AlertType)

	require.Equal(t, []string{"tracking.emergency"}, producer.topics)
	var msg messages.EmergencyRaised
	require.NoError(t, json.Unmarshal(producer.values[0], &msg))
	require.Equal(t, alertID, msg.AlertID)
}

func TestRaiseSurvivesBrokerOutage(t *testing.T) {
	repo := newFakeRepo()
	producer := &fakeProducer{err: errors.New("broker down")}
	svc := New(repo, producer, &fakeSMS{}, &fakeMail{}, "tracking.emergency", "tracking.notifications", nil)

	alertID, err := svc.Raise(context.Background(), RaiseInput{ProviderID: "prov-1"})
	require.NoError(t, err)
	require.NotEmpty(t, alertID)
	require.Len(t, repo.alerts, 1)
}

func TestRaiseUnknownProvider(t *testing.T) {
	svc := New(newFakeRepo(), &fakeProducer{}, &fakeSMS{}, &fakeMail{}, "tracking.emergency", "tracking.notifications", nil)
	_, err := svc.Raise(context.Background(), RaiseInput{ProviderID: "ghost"})
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestFanOutNotifiesCustomerAndAdmins(t *testing.T) {
	repo := newFakeRepo()
	repo.session = &models.TrackingSession{
		TrackingID: "trk-1", OrderID: "order-1", ProviderID: "prov-1", CustomerID: "cust-1",
	}
	repo.admins = []*models.User{
		{UserID: "adm-1", Phone: "+15559001", Email: "ops@tidyzon.com", Role: models.RoleAdmin, IsActive: true},
	}
	producer := &fakeProducer{}
	smsc := &fakeSMS{}
	mail := &fakeMail{}
	svc := New(repo, producer, smsc, mail, "tracking.emergency", "tracking.notifications", nil)

	orderID := "order-1"
	err := svc.FanOut(context.Background(), messages.EmergencyRaised{
		AlertID: "alert-1", ProviderID: "prov-1", OrderID: &orderID,
		AlertType: "emergency", Description: "vehicle accident",
		Lat: 40.0, Lng: -73.0, RaisedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	// Новое in-app сообщение клиенту и админу.
	require.Len(t, repo.messages, 2)
	require.Equal(t, "cust-1", repo.messages[0].ReceiverID)
	require.Equal(t, "adm-1", repo.messages[1].ReceiverID)

	require.ElementsMatch(t, []string{"+15550002", "+15559001"}, smsc.sent)
	require.Equal(t, []string{"ops@tidyzon.com"}, mail.sent)

	require.Equal(t, []string{"tracking.notifications"}, producer.topics)
	var ev messages.NotificationFired
	require.NoError(t, json.Unmarshal(producer.values[0], &ev))
	require.Equal(t, models.NotificationEmergency, ev.Type)
	require.Contains(t, ev.Notification, "Ivan")
	require.Contains(t, ev.Notification, "vehicle accident")
	// Диспетчер не должен сохранять вторую строку для клиента.
	require.Equal(t, repo.messages[0].MessageID, ev.MessageID)
}

func TestFanOutSurvivesDeadGateways(t *testing.T) {
	repo := newFakeRepo()
	repo.session = &models.TrackingSession{
		TrackingID: "trk-1", OrderID: "order-1", ProviderID: "prov-1", CustomerID: "cust-1",
	}
	repo.admins = []*models.User{
		{UserID: "adm-1", Phone: "+15559001", Email: "ops@tidyzon.com", Role: models.RoleAdmin, IsActive: true},
	}
	svc := New(repo, &fakeProducer{},
		&fakeSMS{err: errors.New("sms gateway down")},
		&fakeMail{err: errors.New("smtp down")},
		"tracking.emergency", "tracking.notifications", nil)

	orderID := "order-1"
	err := svc.FanOut(context.Background(), messages.EmergencyRaised{
		AlertID: "alert-1", ProviderID: "prov-1", OrderID: &orderID, AlertType: "emergency",
	})
	require.NoError(t, err)
	require.Len(t, repo.messages, 2)
}

func TestFanOutWithoutOrderSkipsCustomerLeg(t *testing.T) {
	repo := newFakeRepo()
	repo.admins = []*models.User{
		{UserID: "adm-1", Phone: "+15559001", Role: models.RoleAdmin, IsActive: true},
	}
	smsc := &fakeSMS{}
	svc := New(repo, &fakeProducer{}, smsc, &fakeMail{}, "tracking.emergency", "tracking.notifications", nil)

	err := svc.FanOut(context.Background(), messages.EmergencyRaised{
		AlertID: "alert-1", ProviderID: "prov-1", AlertType: "emergency",
	})
	require.NoError(t, err)
	require.Len(t, repo.messages, 1)
	require.Equal(t, "adm-1", repo.messages[0].ReceiverID)
	require.Equal(t, []string{"+15559001"}, smsc.sent)
}
