package pgtracking

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tidyzon/enroute/internal/models"
)

func startPostgres(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "enroute_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/enroute_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGTracking_SessionFlow(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	_, err := st.db.Exec(ctx, `
INSERT INTO users (userid, firstname, phone, email, role, is_active, lat, lng)
VALUES ('cust-1', 'Anna', '+15550002', 'anna@example.com', 'customer', TRUE, 40.5, -73.5),
       ('prov-1', 'Ivan', '+15550001', 'ivan@example.com', 'provider', TRUE, 0, 0),
       ('adm-1', 'Olga', '+15559001', 'ops@tidyzon.com', 'admin', TRUE, 0, 0)
`)
	require.NoError(t, err)

	dest, err := st.CustomerDestination(ctx, "cust-1")
	require.NoError(t, err)
	require.Equal(t, 40.5, dest.Lat)

	_, err = st.CustomerDestination(ctx, "ghost")
	require.ErrorIs(t, err, models.ErrNotFound)

	created, err := st.CreateSession(ctx, SessionCreateInput{
		TrackingID:       "trk-1",
		OrderID:          "order-1",
		ProviderID:       "prov-1",
		CustomerID:       "cust-1",
		ProviderLocation: models.Location{Lat: 40.0, Lng: -73.0},
		CustomerLocation: dest,
	})
	require.NoError(t, err)
	require.Equal(t, models.SessionStatusActive, created.Status)

	// Второй активный трекинг на тот же заказ запрещён.
	_, err = st.CreateSession(ctx, SessionCreateInput{
		TrackingID: "trk-2",
		OrderID:    "order-1",
		ProviderID: "prov-1",
		CustomerID: "cust-1",
	})
	require.ErrorIs(t, err, models.ErrConflict)

	got, err := st.GetSessionByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Equal(t, "trk-1", got.TrackingID)

	// Пауза блокирует обновление координат.
	paused, err := st.SetPaused(ctx, "trk-1", true)
	require.NoError(t, err)
	require.True(t, paused.IsPaused)
	err = st.UpdateProviderLocation(ctx, "trk-1", models.Location{Lat: 41, Lng: -74})
	require.ErrorIs(t, err, models.ErrNotFound)
	after, err := st.GetSession(ctx, "trk-1")
	require.NoError(t, err)
	require.Equal(t, 40.0, after.ProviderLocation.Lat)

	// Повторная пауза идемпотентна и не плодит записи в истории.
	paused, err = st.SetPaused(ctx, "trk-1", true)
	require.NoError(t, err)
	require.True(t, paused.IsPaused)

	resumed, err := st.SetPaused(ctx, "trk-1", false)
	require.NoError(t, err)
	require.False(t, resumed.IsPaused)
	require.NoError(t, st.UpdateProviderLocation(ctx, "trk-1", models.Location{Lat: 41, Lng: -74}))
	after, err = st.GetSession(ctx, "trk-1")
	require.NoError(t, err)
	require.Equal(t, 41.0, after.ProviderLocation.Lat)

	require.NoError(t, st.EndSession(ctx, "trk-1", "prov-1"))
	require.ErrorIs(t, st.EndSession(ctx, "trk-1", "prov-1"), models.ErrConflict)

	hist, err := st.ListHistory(ctx, "trk-1", 10)
	require.NoError(t, err)
	// initialized + paused + resumed + ended
	require.Len(t, hist, 4)
	byStatus := map[string]int{}
	for _, h := range hist {
		byStatus[h.Status]++
	}
	require.Equal(t, 1, byStatus[models.HistoryInitialized])
	require.Equal(t, 3, byStatus[models.HistoryStatusChange])
	ended := 0
	for _, h := range hist {
		if strings.Contains(string(h.Data), `"ended"`) {
			ended++
		}
	}
	require.Equal(t, 1, ended)

	// Завершённый заказ можно трекать заново.
	_, err = st.CreateSession(ctx, SessionCreateInput{
		TrackingID: "trk-3",
		OrderID:    "order-1",
		ProviderID: "prov-1",
		CustomerID: "cust-1",
	})
	require.NoError(t, err)
}

func TestPGTracking_ThresholdDedup(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	entry := func() *models.HistoryEntry {
		return &models.HistoryEntry{
			TrackingID: "trk-1",
			Status:     models.HistoryMilestone,
			Timestamp:  time.Now().UTC(),
			Data:       []byte(`{"milestone_meters":1000}`),
			CustomerID: "cust-1",
			OrderID:    "order-1",
			ProviderID: "prov-1",
		}
	}

	fired, err := st.AppendHistory(ctx, entry(), 1000)
	require.NoError(t, err)
	require.True(t, fired)

	fired, err = st.AppendHistory(ctx, entry(), 1000)
	require.NoError(t, err)
	require.False(t, fired)

	// Другой порог — отдельное событие.
	fired, err = st.AppendHistory(ctx, entry(), 500)
	require.NoError(t, err)
	require.True(t, fired)

	has, err := st.HasThresholdFired(ctx, "trk-1", models.HistoryMilestone, 1000)
	require.NoError(t, err)
	require.True(t, has)
	has, err = st.HasThresholdFired(ctx, "trk-1", models.HistoryMilestone, 2000)
	require.NoError(t, err)
	require.False(t, has)

	// eta_calculated не дедуплицируется.
	eta := &models.HistoryEntry{
		TrackingID: "trk-1",
		Status:     models.HistoryEtaCalculated,
		Timestamp:  time.Now().UTC(),
		Data:       []byte(`{"eta":{"eta_seconds":600}}`),
	}
	for i := 0; i < 2; i++ {
		fired, err = st.AppendHistory(ctx, eta, 0)
		require.NoError(t, err)
		require.True(t, fired)
		eta.Timestamp = eta.Timestamp.Add(time.Second)
	}

	entries, err := st.LatestEtaEntries(ctx, "trk-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
}

func TestPGTracking_MessagesAndAlerts(t *testing.T) {
	ctx := context.Background()
	st := startPostgres(t)

	_, err := st.db.Exec(ctx, `
INSERT INTO users (userid, firstname, phone, email, role, is_active, lat, lng)
VALUES ('adm-1', 'Olga', '+15559001', 'ops@tidyzon.com', 'admin', TRUE, 0, 0),
       ('adm-2', 'Pavel', '+15559002', 'pavel@tidyzon.com', 'admin', FALSE, 0, 0)
`)
	require.NoError(t, err)

	admins, err := st.ActiveAdmins(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	require.Equal(t, "adm-1", admins[0].UserID)

	id, err := st.CreateMessage(ctx, &models.InAppMessage{
		OrderID:       "order-1",
		SenderID:      models.SystemSenderID,
		ReceiverID:    "adm-1",
		ThreadID:      "thread-1",
		Text:          "hello",
		TimeRequested: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	now := time.Now().UTC()
	require.NoError(t, st.MarkMessageSent(ctx, id, now))
	require.NoError(t, st.MarkMessageReceived(ctx, id, now))

	msg, err := st.GetMessage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, msg.TimeSent)
	require.NotNil(t, msg.TimeReceived)

	// Подключения: активным остаётся последнее зарегистрированное.
	require.NoError(t, st.RegisterConnection(ctx, "conn-1", "adm-1"))
	conn, err := st.ActiveConnection(ctx, "adm-1")
	require.NoError(t, err)
	require.Equal(t, "conn-1", conn.ConnectionID)

	require.NoError(t, st.MarkConnectionInactive(ctx, "conn-1"))
	conn, err = st.ActiveConnection(ctx, "adm-1")
	require.NoError(t, err)
	require.Nil(t, conn)

	orderID := "order-1"
	require.NoError(t, st.CreateAlert(ctx, &models.EmergencyAlert{
		AlertID:     "alert-1",
		ProviderID:  "adm-1",
		OrderID:     &orderID,
		AlertType:   "emergency",
		Description: "vehicle accident",
		Location:    models.Location{Lat: 40, Lng: -73},
		Status:      models.AlertStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}))

	alert, err := st.GetAlert(ctx, "alert-1")
	require.NoError(t, err)
	require.Equal(t, models.AlertStatusOpen, alert.Status)
	require.Equal(t, "order-1", *alert.OrderID)
}
