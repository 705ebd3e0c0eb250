package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tidyzon/enroute/config"
	"github.com/tidyzon/enroute/internal/integrations/directions/fake"
	"github.com/tidyzon/enroute/internal/integrations/directions/googlehttp"
	"github.com/tidyzon/enroute/internal/models"
)

func TestDefaultWorkerFactories_SelectDirectionsClient(t *testing.T) {
	f := defaultWorkerFactories()

	cfgGoogle := &config.Config{
		Tracking: config.TrackingConfig{
			Directions: config.DirectionsConfig{
				Mode:    "google",
				BaseURL: "https://maps.googleapis.com",
				APIKey:  "k",
			},
		},
	}
	c1 := f.newDirections(cfgGoogle)
	_, ok := c1.(*googlehttp.Client)
	require.True(t, ok)

	// Без ключа — fallback на fake даже в google-режиме.
	cfgNoKey := &config.Config{
		Tracking: config.TrackingConfig{
			Directions: config.DirectionsConfig{Mode: "google"},
		},
	}
	c2 := f.newDirections(cfgNoKey)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)

	c3 := f.newDirections(&config.Config{})
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_OptionalSenders(t *testing.T) {
	f := defaultWorkerFactories()

	require.Nil(t, f.newSMS(&config.Config{}))
	require.Nil(t, f.newMailer(&config.Config{}))

	cfg := &config.Config{
		Tracking: config.TrackingConfig{
			SMS:  config.SMSConfig{BaseURL: "http://localhost:9100", APIKey: "k"},
			SMTP: config.SMTPConfig{Host: "localhost", Port: 1025, From: "noreply@tidyzon.com"},
		},
	}
	require.NotNil(t, f.newSMS(cfg))
	require.NotNil(t, f.newMailer(cfg))
}

type fakeWorkerRepo struct{}

func (fakeWorkerRepo) GetSession(ctx context.Context, trackingID string) (*models.TrackingSession, error) {
	return nil, models.ErrNotFound
}

func (fakeWorkerRepo) AppendHistory(ctx context.Context, e *models.HistoryEntry, milestoneMeters int64) (bool, error) {
	return false, nil
}

func (fakeWorkerRepo) HasThresholdFired(ctx context.Context, trackingID, status string, milestoneMeters int64) (bool, error) {
	return false, nil
}

func (fakeWorkerRepo) LatestEtaEntries(ctx context.Context, trackingID string, limit int) ([]*models.HistoryEntry, error) {
	return nil, nil
}

func (fakeWorkerRepo) CreateAlert(ctx context.Context, a *models.EmergencyAlert) error { return nil }

func (fakeWorkerRepo) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return nil, models.ErrNotFound
}

func (fakeWorkerRepo) GetSessionByOrder(ctx context.Context, orderID string) (*models.TrackingSession, error) {
	return nil, models.ErrNotFound
}

func (fakeWorkerRepo) ActiveAdmins(ctx context.Context) ([]*models.User, error) { return nil, nil }

func (fakeWorkerRepo) CreateMessage(ctx context.Context, m *models.InAppMessage) (uint64, error) {
	return 0, nil
}

func (fakeWorkerRepo) MarkMessageSent(ctx context.Context, messageID uint64, at time.Time) error {
	return nil
}

func TestRunTrackWorker_ContextCanceled(t *testing.T) {
	sw := filepath.Join(t.TempDir(), "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))
	t.Setenv("swaggerPath", sw)

	calledClose := false
	f := defaultWorkerFactories()
	f.newStorage = func(cfg *config.Config) (workerRepository, func(), error) {
		return fakeWorkerRepo{}, func() { calledClose = true }, nil
	}

	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Tracking: config.TrackingConfig{
			WorkerHTTPAddr: "127.0.0.1:0",
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
