package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tidyzon/enroute/config"
	"github.com/tidyzon/enroute/internal/broker/kafka"
	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/integrations/directions"
	"github.com/tidyzon/enroute/internal/integrations/directions/fake"
	"github.com/tidyzon/enroute/internal/integrations/directions/googlehttp"
	"github.com/tidyzon/enroute/internal/integrations/mailer"
	"github.com/tidyzon/enroute/internal/integrations/sms"
	"github.com/tidyzon/enroute/internal/integrations/sms/smshttp"
	"github.com/tidyzon/enroute/internal/services/alerts"
	"github.com/tidyzon/enroute/internal/services/detector"
	"github.com/tidyzon/enroute/internal/storage/pgtracking"
)

type workerRepository interface {
	detector.Repository
	alerts.Repository
}

type workerFactories struct {
	newStorage    func(cfg *config.Config) (repo workerRepository, closeFn func(), err error)
	newProducer   func(cfg *config.Config) detector.Producer
	newDirections func(cfg *config.Config) directions.Client
	newSMS        func(cfg *config.Config) sms.Sender
	newMailer     func(cfg *config.Config) mailer.Sender
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgtracking.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) detector.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newDirections: func(cfg *config.Config) directions.Client {
			// Без ключа API остаётся локальный fake.
			if cfg.Tracking.Directions.Mode == "google" && cfg.Tracking.Directions.APIKey != "" {
				return googlehttp.New(cfg.Tracking.Directions.BaseURL, cfg.Tracking.Directions.APIKey)
			}
			return fake.New()
		},
		newSMS: func(cfg *config.Config) sms.Sender {
			if cfg.Tracking.SMS.BaseURL == "" {
				return nil
			}
			return smshttp.New(cfg.Tracking.SMS.BaseURL, cfg.Tracking.SMS.APIKey, cfg.Tracking.SMS.SenderID)
		},
		newMailer: func(cfg *config.Config) mailer.Sender {
			if cfg.Tracking.SMTP.Host == "" {
				return nil
			}
			return mailer.NewSMTP(cfg.Tracking.SMTP.Host, cfg.Tracking.SMTP.Port,
				cfg.Tracking.SMTP.Username, cfg.Tracking.SMTP.Password, cfg.Tracking.SMTP.From)
		},
	}
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	locationTopic := cfg.Kafka.LocationTopic
	if locationTopic == "" {
		locationTopic = "tracking.location"
	}
	notificationsTopic := cfg.Kafka.NotificationsTopic
	if notificationsTopic == "" {
		notificationsTopic = "tracking.notifications"
	}
	emergencyTopic := cfg.Kafka.EmergencyTopic
	if emergencyTopic == "" {
		emergencyTopic = "tracking.emergency"
	}
	locationGroup := cfg.Tracking.LocationConsumerGroup
	if locationGroup == "" {
		locationGroup = "track-worker"
	}
	emergencyGroup := cfg.Tracking.EmergencyConsumerGroup
	if emergencyGroup == "" {
		emergencyGroup = "track-worker-emergency"
	}

	dcfg := detector.DefaultConfig()
	if cfg.Tracking.ProximityMeters > 0 {
		dcfg.ProximityMeters = cfg.Tracking.ProximityMeters
	}
	if len(cfg.Tracking.MilestoneMeters) > 0 {
		dcfg.MilestoneMeters = cfg.Tracking.MilestoneMeters
	}
	if cfg.Tracking.DelaySeconds > 0 {
		dcfg.DelaySeconds = int64(cfg.Tracking.DelaySeconds)
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	eta := f.newDirections(cfg)

	det := detector.New(repo, eta, producer, dcfg, notificationsTopic, nil)
	alertsSvc := alerts.New(repo, producer, f.newSMS(cfg), f.newMailer(cfg), emergencyTopic, notificationsTopic, nil)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	locations := kafka.NewConsumer(brokers, locationTopic, locationGroup)
	defer func() { _ = locations.Close() }()
	emergencies := kafka.NewConsumer(brokers, emergencyTopic, emergencyGroup)
	defer func() { _ = emergencies.Close() }()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("location consumer started", "topic", locationTopic, "group", locationGroup)
		return locations.Consume(gctx, func(_key, value []byte) error {
			var msg messages.LocationReported
			if err := json.Unmarshal(value, &msg); err != nil {
				slog.Error("malformed location message", "error", err)
				return nil
			}
			_, err := det.Process(gctx, msg)
			return err
		})
	})

	g.Go(func() error {
		slog.Info("emergency consumer started", "topic", emergencyTopic, "group", emergencyGroup)
		return emergencies.Consume(gctx, func(_key, value []byte) error {
			var msg messages.EmergencyRaised
			if err := json.Unmarshal(value, &msg); err != nil {
				slog.Error("malformed emergency message", "error", err)
				return nil
			}
			return alertsSvc.FanOut(gctx, msg)
		})
	})

	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.Tracking.WorkerHTTPAddr,
			swaggerPath: swaggerPathFromEnv(),
			detector:    det,
			cfg:         cfg,
		})
	})

	return g.Wait()
}
