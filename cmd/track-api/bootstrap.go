package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tidyzon/enroute/config"
	"github.com/tidyzon/enroute/internal/broker/kafka"
	"github.com/tidyzon/enroute/internal/cache/rediscache"
	"github.com/tidyzon/enroute/internal/push"
	"github.com/tidyzon/enroute/internal/services/alerts"
	"github.com/tidyzon/enroute/internal/services/dispatch"
	"github.com/tidyzon/enroute/internal/services/tracker"
	"github.com/tidyzon/enroute/internal/storage/pgtracking"
)

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts

	tracker    *tracker.Service
	alerts     *alerts.Service
	dispatcher *dispatch.Dispatcher
	hub        *push.Hub
	storage    *pgtracking.Storage
	consumer   *kafka.Consumer
	producer   *kafka.Producer
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Tracking.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.Tracking.NotificationsConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
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
	snapshotTTL := time.Duration(cfg.Tracking.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = time.Minute
	}
	ratePerMinute := int64(cfg.Tracking.IngestRateLimitPerMinute)
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	rl := rediscache.NewRateLimiter(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, notificationsTopic, consumerGroup)

	hub := push.NewHub()

	trackerSvc := tracker.New(st, rc, producer, rl, locationTopic, notificationsTopic).
		WithSettings(snapshotTTL, ratePerMinute)
	alertsSvc := alerts.New(st, producer, nil, nil, emergencyTopic, notificationsTopic, nil)
	dispatcher := dispatch.New(st, hub, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &trackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         notificationsTopic,
			consumerGroup: consumerGroup,
		},
		tracker:    trackerSvc,
		alerts:     alertsSvc,
		dispatcher: dispatcher,
		hub:        hub,
		storage:    st,
		consumer:   consumer,
		producer:   producer,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.storage != nil {
		a.storage.Close()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.tracker, a.alerts, a.dispatcher, a.hub, a.storage, a.consumer)
}
