package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/tidyzon/enroute/internal/api/trackinghttp"
	"github.com/tidyzon/enroute/internal/broker/messages"
	"github.com/tidyzon/enroute/internal/push"
	"github.com/tidyzon/enroute/internal/services/alerts"
	"github.com/tidyzon/enroute/internal/services/dispatch"
	"github.com/tidyzon/enroute/internal/services/tracker"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	// Пауза перед перезапуском упавшего консьюмера; 0 — значение по
	// умолчанию.
	consumerRetryWait time.Duration

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runTrackAPI(
	ctx context.Context,
	opts trackAPIOpts,
	trackerSvc *tracker.Service,
	alertsSvc *alerts.Service,
	dispatcher *dispatch.Dispatcher,
	hub *push.Hub,
	registry push.Registry,
	consumer kafkaConsumer,
) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"push_connections": hub.Connected()})
	})

	trackinghttp.New(trackerSvc, alertsSvc, nil).Routes(r)
	r.Get("/ws", push.Handler(hub, registry))

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	retryWait := opts.consumerRetryWait
	if retryWait == 0 {
		retryWait = 5 * time.Second
	}
	go func() {
		slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
		handler := func(_key, value []byte) error {
			var ev messages.NotificationFired
			if err := json.Unmarshal(value, &ev); err != nil {
				// Битое сообщение пропускаем, иначе встанет вся доставка.
				slog.Error("malformed notification skipped", "error", err)
				return nil
			}
			res, err := dispatcher.Dispatch(ctx, ev)
			if err != nil {
				return err
			}
			if !res.Delivered {
				slog.Info("notification stored without push", "message_id", res.MessageID, "reason", res.Reason)
			}
			return nil
		}
		for {
			err := consumer.Consume(ctx, handler)
			if ctx.Err() != nil {
				return
			}
			slog.Error("notifications consumer stopped, restarting", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryWait):
			}
		}
	}()

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}
