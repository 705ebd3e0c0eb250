package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tidyzon/enroute/config"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := RunTrackWorker(ctx, cfg, defaultWorkerFactories()); err != nil && err != context.Canceled {
		panic(err)
	}
}

func swaggerPathFromEnv() string {
	return os.Getenv("swaggerPath")
}
