package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/tinydotai/bitpulse.market-data-aggregator/config"
	"github.com/tinydotai/bitpulse.market-data-aggregator/internal/app"
	"github.com/tinydotai/bitpulse.market-data-aggregator/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run pipelines; exhausted retries must exit non-zero, not fade out
	if err := app.Run(ctx, cfg, log); err != nil {
		log.Fatal("aggregator failed", zap.Error(err))
	}
	log.Info("aggregator stopped")
}
