package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/app"
	"github.com/fjod/go_cart/shop-service/internal/config"
	"github.com/fjod/go_cart/shop-service/internal/platform/observability"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// run returns instead of exiting so every deferred flush happens.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Otel.Endpoint, cfg.Otel.ServiceName)
	if err != nil {
		logger.Error("failed to setup tracing", zap.Error(err))
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return fmt.Errorf("start: %w", err)
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		return err
	}
	logger.Info("service stopped")
	return nil
}
