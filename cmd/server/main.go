package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/phonehub/phonehub/internal/app"
	"github.com/phonehub/phonehub/pkg/env"
	"github.com/phonehub/phonehub/pkg/logger"
)

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Log.Info("Starting phone hub",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger.Log); err != nil {
		logger.Log.Fatal("Server stopped", zap.Error(err))
	}
}
