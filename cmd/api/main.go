package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"audiotricks-service/internal/app"
	"audiotricks-service/internal/config"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MAIN] No .env file found, relying on system env vars")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewServer(cfg, logger).Start(ctx); err != nil {
		logger.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}
