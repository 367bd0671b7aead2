package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"taskflow/backend/internal/config"
	"taskflow/backend/internal/logger"
	"taskflow/backend/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logger.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	zap.ReplaceGlobals(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, zl)
	stop()
	zl.Info("server stopped", logger.Error(err)...)
	_ = zl.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	app, err := server.New(cfg, log, server.Options{})
	if err != nil {
		return err
	}
	defer app.Close()

	if cfg.Server.SeedDemoData {
		if err := app.Seed(ctx); err != nil {
			return err
		}
	}

	log.Info("starting taskflow",
		zap.String("environment", cfg.Server.Environment),
		zap.String("cache", cfg.Cache.Driver),
		zap.String("broadcast", cfg.Broadcast.Driver))
	return app.Run(ctx)
}
