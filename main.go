package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"seen/internal/app"
	"seen/internal/config"
	"seen/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// 2. Infrastructure: database, migrations, remote index, NSQ
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.DB.Close()
	defer deps.NSQProducer.Stop()

	// 3. Services & routes
	application, err := app.New(cfg, deps.DB, deps.Remote, deps.NSQProducer, log, &app.Options{Cloudflare: deps.Cloudflare})
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer func() {
		if err := application.Close(); err != nil {
			slog.Warn("failed to close app", "error", err)
		}
	}()

	// 4. Workers
	if cfg.EnableWorker {
		if err := application.StartConsumers(); err != nil {
			return fmt.Errorf("start consumers: %w", err)
		}
	}

	// 5. Start Server
	return application.Run(ctx)
}
