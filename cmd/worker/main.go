package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/logger"
	"github.com/unclebandit/newsletter-backend/internal/queue"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.IsProduction(), cfg.LogLevel).With(zap.String("component", "worker"))
	defer log.Sync()

	if cfg.AMQP.URL == "" {
		log.Fatal("AMQP_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize", zap.Error(err))
	}

	if err := a.Queue.Subscribe(queue.TopicNewsletterSends, a.Deliveries.HandleJob); err != nil {
		log.Fatal("Failed to register consumer", zap.Error(err))
	}

	go a.Deliveries.RunSweeper(ctx, cfg.Send.SweepInterval)

	log.Info("Worker running, waiting for messages...",
		zap.String("queue", queue.TopicNewsletterSends),
		zap.Int("prefetch", cfg.AMQP.Prefetch),
	)
	<-ctx.Done()

	log.Info("Shutting down")
	if err := a.Close(); err != nil {
		log.Error("Shutdown failed", zap.Error(err))
	}
}
