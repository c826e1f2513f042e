// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-backend/internal/app"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/controller"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/logger"
	"github.com/unclebandit/newsletter-backend/internal/queue"
)

func main() {
	cfg, envFound, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Must(cfg.IsProduction(), cfg.LogLevel)
	defer log.Sync()
	if !envFound {
		log.Info("No .env file found, relying on OS environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize", zap.Error(err))
	}
	defer a.Close()

	if a.InProcessQueue {
		if err := a.Queue.Subscribe(queue.TopicNewsletterSends, a.Deliveries.HandleJob); err != nil {
			log.Fatal("Failed to start subscriber for newsletter_sends", zap.Error(err))
		}
		go a.Deliveries.RunSweeper(ctx, cfg.Send.SweepInterval)
	}

	newsletterController := &controller.NewsletterController{
		Newsletters: a.Newsletters,
		Deliveries:  a.Deliveries,
		Log:         log,
	}
	health := &handler.HealthHandler{Checks: a.HealthChecks()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", health.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	newsletterController.Routes(r)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info("Server running", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
