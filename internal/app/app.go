// Package app wires configuration into the services shared by the server and worker.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-backend/internal/cache"
	"github.com/unclebandit/newsletter-backend/internal/config"
	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/email"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/llm"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/service"
	"github.com/unclebandit/newsletter-backend/internal/storage"
)

type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *sql.DB
	Redis  *redis.Client
	Queue  queue.Queue
	// InProcessQueue is true when jobs are handled by this process rather than a broker.
	InProcessQueue bool

	Newsletters *service.NewsletterService
	Deliveries  *service.DeliveryService
}

// New connects every configured backend. Optional integrations that are not
// configured fall back to local implementations.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	conn, err := db.Open(ctx, cfg.DB.DSN(), log)
	if err != nil {
		return nil, err
	}
	a.DB = conn

	var store cache.Store
	var locker cache.Locker
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		rs := cache.NewRedisStore(rdb, log)
		store, locker = rs, rs
		log.Info("Using Redis cache", zap.String("addr", cfg.Redis.Addr))
	} else {
		ms := cache.NewMemoryStore()
		store, locker = ms, ms
		log.Warn("REDIS_ADDR not set, using in-memory cache and locks")
	}

	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Prefetch, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Queue = q
	} else {
		a.Queue = queue.NewInMemoryQueue(log, cfg.Send.Concurrency)
		a.InProcessQueue = true
		log.Warn("AMQP_URL not set, deliveries are processed in-process")
	}

	sender, err := newSender(cfg.Email, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	newsletters := &service.NewsletterService{
		NewsletterRepo: &repository.NewsletterRepository{DB: conn},
		CompanyRepo:    &repository.CompanyRepository{DB: conn},
		Cache:          store,
		Locker:         locker,
		CacheTTL:       cfg.CacheTTL,
		Log:            log,
	}
	if err := attachModels(ctx, cfg, log, newsletters); err != nil {
		a.Close()
		return nil, err
	}
	a.Newsletters = newsletters

	limit := rate.Inf
	if cfg.Send.RatePerSecond > 0 {
		limit = rate.Limit(cfg.Send.RatePerSecond)
	}
	a.Deliveries = &service.DeliveryService{
		NewsletterRepo: newsletters.NewsletterRepo,
		ContactRepo:    &repository.ContactRepository{DB: conn},
		DeliveryRepo:   &repository.DeliveryRepository{DB: conn},
		Renderer:       newsletters,
		Sender:         sender,
		Queue:          a.Queue,
		Cache:          store,
		Limiter:        rate.NewLimiter(limit, cfg.Send.Concurrency),
		MaxAttempts:    cfg.Send.MaxAttempts,
		BaseBackoff:    cfg.Send.BaseBackoff,
		ClaimTTL:       cfg.Send.ClaimTTL,
		StaleAfter:     cfg.Send.StaleAfter,
		Log:            log,
	}
	return a, nil
}

func newSender(cfg config.EmailConfig, log *zap.Logger) (email.Sender, error) {
	if cfg.PostmarkServerToken == "" {
		log.Warn("POSTMARK_SERVER_TOKEN not set, emails are written to disk", zap.String("dir", cfg.DevDir))
		return email.NewDevSender(cfg.DevDir), nil
	}
	return email.NewPostmarkSender(cfg)
}

// attachModels sets the text and image backends that have credentials.
func attachModels(ctx context.Context, cfg *config.Config, log *zap.Logger, s *service.NewsletterService) error {
	if cfg.Anthropic.APIKey != "" {
		text, err := llm.NewClaudeClient(cfg.Anthropic, log)
		if err != nil {
			return err
		}
		s.Text = text
	} else {
		log.Warn("ANTHROPIC_API_KEY not set, newsletter generation is disabled")
	}

	if cfg.Gemini.APIKey == "" || cfg.S3.Bucket == "" {
		log.Warn("GEMINI_API_KEY or S3_BUCKET not set, sections are generated without images")
		return nil
	}
	images, err := llm.NewImagenClient(ctx, cfg.Gemini)
	if err != nil {
		return err
	}
	store, err := storage.NewS3Store(ctx, cfg.S3, nil)
	if err != nil {
		return fmt.Errorf("init image storage: %w", err)
	}
	s.Images = images
	s.ImageStore = store
	return nil
}

// HealthChecks returns the dependency checks served at /healthz.
func (a *App) HealthChecks() map[string]handler.Check {
	checks := map[string]handler.Check{
		"database": a.DB.PingContext,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases every backend in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
