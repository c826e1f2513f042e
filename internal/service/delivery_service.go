// internal/service/delivery_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-backend/internal/cache"
	"github.com/unclebandit/newsletter-backend/internal/email"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/metrics"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// Renderer produces the email bodies of a newsletter.
type Renderer interface {
	Rendered(ctx context.Context, id uuid.UUID) (*RenderedNewsletter, error)
}

type DeliveryService struct {
	NewsletterRepo repository.NewsletterRepositoryInterface
	ContactRepo    repository.ContactRepositoryInterface
	DeliveryRepo   repository.DeliveryRepositoryInterface
	Renderer       Renderer
	Sender         email.Sender
	Queue          queue.Queue
	Cache          cache.Store
	// Limiter is shared by every worker goroutine of the process.
	Limiter     *rate.Limiter
	MaxAttempts int
	BaseBackoff time.Duration
	// ClaimTTL bounds how long a worker owns a delivery before another
	// worker may take it over.
	ClaimTTL time.Duration
	// StaleAfter is how long a pending delivery may wait before RequeueStale
	// publishes it again.
	StaleAfter time.Duration
	Log        *zap.Logger
}

const (
	defaultClaimTTL   = 5 * time.Minute
	defaultStaleAfter = 10 * time.Minute
	sweepBatch        = 500
)

// SendResult struct for Send
type SendResult struct {
	NewsletterID uuid.UUID `json:"newsletter_id"`
	Queued       int       `json:"queued"`
	AlreadySent  int       `json:"already_sent"`
	Failed       int       `json:"failed"`
	// Deferred deliveries could not be published now and are left to RequeueStale.
	Deferred int    `json:"deferred"`
	Status   string `json:"status"`
}

// Send queues one delivery per active contact of the newsletter. Calling it
// again while the newsletter is sending re-queues the deliveries still pending.
func (s *DeliveryService) Send(ctx context.Context, newsletterID uuid.UUID) (*SendResult, error) {
	n, err := s.NewsletterRepo.GetByID(ctx, newsletterID)
	if err != nil {
		return nil, err
	}

	switch n.Status {
	case model.NewsletterGenerated, model.NewsletterSending:
	case model.NewsletterSent:
		return nil, appErrors.NewConflict("newsletter has already been sent")
	default:
		return nil, appErrors.NewValidation("newsletter has no generated content")
	}

	contacts, err := s.ContactRepo.ListForNewsletter(ctx, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	var active []model.Contact
	for _, c := range contacts {
		if c.Sendable() {
			active = append(active, c)
		}
	}
	if len(active) == 0 {
		return nil, appErrors.NewValidation("No active contacts found for this newsletter")
	}

	// Fail before queueing anything when the newsletter cannot be rendered.
	if _, err := s.Renderer.Rendered(ctx, newsletterID); err != nil {
		return nil, err
	}

	result := &SendResult{NewsletterID: newsletterID, Status: model.NewsletterSending}
	var pending []uuid.UUID
	for _, c := range active {
		d, err := s.DeliveryRepo.CreateIfAbsent(ctx, newsletterID, c)
		if err != nil {
			return nil, fmt.Errorf("create delivery for %s: %w", c.Email, err)
		}
		switch d.Status {
		case model.DeliverySent:
			result.AlreadySent++
		case model.DeliveryFailed:
			result.Failed++
		default:
			pending = append(pending, d.ID)
		}
	}

	if n.Status == model.NewsletterGenerated {
		if _, err := s.NewsletterRepo.TransitionStatus(ctx, newsletterID, model.NewsletterSending, model.NewsletterGenerated); err != nil {
			return nil, fmt.Errorf("mark sending: %w", err)
		}
		invalidateNewsletter(ctx, s.Cache, s.Log, n.ID, n.CompanyID)
	}

	if len(pending) == 0 {
		if err := s.finalize(ctx, newsletterID); err != nil {
			return nil, err
		}
		result.Status = model.NewsletterSent
		return result, nil
	}

	// The deliveries are stored; publishing must not depend on the caller
	// staying connected.
	pubCtx := context.WithoutCancel(ctx)
	for _, id := range pending {
		if err := s.Queue.Publish(pubCtx, queue.TopicNewsletterSends, queue.DeliveryJob{DeliveryID: id}); err != nil {
			s.Log.Error("Failed to enqueue delivery, leaving it for the sweeper",
				zap.String("newsletter_id", newsletterID.String()),
				zap.String("delivery_id", id.String()),
				zap.Error(err),
			)
			result.Deferred++
			continue
		}
		result.Queued++
	}

	s.Log.Info("Newsletter send queued",
		zap.String("newsletter_id", newsletterID.String()),
		zap.Int("queued", result.Queued),
		zap.Int("deferred", result.Deferred),
		zap.Int("already_sent", result.AlreadySent),
	)
	return result, nil
}

// HandleJob is the queue subscriber for TopicNewsletterSends.
func (s *DeliveryService) HandleJob(ctx context.Context, body []byte) error {
	job, err := queue.DecodeDeliveryJob(body)
	if err != nil {
		s.Log.Warn("Invalid job", zap.ByteString("body", body), zap.Error(err))
		return nil // no retry
	}
	return s.ProcessDelivery(ctx, job.DeliveryID)
}

// ProcessDelivery claims one delivery, sends it with retries and finalizes
// the newsletter once nothing is left pending. Deliveries that are missing,
// finished or claimed by another worker are skipped. A returned error means
// the delivery is pending again and the job should be retried.
func (s *DeliveryService) ProcessDelivery(ctx context.Context, deliveryID uuid.UUID) error {
	log := s.Log.With(zap.String("delivery_id", deliveryID.String()))

	d, err := s.DeliveryRepo.Claim(ctx, deliveryID, s.claimTTL())
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if d == nil {
		log.Debug("Delivery not claimable, skipping")
		return nil // no retry
	}

	rendered, err := s.Renderer.Rendered(ctx, d.NewsletterID)
	if err != nil {
		s.release(ctx, d.ID, log)
		return fmt.Errorf("render newsletter %s: %w", d.NewsletterID, err)
	}

	params := email.SendParams{
		To:      d.Email,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		Tag:     "newsletter",
	}

	messageID, attempts, sendErr := s.sendWithRetry(ctx, params)
	if sendErr != nil && ctx.Err() != nil {
		// Shutting down; hand the delivery back for redelivery.
		s.release(ctx, d.ID, log)
		return ctx.Err()
	}
	// A sent email must be recorded even if shutdown starts now.
	ctx = context.WithoutCancel(ctx)

	if sendErr != nil {
		err = s.DeliveryRepo.MarkFailed(ctx, d.ID, sendErr.Error(), attempts)
		if err == nil {
			metrics.IncrementEmailSend(model.DeliveryFailed)
			log.Warn("Failed to send newsletter email", zap.String("email", d.Email), zap.Int("attempts", d.Attempts+attempts), zap.Error(sendErr))
		}
	} else {
		err = s.DeliveryRepo.MarkSent(ctx, d.ID, messageID, attempts)
		if err == nil {
			metrics.IncrementEmailSend(model.DeliverySent)
			log.Debug("Newsletter email sent", zap.String("email", d.Email), zap.String("message_id", messageID))
		}
	}
	switch {
	case errors.Is(err, repository.ErrNotClaimed):
		log.Warn("Delivery claim expired before the result was recorded", zap.String("email", d.Email))
	case err != nil:
		return fmt.Errorf("record delivery result: %w", err)
	}

	return s.finalize(ctx, d.NewsletterID)
}

func (s *DeliveryService) release(ctx context.Context, id uuid.UUID, log *zap.Logger) {
	if err := s.DeliveryRepo.Release(context.WithoutCancel(ctx), id); err != nil {
		log.Error("Failed to release delivery", zap.Error(err))
	}
}

func (s *DeliveryService) claimTTL() time.Duration {
	if s.ClaimTTL > 0 {
		return s.ClaimTTL
	}
	return defaultClaimTTL
}

// RequeueStale publishes deliveries of sending newsletters that were never
// picked up, or whose worker died holding the claim. It returns how many
// jobs were published.
func (s *DeliveryService) RequeueStale(ctx context.Context) (int, error) {
	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	ids, err := s.DeliveryRepo.Stale(ctx, staleAfter, sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale deliveries: %w", err)
	}

	queued := 0
	for _, id := range ids {
		if err := s.Queue.Publish(ctx, queue.TopicNewsletterSends, queue.DeliveryJob{DeliveryID: id}); err != nil {
			return queued, fmt.Errorf("requeue delivery %s: %w", id, err)
		}
		queued++
	}
	return queued, nil
}

// RunSweeper calls RequeueStale every interval until ctx is done.
func (s *DeliveryService) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.RequeueStale(ctx)
			if err != nil {
				s.Log.Error("Delivery sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.Log.Info("Requeued stale deliveries", zap.Int("count", n))
			}
		}
	}
}

func (s *DeliveryService) sendWithRetry(ctx context.Context, params email.SendParams) (string, int, error) {
	maxAttempts := s.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if s.Limiter != nil {
			if err := s.Limiter.Wait(ctx); err != nil {
				return "", attempt - 1, err
			}
		}

		metrics.EmailSendAttempts.Inc()
		id, err := s.Sender.Send(ctx, params)
		if err == nil {
			return id, attempt, nil
		}
		lastErr = err
		if email.IsPermanent(err) || attempt == maxAttempts {
			return "", attempt, lastErr
		}

		select {
		case <-time.After(backoff(s.BaseBackoff, attempt)):
		case <-ctx.Done():
			return "", attempt, errors.Join(lastErr, ctx.Err())
		}
	}
	return "", maxAttempts, lastErr
}

// backoff doubles base for every failed attempt.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	return base << (attempt - 1)
}

// finalize records the send outcome once no delivery is pending.
func (s *DeliveryService) finalize(ctx context.Context, newsletterID uuid.UUID) error {
	stats, err := s.DeliveryRepo.Stats(ctx, newsletterID)
	if err != nil {
		return fmt.Errorf("delivery stats: %w", err)
	}
	if stats.Pending > 0 {
		return nil
	}

	n, err := s.NewsletterRepo.GetByID(ctx, newsletterID)
	if err != nil {
		return err
	}
	if n.Status != model.NewsletterSending {
		return nil
	}
	if err := s.NewsletterRepo.MarkSent(ctx, newsletterID, stats); err != nil {
		return fmt.Errorf("mark newsletter sent: %w", err)
	}
	invalidateNewsletter(ctx, s.Cache, s.Log, n.ID, n.CompanyID)

	s.Log.Info("Newsletter send completed",
		zap.String("newsletter_id", newsletterID.String()),
		zap.Int("sent", stats.Sent),
		zap.Int("failed", stats.Failed),
	)
	return nil
}

// Stats returns delivery counts for a newsletter.
func (s *DeliveryService) Stats(ctx context.Context, newsletterID uuid.UUID) (model.DeliveryStats, error) {
	if _, err := s.NewsletterRepo.GetByID(ctx, newsletterID); err != nil {
		return model.DeliveryStats{}, err
	}
	return s.DeliveryRepo.Stats(ctx, newsletterID)
}
