// internal/service/newsletter_service.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/newsletter-backend/internal/cache"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/llm"
	"github.com/unclebandit/newsletter-backend/internal/metrics"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/render"
	"github.com/unclebandit/newsletter-backend/internal/repository"
	"github.com/unclebandit/newsletter-backend/internal/storage"
)

const (
	defaultLockTTL     = 10 * time.Minute
	defaultCacheTTL    = 5 * time.Minute
	imageTimeout       = 2 * time.Minute
	maxImageGenerators = 3
)

// ErrTextModelUnavailable is returned by Generate when no text model is configured.
var ErrTextModelUnavailable = errors.New("text model is not configured")

type NewsletterService struct {
	NewsletterRepo repository.NewsletterRepositoryInterface
	CompanyRepo    repository.CompanyRepositoryInterface
	Text           llm.TextGenerator
	// Images and ImageStore are optional; without them sections have no image.
	Images     llm.ImageGenerator
	ImageStore storage.ImageStore
	Cache      cache.Store
	Locker     cache.Locker
	CacheTTL   time.Duration
	LockTTL    time.Duration
	Log        *zap.Logger
}

// GenerateResult is the generated content of a newsletter.
type GenerateResult struct {
	NewsletterID    uuid.UUID       `json:"newsletter_id"`
	IndustrySummary string          `json:"industry_summary"`
	Sections        []model.Section `json:"sections"`
	Replayed        bool            `json:"replayed"`
}

// RenderedNewsletter holds the email bodies of a generated newsletter.
type RenderedNewsletter struct {
	NewsletterID uuid.UUID `json:"newsletter_id"`
	Subject      string    `json:"subject"`
	HTML         string    `json:"html"`
	Text         string    `json:"text"`
}

// Generate writes the industry summary and the three sections of a newsletter.
// Repeating a call with the key of the last successful run returns the stored
// content without calling the models again.
func (s *NewsletterService) Generate(ctx context.Context, id uuid.UUID, key string) (*GenerateResult, error) {
	if s.Text == nil {
		return nil, ErrTextModelUnavailable
	}
	if key == "" {
		key = uuid.NewString()
	}
	log := s.Log.With(zap.String("newsletter_id", id.String()), zap.String("idempotency_key", key))

	n, err := s.NewsletterRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == model.NewsletterGenerated && n.GenerationKey == key {
		sections, err := s.NewsletterRepo.ListSections(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load sections: %w", err)
		}
		metrics.IncrementGeneration("replayed")
		log.Info("Generation replayed")
		return &GenerateResult{NewsletterID: id, IndustrySummary: n.IndustrySummary, Sections: sections, Replayed: true}, nil
	}

	release, err := s.Locker.Acquire(ctx, "newsletter:generate:"+id.String(), s.lockTTL())
	if errors.Is(err, cache.ErrLockHeld) {
		return nil, appErrors.NewConflict("generation already in progress")
	}
	if err != nil {
		return nil, fmt.Errorf("acquire generation lock: %w", err)
	}
	defer release()

	// Reload under the lock; a run that just finished changed the row.
	if n, err = s.NewsletterRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	switch n.Status {
	case model.NewsletterSending, model.NewsletterSent:
		return nil, appErrors.NewConflict("newsletter has already been %s", n.Status)
	}

	// Holding the lock means no other run is live, so a generating status was
	// left behind by a crashed run and may be taken over.
	previous, err := s.restoreStatus(ctx, n)
	if err != nil {
		return nil, err
	}
	ok, err := s.NewsletterRepo.TransitionStatus(ctx, id, model.NewsletterGenerating,
		model.NewsletterDraft, model.NewsletterGenerated, model.NewsletterGenerating)
	if err != nil {
		return nil, fmt.Errorf("mark generating: %w", err)
	}
	if !ok {
		return nil, appErrors.NewConflict("generation already in progress")
	}
	s.invalidate(ctx, n)

	result, err := s.generate(ctx, log, n, key)
	if err != nil {
		// The request context may already be cancelled.
		if rerr := s.NewsletterRepo.UpdateStatus(context.WithoutCancel(ctx), id, previous); rerr != nil {
			log.Error("Failed to reset newsletter status", zap.Error(rerr))
		}
		s.invalidate(context.WithoutCancel(ctx), n)
		metrics.IncrementGeneration("failed")
		log.Error("Newsletter generation failed", zap.Error(err))
		return nil, err
	}

	s.invalidate(ctx, n)
	metrics.IncrementGeneration("success")
	log.Info("Newsletter generated", zap.Int("sections", len(result.Sections)))
	return result, nil
}

// restoreStatus is the status a failed generation falls back to.
func (s *NewsletterService) restoreStatus(ctx context.Context, n *model.Newsletter) (string, error) {
	if n.Status != model.NewsletterGenerating {
		return n.Status, nil
	}
	sections, err := s.NewsletterRepo.ListSections(ctx, n.ID)
	if err != nil {
		return "", fmt.Errorf("load sections: %w", err)
	}
	if len(sections) > 0 {
		return model.NewsletterGenerated, nil
	}
	return model.NewsletterDraft, nil
}

func (s *NewsletterService) generate(ctx context.Context, log *zap.Logger, n *model.Newsletter, key string) (*GenerateResult, error) {
	company, err := s.CompanyRepo.GetByID(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}

	summary, err := s.complete(ctx, "industry_summary", summaryPrompt(company))
	if err != nil {
		return nil, fmt.Errorf("industry summary: %w", err)
	}

	sections := make([]model.Section, 0, len(model.SectionKinds))
	for i, kind := range model.SectionKinds {
		reply, err := s.complete(ctx, string(kind), sectionPrompt(kind, company, n, summary))
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", kind, err)
		}
		draft, err := parseSection(reply)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", kind, err)
		}
		sections = append(sections, model.Section{
			NewsletterID: n.ID,
			Position:     i + 1,
			Kind:         kind,
			Title:        draft.Title,
			Content:      draft.Content,
			ImagePrompt:  draft.ImagePrompt,
		})
	}

	// Object keys are scoped to this run so a regenerated image never reuses
	// a URL that CDNs and mail clients have cached.
	s.attachImages(ctx, log, n.ID, uuid.NewString(), sections)

	n.IndustrySummary = summary
	n.Sections = sections
	n.GenerationKey = key
	if err := s.NewsletterRepo.SaveGenerated(ctx, n); err != nil {
		return nil, fmt.Errorf("save generated newsletter: %w", err)
	}

	return &GenerateResult{NewsletterID: n.ID, IndustrySummary: summary, Sections: sections}, nil
}

func (s *NewsletterService) complete(ctx context.Context, step string, p llm.Prompt) (string, error) {
	start := time.Now()
	out, err := s.Text.Complete(ctx, p)
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.RecordLLMCall(step, status, time.Since(start))
	return out, err
}

// attachImages generates and uploads one image per section. Failures leave
// the section without an image.
func (s *NewsletterService) attachImages(ctx context.Context, log *zap.Logger, newsletterID uuid.UUID, generation string, sections []model.Section) {
	if s.Images == nil || s.ImageStore == nil {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxImageGenerators)
	for i := range sections {
		sec := &sections[i]
		g.Go(func() error {
			url, err := s.sectionImage(ctx, newsletterID, generation, sec)
			if err != nil {
				metrics.IncrementImageGeneration("failed")
				log.Warn("Image generation failed", zap.Int("position", sec.Position), zap.Error(err))
				return nil
			}
			metrics.IncrementImageGeneration("success")
			sec.ImageURL = url
			return nil
		})
	}
	_ = g.Wait()
}

func (s *NewsletterService) sectionImage(ctx context.Context, newsletterID uuid.UUID, generation string, sec *model.Section) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, imageTimeout)
	defer cancel()

	img, err := s.Images.GenerateImage(ctx, imageRequest(sec.ImagePrompt))
	if err != nil {
		return "", err
	}
	return s.ImageStore.Upload(ctx, storage.ImageKey(newsletterID.String(), generation, sec.Position, img.MIMEType), img.Data, img.MIMEType)
}

// Get returns the newsletter with its company and sections.
func (s *NewsletterService) Get(ctx context.Context, id uuid.UUID) (*model.Newsletter, error) {
	key := "newsletter:" + id.String()
	var n model.Newsletter
	if s.cached(ctx, key, &n) {
		return &n, nil
	}

	loaded, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, loaded, cache.NewsletterTag(id.String()), cache.CompanyTag(loaded.CompanyID.String()))
	return loaded, nil
}

// Latest returns the most recently created newsletter of a company.
func (s *NewsletterService) Latest(ctx context.Context, companyID uuid.UUID) (*model.Newsletter, error) {
	key := "company:" + companyID.String() + ":latest"
	var n model.Newsletter
	if s.cached(ctx, key, &n) {
		return &n, nil
	}

	latest, err := s.NewsletterRepo.GetLatestForCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	sections, err := s.NewsletterRepo.ListSections(ctx, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	latest.Sections = sections

	s.store(ctx, key, latest, cache.CompanyTag(companyID.String()), cache.NewsletterTag(latest.ID.String()))
	return latest, nil
}

// Rendered returns the email subject and bodies of a generated newsletter.
func (s *NewsletterService) Rendered(ctx context.Context, id uuid.UUID) (*RenderedNewsletter, error) {
	key := "newsletter:" + id.String() + ":rendered"
	var r RenderedNewsletter
	if s.cached(ctx, key, &r) {
		return &r, nil
	}

	n, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !hasContent(n) {
		return nil, appErrors.NewValidation("newsletter has no generated content")
	}

	html, err := render.HTML(n.Company.CompanyName, n.Sections)
	if err != nil {
		return nil, err
	}
	rendered := &RenderedNewsletter{
		NewsletterID: id,
		Subject:      render.Subject(n.Company.CompanyName),
		HTML:         html,
		Text:         render.Text(n.Company.CompanyName, n.Sections),
	}
	s.store(ctx, key, rendered, cache.NewsletterTag(id.String()))
	return rendered, nil
}

func hasContent(n *model.Newsletter) bool {
	switch n.Status {
	case model.NewsletterGenerated, model.NewsletterSending, model.NewsletterSent:
		return len(n.Sections) > 0
	}
	return false
}

func (s *NewsletterService) load(ctx context.Context, id uuid.UUID) (*model.Newsletter, error) {
	n, err := s.NewsletterRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	sections, err := s.NewsletterRepo.ListSections(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load sections: %w", err)
	}
	company, err := s.CompanyRepo.GetByID(ctx, n.CompanyID)
	if err != nil {
		return nil, err
	}
	n.Sections = sections
	n.Company = company
	return n, nil
}

func (s *NewsletterService) cached(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.Cache.Get(ctx, key)
	if err != nil {
		s.Log.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.Log.Warn("Cache entry is corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *NewsletterService) store(ctx context.Context, key string, v any, tags ...string) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	ttl := s.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if err := s.Cache.Set(ctx, key, raw, ttl, tags...); err != nil {
		s.Log.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *NewsletterService) invalidate(ctx context.Context, n *model.Newsletter) {
	invalidateNewsletter(ctx, s.Cache, s.Log, n.ID, n.CompanyID)
}

func invalidateNewsletter(ctx context.Context, store cache.Store, log *zap.Logger, id, companyID uuid.UUID) {
	if err := store.InvalidateTags(ctx, cache.NewsletterTag(id.String()), cache.CompanyTag(companyID.String())); err != nil {
		log.Warn("Cache invalidation failed", zap.String("newsletter_id", id.String()), zap.Error(err))
	}
}

func (s *NewsletterService) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return defaultLockTTL
}
