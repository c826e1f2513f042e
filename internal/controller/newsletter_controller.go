// internal/controller/newsletter_controller.go
package controller

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/handler"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/service"
)

// IdempotencyKeyHeader names the request header carrying the generation key.
const IdempotencyKeyHeader = "Idempotency-Key"

type NewsletterReader interface {
	Generate(ctx context.Context, id uuid.UUID, key string) (*service.GenerateResult, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Newsletter, error)
	Latest(ctx context.Context, companyID uuid.UUID) (*model.Newsletter, error)
	Rendered(ctx context.Context, id uuid.UUID) (*service.RenderedNewsletter, error)
}

type NewsletterSender interface {
	Send(ctx context.Context, id uuid.UUID) (*service.SendResult, error)
	Stats(ctx context.Context, id uuid.UUID) (model.DeliveryStats, error)
}

type NewsletterController struct {
	Newsletters NewsletterReader
	Deliveries  NewsletterSender
	Log         *zap.Logger
}

// Routes mounts the newsletter API on r.
func (c *NewsletterController) Routes(r chi.Router) {
	r.Route("/newsletters/{id}", func(r chi.Router) {
		r.Get("/", c.GetNewsletter)
		r.Post("/generate", c.Generate)
		r.Get("/preview", c.Preview)
		r.Post("/send", c.Send)
		r.Get("/deliveries", c.DeliveryStats)
	})
	r.Get("/companies/{id}/latest-newsletter", c.LatestForCompany)
}

func (c *NewsletterController) Generate(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r, "newsletter")
	if !ok {
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > 255 {
		handler.Error(w, r, c.Log, appErrors.NewValidation("%s header is too long", IdempotencyKeyHeader))
		return
	}

	result, err := c.Newsletters.Generate(r.Context(), id, key)
	if err != nil {
		handler.Error(w, r, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, result)
}

func (c *NewsletterController) GetNewsletter(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r, "newsletter")
	if !ok {
		return
	}
	n, err := c.Newsletters.Get(r.Context(), id)
	if err != nil {
		handler.Error(w, r, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, n)
}

func (c *NewsletterController) Preview(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r, "newsletter")
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "html"
	}
	if format != "html" && format != "text" {
		handler.Error(w, r, c.Log, appErrors.NewValidation("format must be html or text"))
		return
	}

	rendered, err := c.Newsletters.Rendered(r.Context(), id)
	if err != nil {
		handler.Error(w, r, c.Log, err)
		return
	}

	if format == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(rendered.Text))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(rendered.HTML))
}

func (c *NewsletterController) Send(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r, "newsletter")
	if !ok {
		return
	}
	result, err := c.Deliveries.Send(r.Context(), id)
	if err != nil {
		handler.Error(w, r, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusAccepted, result)
}

func (c *NewsletterController) DeliveryStats(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r, "newsletter")
	if !ok {
		return
	}
	stats, err := c.Deliveries.Stats(r.Context(), id)
	if err != nil {
		handler.Error(w, r, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, stats)
}

func (c *NewsletterController) LatestForCompany(w http.ResponseWriter, r *http.Request) {
	id, ok := c.pathID(w, r, "company")
	if !ok {
		return
	}
	n, err := c.Newsletters.Latest(r.Context(), id)
	if err != nil {
		handler.Error(w, r, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, n)
}

func (c *NewsletterController) pathID(w http.ResponseWriter, r *http.Request, entity string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		handler.Error(w, r, c.Log, appErrors.NewValidation("invalid %s id %q", entity, raw))
		return uuid.Nil, false
	}
	return id, true
}
