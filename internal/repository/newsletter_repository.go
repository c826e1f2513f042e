package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-backend/internal/db"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type NewsletterRepositoryInterface interface {
	Create(ctx context.Context, n *model.Newsletter) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Newsletter, error)
	GetLatestForCompany(ctx context.Context, companyID uuid.UUID) (*model.Newsletter, error)
	ListSections(ctx context.Context, newsletterID uuid.UUID) ([]model.Section, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	// TransitionStatus moves the newsletter from one of the given states to
	// the new one and reports whether a row changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, to string, from ...string) (bool, error)
	SaveGenerated(ctx context.Context, n *model.Newsletter) error
	MarkSent(ctx context.Context, id uuid.UUID, stats model.DeliveryStats) error
}

type NewsletterRepository struct {
	DB db.Querier
}

const newsletterColumns = `id, company_id, title, status, industry_summary, newsletter_objectives,
    primary_cta, generation_key, sent_at, sent_count, failed_count, last_sent_status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNewsletter(row rowScanner) (*model.Newsletter, error) {
	var n model.Newsletter
	err := row.Scan(
		&n.ID, &n.CompanyID, &n.Title, &n.Status, &n.IndustrySummary, &n.NewsletterObjectives,
		&n.PrimaryCTA, &n.GenerationKey, &n.SentAt, &n.SentCount, &n.FailedCount, &n.LastSentStatus,
		&n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NewsletterRepository) Create(ctx context.Context, n *model.Newsletter) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Status == "" {
		n.Status = model.NewsletterDraft
	}
	n.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO newsletters (id, company_id, title, status, newsletter_objectives, primary_cta, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `
	_, err := r.DB.ExecContext(ctx, query,
		n.ID, n.CompanyID, n.Title, n.Status, n.NewsletterObjectives, n.PrimaryCTA, n.CreatedAt,
	)
	return err
}

// GetByID returns the newsletter without its sections.
func (r *NewsletterRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Newsletter, error) {
	query := `SELECT ` + newsletterColumns + ` FROM newsletters WHERE id=$1`
	n, err := scanNewsletter(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("newsletter", id.String())
		}
		return nil, err
	}
	return n, nil
}

func (r *NewsletterRepository) GetLatestForCompany(ctx context.Context, companyID uuid.UUID) (*model.Newsletter, error) {
	query := `
        SELECT ` + newsletterColumns + `
        FROM newsletters
        WHERE company_id=$1
        ORDER BY created_at DESC
        LIMIT 1
    `
	n, err := scanNewsletter(r.DB.QueryRowContext(ctx, query, companyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("newsletter for company", companyID.String())
		}
		return nil, err
	}
	return n, nil
}

func (r *NewsletterRepository) ListSections(ctx context.Context, newsletterID uuid.UUID) ([]model.Section, error) {
	query := `
        SELECT newsletter_id, position, kind, title, content, image_prompt, image_url
        FROM newsletter_sections
        WHERE newsletter_id=$1
        ORDER BY position
    `
	rows, err := r.DB.QueryContext(ctx, query, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sections := []model.Section{}
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.NewsletterID, &s.Position, &s.Kind, &s.Title, &s.Content, &s.ImagePrompt, &s.ImageURL); err != nil {
			return nil, err
		}
		sections = append(sections, s)
	}
	return sections, rows.Err()
}

func (r *NewsletterRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE newsletters SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.ExecContext(ctx, query, status, id)
	return err
}

func (r *NewsletterRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to string, from ...string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s: no source states", to)
	}
	args := []any{to, id}
	query := `UPDATE newsletters SET status=$1, updated_at=NOW() WHERE id=$2 AND status IN (`
	for i, s := range from {
		if i > 0 {
			query += ", "
		}
		query += fmt.Sprintf("$%d", i+3)
		args = append(args, s)
	}
	query += ")"

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveGenerated stores the summary, the sections and the generation key in
// one transaction and marks the newsletter generated.
func (r *NewsletterRepository) SaveGenerated(ctx context.Context, n *model.Newsletter) error {
	return inTx(ctx, r.DB, func(q db.Querier) error {
		_, err := q.ExecContext(ctx, `
            UPDATE newsletters
            SET industry_summary=$1, generation_key=$2, status=$3, updated_at=NOW()
            WHERE id=$4
        `, n.IndustrySummary, n.GenerationKey, model.NewsletterGenerated, n.ID)
		if err != nil {
			return fmt.Errorf("update newsletter: %w", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM newsletter_sections WHERE newsletter_id=$1`, n.ID); err != nil {
			return fmt.Errorf("clear sections: %w", err)
		}

		for _, s := range n.Sections {
			_, err := q.ExecContext(ctx, `
                INSERT INTO newsletter_sections (newsletter_id, position, kind, title, content, image_prompt, image_url)
                VALUES ($1, $2, $3, $4, $5, $6, $7)
            `, n.ID, s.Position, s.Kind, s.Title, s.Content, s.ImagePrompt, s.ImageURL)
			if err != nil {
				return fmt.Errorf("insert section %d: %w", s.Position, err)
			}
		}
		n.Status = model.NewsletterGenerated
		return nil
	})
}

// MarkSent records the outcome of a completed send.
func (r *NewsletterRepository) MarkSent(ctx context.Context, id uuid.UUID, stats model.DeliveryStats) error {
	lastStatus := model.SendStatusSuccess
	if stats.Failed > 0 {
		lastStatus = model.SendStatusPartialFailure
	}
	query := `
        UPDATE newsletters
        SET status=$1, sent_at=NOW(), sent_count=$2, failed_count=$3, last_sent_status=$4, updated_at=NOW()
        WHERE id=$5
    `
	_, err := r.DB.ExecContext(ctx, query, model.NewsletterSent, stats.Sent, stats.Failed, lastStatus, id)
	return err
}

var _ NewsletterRepositoryInterface = (*NewsletterRepository)(nil)
