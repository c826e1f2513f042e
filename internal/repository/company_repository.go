package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-backend/internal/db"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type CompanyRepositoryInterface interface {
	Create(ctx context.Context, c *model.Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Company, error)
}

type CompanyRepository struct {
	DB db.Querier
}

const companyColumns = `id, company_name, industry, website_url, contact_email, phone_number,
    target_audience, audience_description, created_at, updated_at`

func (r *CompanyRepository) Create(ctx context.Context, c *model.Company) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.TargetAudience == "" {
		c.TargetAudience = model.DefaultTargetAudience
	}
	c.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO companies (` + companyColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)
    `
	_, err := r.DB.ExecContext(ctx, query,
		c.ID, c.CompanyName, c.Industry, c.WebsiteURL, c.ContactEmail, c.PhoneNumber,
		c.TargetAudience, c.AudienceDescription, c.CreatedAt,
	)
	return err
}

func (r *CompanyRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id=$1`

	var c model.Company
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.CompanyName, &c.Industry, &c.WebsiteURL, &c.ContactEmail, &c.PhoneNumber,
		&c.TargetAudience, &c.AudienceDescription, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("company", id.String())
		}
		return nil, err
	}
	return &c, nil
}

var _ CompanyRepositoryInterface = (*CompanyRepository)(nil)
