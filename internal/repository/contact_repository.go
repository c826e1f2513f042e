package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

// ContactRepositoryInterface defines methods used by services
type ContactRepositoryInterface interface {
	Upsert(ctx context.Context, c *model.Contact) error
	LinkToNewsletter(ctx context.Context, newsletterID, contactID uuid.UUID) error
	ListForNewsletter(ctx context.Context, newsletterID uuid.UUID) ([]model.Contact, error)
}

type ContactRepository struct {
	DB db.Querier
}

// Upsert inserts the contact or refreshes the names of an existing one with
// the same company and email. c.ID is set to the stored row's id.
func (r *ContactRepository) Upsert(ctx context.Context, c *model.Contact) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.ContactActive
	}
	c.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO contacts (id, company_id, email, first_name, last_name, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (company_id, email) DO UPDATE
        SET first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), contacts.first_name),
            last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), contacts.last_name),
            updated_at = NOW()
        RETURNING id, status
    `
	return r.DB.QueryRowContext(ctx, query,
		c.ID, c.CompanyID, c.Email, c.FirstName, c.LastName, c.Status, c.CreatedAt,
	).Scan(&c.ID, &c.Status)
}

// LinkToNewsletter adds the contact to the newsletter audience. Repeated links are ignored.
func (r *ContactRepository) LinkToNewsletter(ctx context.Context, newsletterID, contactID uuid.UUID) error {
	query := `
        INSERT INTO newsletter_contacts (newsletter_id, contact_id, created_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT DO NOTHING
    `
	_, err := r.DB.ExecContext(ctx, query, newsletterID, contactID)
	return err
}

// ListForNewsletter returns every contact linked to the newsletter, in link order.
func (r *ContactRepository) ListForNewsletter(ctx context.Context, newsletterID uuid.UUID) ([]model.Contact, error) {
	query := `
        SELECT c.id, c.company_id, c.email, c.first_name, c.last_name, c.status, c.created_at, c.updated_at
        FROM newsletter_contacts nc
        JOIN contacts c ON c.id = nc.contact_id
        WHERE nc.newsletter_id = $1
        ORDER BY nc.created_at, c.email
    `
	rows, err := r.DB.QueryContext(ctx, query, newsletterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Email, &c.FirstName, &c.LastName, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
