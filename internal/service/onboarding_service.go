package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-backend/internal/cache"
	"github.com/unclebandit/newsletter-backend/internal/csvimport"
	"github.com/unclebandit/newsletter-backend/internal/db"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

const (
	ImportSuccess = "success"
	ImportPartial = "partial"
	ImportFailed  = "failed"
)

type OnboardInput struct {
	Company    model.Company
	Objectives string
	CTA        string
	// Contacts is an optional CSV of contacts for the newsletter audience.
	Contacts io.Reader
}

type ImportResult struct {
	TotalContacts  int                  `json:"total_contacts"`
	FailedContacts int                  `json:"failed_contacts"`
	Status         string               `json:"status"`
	Rejected       []csvimport.Rejected `json:"-"`
}

type OnboardResult struct {
	CompanyID    uuid.UUID    `json:"company_id"`
	NewsletterID uuid.UUID    `json:"newsletter_id"`
	Contacts     ImportResult `json:"contacts"`
}

// OnboardingService creates companies and imports their contact lists.
// Everything for one request is written in a single transaction.
type OnboardingService struct {
	DB *sql.DB
	// Cache is the store the API reads through. Nil when no shared cache is
	// configured.
	Cache cache.Store
	Log   *zap.Logger
}

func (s *OnboardingService) Onboard(ctx context.Context, in OnboardInput) (*OnboardResult, error) {
	company := in.Company
	if err := validate.Struct(&company); err != nil {
		return nil, appErrors.NewValidation("invalid company: %v", err)
	}

	var parsed *csvimport.Result
	if in.Contacts != nil {
		var err error
		if parsed, err = csvimport.Parse(in.Contacts); err != nil {
			return nil, appErrors.NewValidation("contacts csv: %v", err)
		}
	}

	res := &OnboardResult{}
	err := db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		companies := &repository.CompanyRepository{DB: tx}
		newsletters := &repository.NewsletterRepository{DB: tx}
		contacts := &repository.ContactRepository{DB: tx}

		if err := companies.Create(ctx, &company); err != nil {
			return fmt.Errorf("create company: %w", err)
		}
		n := &model.Newsletter{
			CompanyID:            company.ID,
			Title:                model.DefaultTitle(company.CompanyName),
			NewsletterObjectives: in.Objectives,
			PrimaryCTA:           in.CTA,
		}
		if err := newsletters.Create(ctx, n); err != nil {
			return fmt.Errorf("create newsletter: %w", err)
		}

		res.CompanyID = company.ID
		res.NewsletterID = n.ID
		if parsed == nil {
			res.Contacts = ImportResult{Status: ImportSuccess}
			return nil
		}
		imported, err := importRows(ctx, contacts, company.ID, n.ID, parsed)
		if err != nil {
			return err
		}
		res.Contacts = imported
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, res.NewsletterID, res.CompanyID)

	s.Log.Info("Company onboarded",
		zap.String("company_id", res.CompanyID.String()),
		zap.String("newsletter_id", res.NewsletterID.String()),
		zap.Int("contacts", res.Contacts.TotalContacts),
		zap.Int("failed", res.Contacts.FailedContacts),
	)
	return res, nil
}

// ImportContacts adds the CSV contacts to an existing company and links them
// to the newsletter, which must belong to that company.
func (s *OnboardingService) ImportContacts(ctx context.Context, companyID, newsletterID uuid.UUID, r io.Reader) (*ImportResult, error) {
	parsed, err := csvimport.Parse(r)
	if err != nil {
		return nil, appErrors.NewValidation("contacts csv: %v", err)
	}

	var res ImportResult
	err = db.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		n, err := (&repository.NewsletterRepository{DB: tx}).GetByID(ctx, newsletterID)
		if err != nil {
			return err
		}
		if n.CompanyID != companyID {
			return appErrors.NewValidation("newsletter %s does not belong to company %s", newsletterID, companyID)
		}
		res, err = importRows(ctx, &repository.ContactRepository{DB: tx}, companyID, newsletterID, parsed)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, newsletterID, companyID)

	s.Log.Info("Contacts imported",
		zap.String("newsletter_id", newsletterID.String()),
		zap.Int("contacts", res.TotalContacts),
		zap.Int("failed", res.FailedContacts),
	)
	return &res, nil
}

// invalidate runs after commit so readers never refill the cache from the
// uncommitted state.
func (s *OnboardingService) invalidate(ctx context.Context, newsletterID, companyID uuid.UUID) {
	if s.Cache == nil {
		return
	}
	invalidateNewsletter(ctx, s.Cache, s.Log, newsletterID, companyID)
}

func importRows(ctx context.Context, repo repository.ContactRepositoryInterface, companyID, newsletterID uuid.UUID, parsed *csvimport.Result) (ImportResult, error) {
	for _, row := range parsed.Rows {
		c := &model.Contact{
			CompanyID: companyID,
			Email:     row.Email,
			FirstName: row.FirstName,
			LastName:  row.LastName,
		}
		if err := repo.Upsert(ctx, c); err != nil {
			return ImportResult{}, fmt.Errorf("upsert contact %s: %w", row.Email, err)
		}
		if err := repo.LinkToNewsletter(ctx, newsletterID, c.ID); err != nil {
			return ImportResult{}, fmt.Errorf("link contact %s: %w", row.Email, err)
		}
	}

	res := ImportResult{
		TotalContacts:  len(parsed.Rows),
		FailedContacts: len(parsed.Rejected),
		Rejected:       parsed.Rejected,
	}
	switch {
	case res.FailedContacts == 0:
		res.Status = ImportSuccess
	case res.TotalContacts == 0:
		res.Status = ImportFailed
	default:
		res.Status = ImportPartial
	}
	return res, nil
}
