package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/newsletter-backend/internal/cache"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

func newOnboarding(t *testing.T) (*OnboardingService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &OnboardingService{DB: db, Log: zap.NewNop()}, mock
}

func acme() model.Company {
	return model.Company{CompanyName: "Acme", Industry: "Logistics", ContactEmail: "ops@acme.io"}
}

func expectContact(mock sqlmock.Sqlmock, email string) {
	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), email, sqlmock.AnyArg(), sqlmock.AnyArg(), model.ContactActive, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow(uuid.NewString(), model.ContactActive))
	mock.ExpectExec("INSERT INTO newsletter_contacts").WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestOnboard_CreatesEverythingInOneTransaction(t *testing.T) {
	svc, mock := newOnboarding(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletters").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "Acme's Industry Newsletter", model.NewsletterDraft,
			"Grow signups", "Book a demo", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectContact(mock, "ann@x.io")
	expectContact(mock, "bob@x.io")
	mock.ExpectCommit()

	csv := "email,name\nAnn@x.io,Ann Lee\nnot-an-email,Nobody\nbob@x.io,Bob\n"
	res, err := svc.Onboard(context.Background(), OnboardInput{
		Company:    acme(),
		Objectives: "Grow signups",
		CTA:        "Book a demo",
		Contacts:   strings.NewReader(csv),
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, res.CompanyID)
	assert.NotEqual(t, uuid.Nil, res.NewsletterID)
	assert.Equal(t, 2, res.Contacts.TotalContacts)
	assert.Equal(t, 1, res.Contacts.FailedContacts)
	assert.Equal(t, ImportPartial, res.Contacts.Status)
}

func TestOnboard_WithoutContacts(t *testing.T) {
	svc, mock := newOnboarding(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletters").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.Onboard(context.Background(), OnboardInput{Company: acme()})
	require.NoError(t, err)
	assert.Equal(t, ImportSuccess, res.Contacts.Status)
	assert.Zero(t, res.Contacts.TotalContacts)
}

func TestOnboard_RejectsInvalidCompany(t *testing.T) {
	svc, _ := newOnboarding(t)

	c := acme()
	c.ContactEmail = "nope"
	_, err := svc.Onboard(context.Background(), OnboardInput{Company: c})

	var validation *appErrors.ErrValidation
	assert.ErrorAs(t, err, &validation)
}

func TestOnboard_RollsBackOnFailure(t *testing.T) {
	svc, mock := newOnboarding(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletters").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.Onboard(context.Background(), OnboardInput{Company: acme()})
	assert.ErrorContains(t, err, "create newsletter")
}

func TestOnboard_AllRowsRejected(t *testing.T) {
	svc, mock := newOnboarding(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletters").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.Onboard(context.Background(), OnboardInput{
		Company:  acme(),
		Contacts: strings.NewReader("email\nbroken\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, ImportFailed, res.Contacts.Status)
	assert.Equal(t, 1, res.Contacts.FailedContacts)
}

func newsletterRow(id, companyID uuid.UUID) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "company_id", "title", "status", "industry_summary", "newsletter_objectives",
		"primary_cta", "generation_key", "sent_at", "sent_count", "failed_count", "last_sent_status",
		"created_at", "updated_at",
	}).AddRow(id.String(), companyID.String(), "Acme's Industry Newsletter", model.NewsletterDraft, "", "", "", "",
		nil, 0, 0, "", time.Now(), nil)
}

func TestImportContacts_LinksToNewsletter(t *testing.T) {
	svc, mock := newOnboarding(t)
	companyID, newsletterID := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM newsletters WHERE id=\\$1").
		WithArgs(newsletterID).
		WillReturnRows(newsletterRow(newsletterID, companyID))
	expectContact(mock, "cy@x.io")
	mock.ExpectCommit()

	res, err := svc.ImportContacts(context.Background(), companyID, newsletterID, strings.NewReader("email\ncy@x.io\n"))
	require.NoError(t, err)
	assert.Equal(t, ImportSuccess, res.Status)
	assert.Equal(t, 1, res.TotalContacts)
}

func TestImportContacts_WrongCompany(t *testing.T) {
	svc, mock := newOnboarding(t)
	newsletterID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM newsletters WHERE id=\\$1").
		WillReturnRows(newsletterRow(newsletterID, uuid.New()))
	mock.ExpectRollback()

	_, err := svc.ImportContacts(context.Background(), uuid.New(), newsletterID, strings.NewReader("email\ncy@x.io\n"))
	var validation *appErrors.ErrValidation
	assert.ErrorAs(t, err, &validation)
}

func TestImportContacts_MissingNewsletter(t *testing.T) {
	svc, mock := newOnboarding(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM newsletters WHERE id=\\$1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.ImportContacts(context.Background(), uuid.New(), uuid.New(), strings.NewReader("email\ncy@x.io\n"))
	var notFound *appErrors.ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestOnboard_InvalidatesCompanyCacheAfterCommit(t *testing.T) {
	svc, mock := newOnboarding(t)
	store := cache.NewMemoryStore()
	svc.Cache = store
	ctx := context.Background()

	company := acme()
	company.ID = uuid.New()
	require.NoError(t, store.Set(ctx, "latest", []byte("{}"), time.Hour, cache.CompanyTag(company.ID.String())))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO companies").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO newsletters").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.Onboard(ctx, OnboardInput{Company: company})
	require.NoError(t, err)
	assert.Equal(t, company.ID, res.CompanyID)

	_, ok, err := store.Get(ctx, "latest")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImportContacts_InvalidatesNewsletterCache(t *testing.T) {
	svc, mock := newOnboarding(t)
	store := cache.NewMemoryStore()
	svc.Cache = store
	ctx := context.Background()
	companyID, newsletterID := uuid.New(), uuid.New()

	require.NoError(t, store.Set(ctx, "company", []byte("{}"), time.Hour, cache.CompanyTag(companyID.String())))
	require.NoError(t, store.Set(ctx, "newsletter", []byte("{}"), time.Hour, cache.NewsletterTag(newsletterID.String())))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM newsletters WHERE id=\\$1").
		WillReturnRows(newsletterRow(newsletterID, companyID))
	expectContact(mock, "cy@x.io")
	mock.ExpectCommit()

	_, err := svc.ImportContacts(ctx, companyID, newsletterID, strings.NewReader("email\ncy@x.io\n"))
	require.NoError(t, err)

	for _, key := range []string{"company", "newsletter"} {
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestImportContacts_KeepsCacheOnRollback(t *testing.T) {
	svc, mock := newOnboarding(t)
	store := cache.NewMemoryStore()
	svc.Cache = store
	ctx := context.Background()
	companyID := uuid.New()

	require.NoError(t, store.Set(ctx, "company", []byte("{}"), time.Hour, cache.CompanyTag(companyID.String())))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM newsletters WHERE id=\\$1").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.ImportContacts(ctx, companyID, uuid.New(), strings.NewReader("email\ncy@x.io\n"))
	require.Error(t, err)

	_, ok, _ := store.Get(ctx, "company")
	assert.True(t, ok)
}
