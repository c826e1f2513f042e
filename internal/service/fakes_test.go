package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-backend/internal/email"
	appErrors "github.com/unclebandit/newsletter-backend/internal/errors"
	"github.com/unclebandit/newsletter-backend/internal/llm"
	"github.com/unclebandit/newsletter-backend/internal/model"
	"github.com/unclebandit/newsletter-backend/internal/queue"
	"github.com/unclebandit/newsletter-backend/internal/repository"
)

// MockNewsletterRepo stores newsletters in memory
type MockNewsletterRepo struct {
	mu          sync.Mutex
	newsletters map[uuid.UUID]model.Newsletter
	sections    map[uuid.UUID][]model.Section
	saveErr     error
}

func newMockNewsletterRepo(ns ...model.Newsletter) *MockNewsletterRepo {
	r := &MockNewsletterRepo{
		newsletters: make(map[uuid.UUID]model.Newsletter),
		sections:    make(map[uuid.UUID][]model.Section),
	}
	for _, n := range ns {
		r.newsletters[n.ID] = n
	}
	return r
}

func (m *MockNewsletterRepo) Create(ctx context.Context, n *model.Newsletter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.newsletters[n.ID] = *n
	return nil
}

func (m *MockNewsletterRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return nil, appErrors.NewNotFound("newsletter", id.String())
	}
	return &n, nil
}

func (m *MockNewsletterRepo) GetLatestForCompany(ctx context.Context, companyID uuid.UUID) (*model.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Newsletter
	for _, n := range m.newsletters {
		if n.CompanyID != companyID {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			n := n
			latest = &n
		}
	}
	if latest == nil {
		return nil, appErrors.NewNotFound("newsletter for company", companyID.String())
	}
	return latest, nil
}

func (m *MockNewsletterRepo) ListSections(ctx context.Context, id uuid.UUID) ([]model.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Section{}, m.sections[id]...), nil
}

func (m *MockNewsletterRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.newsletters[id]
	n.Status = status
	m.newsletters[id] = n
	return nil
}

func (m *MockNewsletterRepo) TransitionStatus(ctx context.Context, id uuid.UUID, to string, from ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if n.Status == f {
			n.Status = to
			m.newsletters[id] = n
			return true, nil
		}
	}
	return false, nil
}

func (m *MockNewsletterRepo) SaveGenerated(ctx context.Context, n *model.Newsletter) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.newsletters[n.ID]
	stored.IndustrySummary = n.IndustrySummary
	stored.GenerationKey = n.GenerationKey
	stored.Status = model.NewsletterGenerated
	m.newsletters[n.ID] = stored
	m.sections[n.ID] = append([]model.Section{}, n.Sections...)
	n.Status = model.NewsletterGenerated
	return nil
}

func (m *MockNewsletterRepo) MarkSent(ctx context.Context, id uuid.UUID, stats model.DeliveryStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.newsletters[id]
	now := time.Now()
	n.Status = model.NewsletterSent
	n.SentAt = &now
	n.SentCount = stats.Sent
	n.FailedCount = stats.Failed
	n.LastSentStatus = model.SendStatusSuccess
	if stats.Failed > 0 {
		n.LastSentStatus = model.SendStatusPartialFailure
	}
	m.newsletters[id] = n
	return nil
}

func (m *MockNewsletterRepo) get(id uuid.UUID) model.Newsletter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newsletters[id]
}

type MockCompanyRepo struct {
	companies map[uuid.UUID]model.Company
}

func (m *MockCompanyRepo) Create(ctx context.Context, c *model.Company) error {
	m.companies[c.ID] = *c
	return nil
}

func (m *MockCompanyRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Company, error) {
	c, ok := m.companies[id]
	if !ok {
		return nil, appErrors.NewNotFound("company", id.String())
	}
	return &c, nil
}

type MockContactRepo struct {
	byNewsletter map[uuid.UUID][]model.Contact
}

func (m *MockContactRepo) Upsert(ctx context.Context, c *model.Contact) error { return nil }
func (m *MockContactRepo) LinkToNewsletter(ctx context.Context, newsletterID, contactID uuid.UUID) error {
	return nil
}
func (m *MockContactRepo) ListForNewsletter(ctx context.Context, newsletterID uuid.UUID) ([]model.Contact, error) {
	return m.byNewsletter[newsletterID], nil
}

// MockDeliveryRepo keeps deliveries keyed by id and by (newsletter, contact).
type MockDeliveryRepo struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*model.Delivery
	byPair   map[string]uuid.UUID
	leases   map[uuid.UUID]time.Time
	touched  map[uuid.UUID]time.Time
	released int
}

func newMockDeliveryRepo() *MockDeliveryRepo {
	return &MockDeliveryRepo{
		byID:    make(map[uuid.UUID]*model.Delivery),
		byPair:  make(map[string]uuid.UUID),
		leases:  make(map[uuid.UUID]time.Time),
		touched: make(map[uuid.UUID]time.Time),
	}
}

func (m *MockDeliveryRepo) CreateIfAbsent(ctx context.Context, newsletterID uuid.UUID, c model.Contact) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := newsletterID.String() + "/" + c.ID.String()
	if id, ok := m.byPair[key]; ok {
		d := *m.byID[id]
		return &d, nil
	}
	d := &model.Delivery{ID: uuid.New(), NewsletterID: newsletterID, ContactID: c.ID, Email: c.Email, Status: model.DeliveryPending}
	m.byID[d.ID] = d
	m.byPair[key] = d.ID
	cp := *d
	return &cp, nil
}

func (m *MockDeliveryRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (m *MockDeliveryRepo) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*model.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	expired := d.Status == model.DeliverySending && m.leases[id].Before(time.Now())
	if d.Status != model.DeliveryPending && !expired {
		return nil, nil
	}
	d.Status = model.DeliverySending
	m.leases[id] = time.Now().Add(lease)
	cp := *d
	return &cp, nil
}

func (m *MockDeliveryRepo) Release(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.byID[id]; d != nil && d.Status == model.DeliverySending {
		d.Status = model.DeliveryPending
		delete(m.leases, id)
		m.released++
	}
	return nil
}

func (m *MockDeliveryRepo) MarkSent(ctx context.Context, id uuid.UUID, messageID string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.byID[id]
	if d == nil || d.Status != model.DeliverySending {
		return repository.ErrNotClaimed
	}
	d.Status, d.MessageID, d.LastError = model.DeliverySent, messageID, ""
	d.Attempts += attempts
	delete(m.leases, id)
	return nil
}

func (m *MockDeliveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.byID[id]
	if d == nil || d.Status != model.DeliverySending {
		return repository.ErrNotClaimed
	}
	d.Status, d.LastError = model.DeliveryFailed, lastError
	d.Attempts += attempts
	delete(m.leases, id)
	return nil
}

// Stale reports pending deliveries untouched for olderThan and deliveries
// whose lease expired. Newsletter status is not checked.
func (m *MockDeliveryRepo) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, d := range m.byID {
		if len(ids) == limit {
			break
		}
		pending := d.Status == model.DeliveryPending && time.Since(m.touched[id]) >= olderThan
		expired := d.Status == model.DeliverySending && m.leases[id].Before(time.Now())
		if pending || expired {
			m.touched[id] = time.Now()
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// expireLease makes the claim on id look abandoned.
func (m *MockDeliveryRepo) expireLease(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[id] = time.Now().Add(-time.Second)
}

func (m *MockDeliveryRepo) get(id uuid.UUID) model.Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *MockDeliveryRepo) Stats(ctx context.Context, newsletterID uuid.UUID) (model.DeliveryStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s model.DeliveryStats
	for _, d := range m.byID {
		if d.NewsletterID != newsletterID {
			continue
		}
		s.Total++
		switch d.Status {
		case model.DeliveryPending, model.DeliverySending:
			s.Pending++
		case model.DeliverySent:
			s.Sent++
		case model.DeliveryFailed:
			s.Failed++
		}
	}
	return s, nil
}

// MockText answers section prompts with JSON and everything else with a summary.
type MockText struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (m *MockText) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.failOn != "" && strings.Contains(p.User, m.failOn) {
		return "", errors.New("model unavailable")
	}
	for _, kind := range model.SectionKinds {
		if strings.Contains(p.User, fmt.Sprintf("%q", kind.Label())) {
			return fmt.Sprintf(`{"title": "# %s headline", "content": "Intro\n- point\nThe Takeaway: act", "image_prompt": "%s scene"}`,
				kind.Label(), kind), nil
		}
	}
	return "- Trend one\n- Trend two", nil
}

func (m *MockText) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type MockImages struct {
	failOn string
}

func (m *MockImages) GenerateImage(ctx context.Context, prompt string) (*llm.Image, error) {
	if m.failOn != "" && strings.Contains(prompt, m.failOn) {
		return nil, llm.ErrImageFiltered
	}
	return &llm.Image{Data: []byte("png"), MIMEType: "image/png"}, nil
}

type MockImageStore struct {
	mu   sync.Mutex
	keys []string
}

func (m *MockImageStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return "https://cdn.test/" + key, nil
}

// MockSender fails the first n sends to an address with the configured error.
type MockSender struct {
	mu       sync.Mutex
	failures map[string]int
	errs     map[string]error
	sent     []string
	calls    map[string]int
	// gate, when set, holds every send until it is closed.
	gate chan struct{}
}

func newMockSender() *MockSender {
	return &MockSender{failures: map[string]int{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (m *MockSender) failWith(to string, times int, err error) {
	m.failures[to] = times
	m.errs[to] = err
}

func (m *MockSender) Send(ctx context.Context, p email.SendParams) (string, error) {
	m.mu.Lock()
	m.calls[p.To]++
	gate := m.gate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[p.To] > 0 {
		m.failures[p.To]--
		return "", m.errs[p.To]
	}
	m.sent = append(m.sent, p.To)
	return "msg-" + p.To, nil
}

func (m *MockSender) callCount(to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[to]
}

func (m *MockSender) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// MockQueue records published delivery jobs.
type MockQueue struct {
	mu   sync.Mutex
	jobs []queue.DeliveryJob
	err  error
}

func (m *MockQueue) Publish(ctx context.Context, topic string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	job, ok := payload.(queue.DeliveryJob)
	if !ok {
		return fmt.Errorf("unexpected payload %T", payload)
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *MockQueue) Subscribe(topic string, handler queue.Handler) error { return nil }
func (m *MockQueue) Close() error                                        { return nil }
