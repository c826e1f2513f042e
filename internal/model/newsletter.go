// internal/model/newsletter.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	NewsletterDraft      = "draft"
	NewsletterGenerating = "generating"
	NewsletterGenerated  = "generated"
	NewsletterSending    = "sending"
	NewsletterSent       = "sent"

	SendStatusSuccess        = "success"
	SendStatusPartialFailure = "partial_failure"
)

// SectionKind identifies one of the three fixed newsletter sections.
type SectionKind string

const (
	SectionPainPoint        SectionKind = "pain_point"
	SectionCommonMistakes   SectionKind = "common_mistakes"
	SectionCompanySolutions SectionKind = "company_solutions"
)

// SectionKinds lists the sections in newsletter order.
var SectionKinds = []SectionKind{SectionPainPoint, SectionCommonMistakes, SectionCompanySolutions}

// Label is the human readable section name.
func (k SectionKind) Label() string {
	switch k {
	case SectionPainPoint:
		return "Pain Point Analysis"
	case SectionCommonMistakes:
		return "Common Mistakes"
	case SectionCompanySolutions:
		return "Company Solutions"
	}
	return string(k)
}

type Section struct {
	NewsletterID uuid.UUID   `db:"newsletter_id" json:"-"`
	Position     int         `db:"position" json:"position"`
	Kind         SectionKind `db:"kind" json:"kind"`
	Title        string      `db:"title" json:"title"`
	Content      string      `db:"content" json:"content"`
	ImagePrompt  string      `db:"image_prompt" json:"image_prompt"`
	ImageURL     string      `db:"image_url" json:"image_url,omitempty"`
}

type Newsletter struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	CompanyID            uuid.UUID  `db:"company_id" json:"company_id"`
	Title                string     `db:"title" json:"title"`
	Status               string     `db:"status" json:"status"`
	IndustrySummary      string     `db:"industry_summary" json:"industry_summary"`
	NewsletterObjectives string     `db:"newsletter_objectives" json:"newsletter_objectives,omitempty"`
	PrimaryCTA           string     `db:"primary_cta" json:"primary_cta,omitempty"`
	GenerationKey        string     `db:"generation_key" json:"-"`
	SentAt               *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	SentCount            int        `db:"sent_count" json:"sent_count"`
	FailedCount          int        `db:"failed_count" json:"failed_count"`
	LastSentStatus       string     `db:"last_sent_status" json:"last_sent_status,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            *time.Time `db:"updated_at" json:"updated_at,omitempty"`

	Sections []Section `json:"sections"`
	Company  *Company  `json:"company,omitempty"`
}

// DefaultTitle is the title given to a company's newsletter at creation.
func DefaultTitle(companyName string) string {
	return companyName + "'s Industry Newsletter"
}
