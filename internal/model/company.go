// internal/model/company.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const DefaultTargetAudience = "General Audience"

type Company struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	CompanyName         string     `db:"company_name" json:"company_name" validate:"required,max=200"`
	Industry            string     `db:"industry" json:"industry" validate:"required,max=200"`
	WebsiteURL          string     `db:"website_url" json:"website_url,omitempty" validate:"omitempty,url"`
	ContactEmail        string     `db:"contact_email" json:"contact_email" validate:"required,email"`
	PhoneNumber         string     `db:"phone_number" json:"phone_number,omitempty" validate:"omitempty,max=40"`
	TargetAudience      string     `db:"target_audience" json:"target_audience"`
	AudienceDescription string     `db:"audience_description" json:"audience_description,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Audience returns the target audience, falling back to the default.
func (c *Company) Audience() string {
	if c.TargetAudience == "" {
		return DefaultTargetAudience
	}
	return c.TargetAudience
}
