// internal/model/contact.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ContactActive       = "active"
	ContactUnsubscribed = "unsubscribed"
)

type Contact struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	CompanyID uuid.UUID  `db:"company_id" json:"company_id"`
	Email     string     `db:"email" json:"email"`
	FirstName string     `db:"first_name" json:"first_name,omitempty"`
	LastName  string     `db:"last_name" json:"last_name,omitempty"`
	Status    string     `db:"status" json:"status"` // active, unsubscribed
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Sendable reports whether the contact should receive newsletters.
func (c *Contact) Sendable() bool {
	return c.Email != "" && c.Status != ContactUnsubscribed
}
