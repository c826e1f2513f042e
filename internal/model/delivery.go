// internal/model/delivery.go
package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	DeliveryPending = "pending"
	// DeliverySending marks a delivery claimed by a worker until its lease ends.
	DeliverySending = "sending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

// Delivery is one newsletter email addressed to one contact.
type Delivery struct {
	ID           uuid.UUID `db:"id" json:"id"`
	NewsletterID uuid.UUID `db:"newsletter_id" json:"newsletter_id"`
	ContactID    uuid.UUID `db:"contact_id" json:"contact_id"`
	Email        string    `db:"email" json:"email"`
	Status       string    `db:"status" json:"status"` // pending, sending, sent, failed
	MessageID    string    `db:"message_id" json:"message_id,omitempty"`
	LastError    string    `db:"last_error" json:"last_error,omitempty"`
	Attempts     int       `db:"attempts" json:"attempts"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DeliveryStats counts deliveries of one newsletter by status. Pending
// includes deliveries a worker is sending right now.
type DeliveryStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}
