package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-backend/internal/db"
	"github.com/unclebandit/newsletter-backend/internal/model"
)

type DeliveryRepositoryInterface interface {
	CreateIfAbsent(ctx context.Context, newsletterID uuid.UUID, contact model.Contact) (*model.Delivery, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	// Claim moves a pending delivery, or one whose claim lease has run out,
	// to sending. It returns nil, nil when the delivery is missing or owned
	// by another worker.
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*model.Delivery, error)
	// Release returns a claimed delivery to pending.
	Release(ctx context.Context, id uuid.UUID) error
	// MarkSent and MarkFailed only update claimed deliveries and return
	// ErrNotClaimed otherwise.
	MarkSent(ctx context.Context, id uuid.UUID, messageID string, attempts int) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, attempts int) error
	Stats(ctx context.Context, newsletterID uuid.UUID) (model.DeliveryStats, error)
	// Stale touches and returns up to limit deliveries of sending newsletters
	// that no worker has picked up for olderThan, or whose claim expired.
	Stale(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error)
}

// ErrNotClaimed is returned when a delivery is no longer held by the caller.
var ErrNotClaimed = errors.New("delivery is not claimed")

type DeliveryRepository struct {
	DB db.Querier
}

const deliveryColumns = `id, newsletter_id, contact_id, email, status, message_id, last_error, attempts, created_at, updated_at`

func scanDelivery(row rowScanner) (*model.Delivery, error) {
	var d model.Delivery
	err := row.Scan(&d.ID, &d.NewsletterID, &d.ContactID, &d.Email, &d.Status,
		&d.MessageID, &d.LastError, &d.Attempts, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateIfAbsent returns the delivery for (newsletter, contact), inserting a
// pending one on first use.
func (r *DeliveryRepository) CreateIfAbsent(ctx context.Context, newsletterID uuid.UUID, contact model.Contact) (*model.Delivery, error) {
	insert := `
        INSERT INTO newsletter_deliveries (id, newsletter_id, contact_id, email, status, attempts, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 'pending', 0, NOW(), NOW())
        ON CONFLICT (newsletter_id, contact_id) DO NOTHING
    `
	if _, err := r.DB.ExecContext(ctx, insert, uuid.New(), newsletterID, contact.ID, contact.Email); err != nil {
		return nil, err
	}

	query := `SELECT ` + deliveryColumns + ` FROM newsletter_deliveries WHERE newsletter_id=$1 AND contact_id=$2`
	return scanDelivery(r.DB.QueryRowContext(ctx, query, newsletterID, contact.ID))
}

// GetByID returns nil, nil when the delivery does not exist.
func (r *DeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM newsletter_deliveries WHERE id=$1`
	d, err := scanDelivery(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (*model.Delivery, error) {
	query := `
        UPDATE newsletter_deliveries
        SET status='sending', claimed_until=NOW() + make_interval(secs => $2), updated_at=NOW()
        WHERE id=$1
          AND (status='pending' OR (status='sending' AND claimed_until < NOW()))
        RETURNING ` + deliveryColumns
	d, err := scanDelivery(r.DB.QueryRowContext(ctx, query, id, lease.Seconds()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return d, nil
}

func (r *DeliveryRepository) Release(ctx context.Context, id uuid.UUID) error {
	query := `
        UPDATE newsletter_deliveries
        SET status='pending', claimed_until=NULL, updated_at=NOW()
        WHERE id=$1 AND status='sending'
    `
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

func (r *DeliveryRepository) MarkSent(ctx context.Context, id uuid.UUID, messageID string, attempts int) error {
	query := `
        UPDATE newsletter_deliveries
        SET status='sent', message_id=$1, last_error='', attempts=attempts+$2, claimed_until=NULL, updated_at=NOW()
        WHERE id=$3 AND status='sending'
    `
	return execClaimed(r.DB.ExecContext(ctx, query, messageID, attempts, id))
}

func (r *DeliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, attempts int) error {
	query := `
        UPDATE newsletter_deliveries
        SET status='failed', last_error=$1, attempts=attempts+$2, claimed_until=NULL, updated_at=NOW()
        WHERE id=$3 AND status='sending'
    `
	return execClaimed(r.DB.ExecContext(ctx, query, lastError, attempts, id))
}

func execClaimed(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (r *DeliveryRepository) Stats(ctx context.Context, newsletterID uuid.UUID) (model.DeliveryStats, error) {
	query := `SELECT status, COUNT(*) FROM newsletter_deliveries WHERE newsletter_id=$1 GROUP BY status`

	var stats model.DeliveryStats
	rows, err := r.DB.QueryContext(ctx, query, newsletterID)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		switch status {
		case model.DeliveryPending, model.DeliverySending:
			stats.Pending += count
		case model.DeliverySent:
			stats.Sent = count
		case model.DeliveryFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}

func (r *DeliveryRepository) Stale(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	query := `
        UPDATE newsletter_deliveries
        SET updated_at=NOW()
        WHERE id IN (
            SELECT d.id
            FROM newsletter_deliveries d
            JOIN newsletters n ON n.id = d.newsletter_id
            WHERE n.status='sending'
              AND ((d.status='pending' AND d.updated_at < NOW() - make_interval(secs => $1))
                OR (d.status='sending' AND d.claimed_until < NOW()))
            ORDER BY d.created_at
            LIMIT $2
        )
        RETURNING id
    `
	rows, err := r.DB.QueryContext(ctx, query, olderThan.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
